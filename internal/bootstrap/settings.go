package bootstrap

import (
	"fmt"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/config"
	"github.com/shopspring/decimal"
)

// Settings converts the loaded valuation configuration into engine settings
func Settings(cfg config.ValuationConfig) (appval.Settings, error) {
	settings := appval.DefaultSettings()

	policy, err := appval.ParseShortagePolicy(cfg.ShortagePolicy)
	if err != nil {
		return settings, fmt.Errorf("valuation.shortage_policy: %w", err)
	}
	mode, err := valuation.ParseNegativeBalanceMode(cfg.NegativeBalanceMode)
	if err != nil {
		return settings, fmt.Errorf("valuation.negative_balance_mode: %w", err)
	}

	settings.ShortagePolicy = policy
	settings.NegativeBalance = valuation.NegativeBalancePolicy{
		Mode:      mode,
		Tolerance: decimal.NewFromFloat(cfg.NegativeBalanceTolerance),
	}
	settings.Retry = appval.RetryPolicy{
		MaxRetries: cfg.DeadlockMaxRetries,
		BaseDelay:  cfg.DeadlockBaseDelay,
		MaxDelay:   cfg.DeadlockMaxDelay,
	}
	settings.Serializable = cfg.Serializable
	if cfg.RoundingEpsilon > 0 {
		settings.RoundingEpsilon = decimal.NewFromFloat(cfg.RoundingEpsilon)
	}
	if cfg.SiblingWindow > 0 {
		settings.SiblingWindow = cfg.SiblingWindow
	}
	if cfg.BackfillLimit > 0 {
		settings.BackfillLimit = cfg.BackfillLimit
	}
	if cfg.JobLockTTL > 0 {
		settings.JobLockTTL = cfg.JobLockTTL
	}
	return settings, nil
}
