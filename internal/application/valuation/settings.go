package valuation

import (
	"fmt"
	"time"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/shopspring/decimal"
)

// ShortagePolicy decides what happens when a queue cannot cover an outgoing movement
type ShortagePolicy string

const (
	// ShortageError blocks the movement with a ShortageError
	ShortageError ShortagePolicy = "error"
	// ShortageFallback prices the uncovered quantity at standard cost
	ShortageFallback ShortagePolicy = "fallback"
)

// ParseShortagePolicy parses a configured shortage policy
func ParseShortagePolicy(s string) (ShortagePolicy, error) {
	switch p := ShortagePolicy(s); p {
	case ShortageError, ShortageFallback:
		return p, nil
	}
	return "", fmt.Errorf("invalid shortage policy %q (want error or fallback)", s)
}

// Settings are the process-wide engine parameters
type Settings struct {
	ShortagePolicy  ShortagePolicy
	NegativeBalance valuation.NegativeBalancePolicy
	Retry           RetryPolicy
	Serializable    bool
	RoundingEpsilon decimal.Decimal
	SiblingWindow   time.Duration
	BackfillLimit   int
	JobLockTTL      time.Duration
}

// DefaultSettings returns the engine defaults
func DefaultSettings() Settings {
	return Settings{
		ShortagePolicy: ShortageError,
		NegativeBalance: valuation.NegativeBalancePolicy{
			Mode:      valuation.ModeStrict,
			Tolerance: valuation.DefaultTolerance,
		},
		Retry:           DefaultRetryPolicy(),
		RoundingEpsilon: decimal.NewFromFloat(0.0001),
		SiblingWindow:   72 * time.Hour,
		BackfillLimit:   10000,
		JobLockTTL:      10 * time.Minute,
	}
}
