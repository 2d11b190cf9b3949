package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NegativeBalanceMode selects how a would-be negative warehouse balance is handled
type NegativeBalanceMode string

const (
	ModeStrict   NegativeBalanceMode = "strict"
	ModeWarning  NegativeBalanceMode = "warning"
	ModeDisabled NegativeBalanceMode = "disabled"
)

// ParseNegativeBalanceMode parses a configured mode
func ParseNegativeBalanceMode(s string) (NegativeBalanceMode, error) {
	switch m := NegativeBalanceMode(s); m {
	case ModeStrict, ModeWarning, ModeDisabled:
		return m, nil
	}
	return "", fmt.Errorf("invalid negative balance mode %q (want strict, warning or disabled)", s)
}

// DefaultTolerance is the default negative-balance tolerance in units
var DefaultTolerance = decimal.NewFromFloat(0.01)

// NegativeBalancePolicy decides whether a consuming layer may drive its
// warehouse balance below zero
type NegativeBalancePolicy struct {
	Mode      NegativeBalanceMode
	Tolerance decimal.Decimal
}

// BalanceOutcome is the result category of a balance check
type BalanceOutcome string

const (
	BalanceOK      BalanceOutcome = "ok"
	BalanceSkipped BalanceOutcome = "skipped"
	BalanceWarned  BalanceOutcome = "warned"
	BalanceBlocked BalanceOutcome = "blocked"
)

// BalanceCheck is the explicit result of evaluating the policy for one layer
type BalanceCheck struct {
	Outcome         BalanceOutcome
	Scope           Scope
	AvailableBefore decimal.Decimal
	AvailableAfter  decimal.Decimal
	Quantity        decimal.Decimal
	Shortfall       decimal.Decimal
	SkipReason      string
}

// Violated reports whether the balance went past tolerance
func (c BalanceCheck) Violated() bool {
	return c.Outcome == BalanceWarned || c.Outcome == BalanceBlocked
}

// Evaluate checks a layer against the balance available at its scope
// immediately before it. Incoming layers and returns are never checked.
func (p NegativeBalancePolicy) Evaluate(l *ValuationLayer, availableBefore decimal.Decimal) BalanceCheck {
	check := BalanceCheck{
		Outcome:         BalanceOK,
		Scope:           l.Scope(),
		AvailableBefore: availableBefore,
		AvailableAfter:  availableBefore.Add(l.Quantity),
		Quantity:        l.Quantity,
		Shortfall:       decimal.Zero,
	}
	switch {
	case p.Mode == ModeDisabled:
		check.Outcome, check.SkipReason = BalanceSkipped, "negative balance validation disabled"
		return check
	case !l.IsOutgoing():
		check.Outcome, check.SkipReason = BalanceSkipped, "layer does not consume stock"
		return check
	case l.IsReturn():
		check.Outcome, check.SkipReason = BalanceSkipped, "return movements are reconciled by warehouse matching"
		return check
	}

	if check.AvailableAfter.GreaterThanOrEqual(p.Tolerance.Neg()) {
		return check
	}
	check.Shortfall = check.AvailableAfter.Neg()
	if p.Mode == ModeWarning {
		check.Outcome = BalanceWarned
	} else {
		check.Outcome = BalanceBlocked
	}
	return check
}

// ValidateLayer enforces the per-row invariants on any write to a layer's
// quantity or remaining fields.
func ValidateLayer(l *ValuationLayer, tolerance decimal.Decimal) error {
	if !l.Quantity.IsZero() && !l.HasWarehouse() {
		return NewMissingWarehouseError(l)
	}
	if l.IsOutgoing() {
		if !l.RemainingQuantity.IsZero() || !l.RemainingValue.IsZero() {
			return NewInvariantError(l, "consuming layer carries a remainder")
		}
		return nil
	}
	if l.RemainingQuantity.LessThan(tolerance.Neg()) {
		return NewInvariantError(l, fmt.Sprintf("remaining quantity %s is negative", l.RemainingQuantity))
	}
	if l.RemainingQuantity.GreaterThan(l.Quantity) {
		return NewInvariantError(l, fmt.Sprintf("remaining quantity %s exceeds quantity %s", l.RemainingQuantity, l.Quantity))
	}
	return nil
}
