package valuation

import (
	"fmt"
	"strings"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Error codes raised by the valuation engine
const (
	CodeMissingWarehouse     = "MISSING_WAREHOUSE"
	CodeShortage             = "INSUFFICIENT_STOCK"
	CodeNegativeBalance      = "NEGATIVE_BALANCE"
	CodeLockNotAvailable     = "LOCK_NOT_AVAILABLE"
	CodeDeadlock             = "DEADLOCK_DETECTED"
	CodeSerializationFailure = "SERIALIZATION_FAILURE"
	CodeStaleLayer           = "CONCURRENCY_CONFLICT"
	CodeInvariantViolation   = "INVARIANT_VIOLATION"
	CodeMissingCost          = "MISSING_COST"
)

// Transient concurrency errors. Lock and deadlock errors are retried by the
// application layer; the rest surface to the caller.
var (
	ErrLockNotAvailable = shared.NewDomainError(CodeLockNotAvailable,
		"The stock records are being updated by another operation, please try again")
	ErrDeadlockDetected = shared.NewDomainError(CodeDeadlock,
		"A deadlock was detected while updating stock records")
	ErrSerializationFailure = shared.NewDomainError(CodeSerializationFailure,
		"Concurrent update prevented a serializable transaction from committing, please retry")
	ErrLayerNotFound = shared.NewDomainError("NOT_FOUND", "Valuation layer not found")
)

// WarehouseStock is the available quantity of a product at one warehouse
type WarehouseStock struct {
	WarehouseID uuid.UUID       `json:"warehouse_id"`
	Available   decimal.Decimal `json:"available"`
}

// SplitLine is one leg of a suggested quantity split across warehouses
type SplitLine struct {
	WarehouseID uuid.UUID       `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// SuggestSplit fills the request from the primary warehouse first and then
// from alternatives in the given order. The split may fall short when the
// company as a whole does not hold enough stock.
func SuggestSplit(primary uuid.UUID, requested, primaryAvailable decimal.Decimal, alternatives []WarehouseStock) []SplitLine {
	var split []SplitLine
	need := requested
	if take := decimal.Min(need, primaryAvailable); take.IsPositive() {
		split = append(split, SplitLine{WarehouseID: primary, Quantity: take})
		need = need.Sub(take)
	}
	for _, alt := range alternatives {
		if !need.IsPositive() {
			break
		}
		if take := decimal.Min(need, alt.Available); take.IsPositive() {
			split = append(split, SplitLine{WarehouseID: alt.WarehouseID, Quantity: take})
			need = need.Sub(take)
		}
	}
	return split
}

// ShortageError reports that a warehouse cannot satisfy a requested quantity
type ShortageError struct {
	*shared.DomainError
	ProductID      uuid.UUID
	WarehouseID    uuid.UUID
	Requested      decimal.Decimal
	Available      decimal.Decimal
	Shortage       decimal.Decimal
	Alternatives   []WarehouseStock
	SuggestedSplit []SplitLine
}

// NewShortageError builds a shortage error with an actionable message
func NewShortageError(scope Scope, requested, available decimal.Decimal, alternatives []WarehouseStock) *ShortageError {
	shortage := requested.Sub(available)
	e := &ShortageError{
		ProductID:      scope.ProductID,
		WarehouseID:    scope.WarehouseID,
		Requested:      requested,
		Available:      available,
		Shortage:       shortage,
		Alternatives:   alternatives,
		SuggestedSplit: SuggestSplit(scope.WarehouseID, requested, available, alternatives),
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Insufficient stock for product %s at warehouse %s: needed %s, available %s, shortage %s.",
		scope.ProductID, scope.WarehouseID, requested.String(), available.String(), shortage.String())
	writeAlternatives(&b, alternatives)
	if len(e.SuggestedSplit) > 1 {
		b.WriteString(" Suggested split:")
		for i, s := range e.SuggestedSplit {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s from %s", s.Quantity.String(), s.WarehouseID)
		}
		b.WriteString(".")
	}
	e.DomainError = shared.NewDomainError(CodeShortage, b.String())
	return e
}

// Unwrap exposes the underlying domain error
func (e *ShortageError) Unwrap() error { return e.DomainError }

// NegativeBalanceError reports that a write would drive a warehouse balance below tolerance
type NegativeBalanceError struct {
	*shared.DomainError
	ProductID       uuid.UUID
	WarehouseID     uuid.UUID
	AvailableBefore decimal.Decimal
	Quantity        decimal.Decimal
	Shortfall       decimal.Decimal
	Alternatives    []WarehouseStock
}

// NewNegativeBalanceError builds a negative-balance error with an actionable message
func NewNegativeBalanceError(check BalanceCheck, alternatives []WarehouseStock) *NegativeBalanceError {
	e := &NegativeBalanceError{
		ProductID:       check.Scope.ProductID,
		WarehouseID:     check.Scope.WarehouseID,
		AvailableBefore: check.AvailableBefore,
		Quantity:        check.Quantity,
		Shortfall:       check.Shortfall,
		Alternatives:    alternatives,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Stock of product %s at warehouse %s would go negative: available %s, requested %s, shortfall %s.",
		check.Scope.ProductID, check.Scope.WarehouseID, check.AvailableBefore.String(),
		check.Quantity.Abs().String(), check.Shortfall.String())
	writeAlternatives(&b, alternatives)
	e.DomainError = shared.NewDomainError(CodeNegativeBalance, b.String())
	return e
}

// Unwrap exposes the underlying domain error
func (e *NegativeBalanceError) Unwrap() error { return e.DomainError }

// MissingWarehouseError reports a nonzero layer with no warehouse
type MissingWarehouseError struct {
	*shared.DomainError
	LayerID uuid.UUID
}

// NewMissingWarehouseError builds the error for the given layer
func NewMissingWarehouseError(l *ValuationLayer) *MissingWarehouseError {
	return &MissingWarehouseError{
		DomainError: shared.NewDomainError(CodeMissingWarehouse, fmt.Sprintf(
			"Valuation layer %s (product %s, quantity %s) has no warehouse; run the warehouse backfill before updating it",
			l.ID, l.ProductID, l.Quantity.String())),
		LayerID: l.ID,
	}
}

// Unwrap exposes the underlying domain error
func (e *MissingWarehouseError) Unwrap() error { return e.DomainError }

// MissingCostError reports quantity that no layer covers for a product with
// neither a standard cost nor any earlier receipt to price it from
type MissingCostError struct {
	*shared.DomainError
	ProductID uuid.UUID
	Quantity  decimal.Decimal
}

// NewMissingCostError builds the error for the uncovered quantity
func NewMissingCostError(productID uuid.UUID, quantity decimal.Decimal) *MissingCostError {
	return &MissingCostError{
		DomainError: shared.NewDomainError(CodeMissingCost, fmt.Sprintf(
			"No cost basis for %s units of product %s; set a standard cost or post a receipt first",
			quantity.String(), productID)),
		ProductID: productID,
		Quantity:  quantity,
	}
}

// Unwrap exposes the underlying domain error
func (e *MissingCostError) Unwrap() error { return e.DomainError }

// StaleLayerError reports that a locked layer no longer matches what was observed before locking
type StaleLayerError struct {
	*shared.DomainError
	LayerID  uuid.UUID
	Observed decimal.Decimal
	Actual   decimal.Decimal
}

// NewStaleLayerError builds the error for a mismatched layer
func NewStaleLayerError(layerID uuid.UUID, observed, actual decimal.Decimal) *StaleLayerError {
	return &StaleLayerError{
		DomainError: shared.NewDomainError(CodeStaleLayer, fmt.Sprintf(
			"Valuation layer %s was modified concurrently (remaining %s, expected %s); reload and try again",
			layerID, actual.String(), observed.String())),
		LayerID:  layerID,
		Observed: observed,
		Actual:   actual,
	}
}

// Unwrap exposes the underlying domain error
func (e *StaleLayerError) Unwrap() error { return e.DomainError }

// NewInvariantError reports a layer whose remainder is out of bounds
func NewInvariantError(l *ValuationLayer, detail string) *shared.DomainError {
	return shared.NewDomainError(CodeInvariantViolation, fmt.Sprintf(
		"Valuation layer %s violates ledger invariants: %s", l.ID, detail))
}

func writeAlternatives(b *strings.Builder, alternatives []WarehouseStock) {
	if len(alternatives) == 0 {
		b.WriteString(" No other warehouse holds this product.")
		return
	}
	b.WriteString(" Available elsewhere:")
	for i, alt := range alternatives {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(b, " %s at %s", alt.Available.String(), alt.WarehouseID)
	}
	b.WriteString(".")
}
