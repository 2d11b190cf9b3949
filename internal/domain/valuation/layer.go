package valuation

import (
	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeLayer is the aggregate type used in domain events
const AggregateTypeLayer = "ValuationLayer"

// ValueScale is the number of decimal places kept for monetary values
const ValueScale int32 = 6

// QuantityScale is the number of decimal places stored for quantities
const QuantityScale int32 = 6

// ExceedsScale reports whether d carries more fractional digits than scale keeps
func ExceedsScale(d decimal.Decimal, scale int32) bool {
	return !d.Equal(d.Round(scale))
}

// ValuationLayer is one ledger row representing the cost impact of a single
// stock movement. Rows are append-only: after creation only RemainingQuantity
// and RemainingValue change, and only positive rows carry a remainder.
type ValuationLayer struct {
	shared.BaseEntity
	CompanyID          uuid.UUID
	ProductID          uuid.UUID
	WarehouseID        *uuid.UUID
	Quantity           decimal.Decimal
	Value              decimal.Decimal
	RemainingQuantity  decimal.Decimal
	RemainingValue     decimal.Decimal
	SourceMovementID   *uuid.UUID
	ReturnOfMovementID *uuid.UUID
	Description        string
}

// NewIncomingLayer creates a positive layer whose remainder equals its quantity and value
func NewIncomingLayer(scope Scope, quantity, unitCost decimal.Decimal) (*ValuationLayer, error) {
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "incoming layer quantity must be positive")
	}
	if unitCost.IsNegative() {
		return nil, shared.NewDomainError("INVALID_UNIT_COST", "unit cost cannot be negative")
	}
	value := quantity.Mul(unitCost).Round(ValueScale)
	return &ValuationLayer{
		BaseEntity:        shared.NewBaseEntity(),
		CompanyID:         scope.CompanyID,
		ProductID:         scope.ProductID,
		WarehouseID:       scope.warehousePtr(),
		Quantity:          quantity,
		Value:             value,
		RemainingQuantity: quantity,
		RemainingValue:    value,
	}, nil
}

// NewOutgoingLayer creates a negative layer. Its value is filled in by the
// FIFO engine once consumption has been priced.
func NewOutgoingLayer(scope Scope, quantity decimal.Decimal) (*ValuationLayer, error) {
	if !quantity.IsNegative() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "outgoing layer quantity must be negative")
	}
	return &ValuationLayer{
		BaseEntity:        shared.NewBaseEntity(),
		CompanyID:         scope.CompanyID,
		ProductID:         scope.ProductID,
		WarehouseID:       scope.warehousePtr(),
		Quantity:          quantity,
		Value:             decimal.Zero,
		RemainingQuantity: decimal.Zero,
		RemainingValue:    decimal.Zero,
	}, nil
}

// UnitCost returns value / quantity, or zero for an empty layer
func (l *ValuationLayer) UnitCost() decimal.Decimal {
	if l.Quantity.IsZero() {
		return decimal.Zero
	}
	return l.Value.Div(l.Quantity).Abs()
}

// RemainingUnitCost is the cost of one unit taken from the unconsumed remainder
func (l *ValuationLayer) RemainingUnitCost() decimal.Decimal {
	if !l.RemainingQuantity.IsPositive() {
		return l.UnitCost()
	}
	return l.RemainingValue.Div(l.RemainingQuantity)
}

// IsIncoming reports whether the layer supplies stock
func (l *ValuationLayer) IsIncoming() bool {
	return l.Quantity.IsPositive()
}

// IsOutgoing reports whether the layer consumes stock
func (l *ValuationLayer) IsOutgoing() bool {
	return l.Quantity.IsNegative()
}

// IsReturn reports whether the layer was created by a return movement
func (l *ValuationLayer) IsReturn() bool {
	return l.ReturnOfMovementID != nil
}

// HasWarehouse reports whether the layer is scoped to a warehouse
func (l *ValuationLayer) HasWarehouse() bool {
	return l.WarehouseID != nil && *l.WarehouseID != uuid.Nil
}

// IsAvailable reports whether the layer still has stock to hand out
func (l *ValuationLayer) IsAvailable() bool {
	return l.IsIncoming() && l.RemainingQuantity.IsPositive()
}

// Scope returns the FIFO queue this layer belongs to
func (l *ValuationLayer) Scope() Scope {
	s := Scope{CompanyID: l.CompanyID, ProductID: l.ProductID}
	if l.WarehouseID != nil {
		s.WarehouseID = *l.WarehouseID
	}
	return s
}

// AssignWarehouse stamps the layer with a warehouse
func (l *ValuationLayer) AssignWarehouse(warehouseID uuid.UUID) {
	id := warehouseID
	l.WarehouseID = &id
	l.Touch()
}

// SetOutgoingValue records the priced consumption on a negative layer.
// The stored value keeps the quantity's sign.
func (l *ValuationLayer) SetOutgoingValue(consumed decimal.Decimal) {
	l.Value = consumed.Abs().Neg().Round(ValueScale)
	l.RemainingQuantity = decimal.Zero
	l.RemainingValue = decimal.Zero
}

// consume takes qty units worth value out of the remainder. Both fields are
// clamped at zero, and a fully drained layer drops any leftover value.
func (l *ValuationLayer) consume(qty, value decimal.Decimal) error {
	if !l.HasWarehouse() {
		return NewMissingWarehouseError(l)
	}
	l.RemainingQuantity = clampZero(l.RemainingQuantity.Sub(qty))
	l.RemainingValue = clampZero(l.RemainingValue.Sub(value))
	if l.RemainingQuantity.IsZero() {
		l.RemainingValue = decimal.Zero
	}
	l.Touch()
	return nil
}

// SetRemaining overwrites the remainder. Used by recalculation and repair tooling.
func (l *ValuationLayer) SetRemaining(qty, value decimal.Decimal) error {
	if !l.Quantity.IsZero() && !l.HasWarehouse() {
		return NewMissingWarehouseError(l)
	}
	if !l.IsIncoming() {
		qty, value = decimal.Zero, decimal.Zero
	}
	l.RemainingQuantity = clampZero(qty)
	l.RemainingValue = clampZero(value)
	l.Touch()
	return nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Scope identifies a FIFO queue: one product at one warehouse of one company
type Scope struct {
	CompanyID   uuid.UUID `json:"company_id"`
	ProductID   uuid.UUID `json:"product_id"`
	WarehouseID uuid.UUID `json:"warehouse_id"`
}

func (s Scope) warehousePtr() *uuid.UUID {
	if s.WarehouseID == uuid.Nil {
		return nil
	}
	id := s.WarehouseID
	return &id
}

// String renders the scope for log keys and lock names
func (s Scope) String() string {
	return s.CompanyID.String() + ":" + s.ProductID.String() + ":" + s.WarehouseID.String()
}
