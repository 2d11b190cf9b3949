package valuation

import (
	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LandedCostAllocation attaches extra cost (freight, duty) to a layer at a
// warehouse. Allocations are append-only and never touch the FIFO remainder.
type LandedCostAllocation struct {
	shared.BaseEntity
	CompanyID        uuid.UUID
	ValuationLayerID uuid.UUID
	WarehouseID      uuid.UUID
	LandedCostValue  decimal.Decimal
	Reference        string
}

// NewLandedCostAllocation validates and creates an allocation for the layer
func NewLandedCostAllocation(layer *ValuationLayer, amount decimal.Decimal, reference string) (*LandedCostAllocation, error) {
	if !layer.IsIncoming() {
		return nil, shared.NewDomainError("INVALID_STATE", "landed cost can only be allocated to incoming layers")
	}
	if !layer.HasWarehouse() {
		return nil, NewMissingWarehouseError(layer)
	}
	if amount.IsZero() {
		return nil, shared.NewDomainError("INVALID_INPUT", "landed cost amount must not be zero")
	}
	return &LandedCostAllocation{
		BaseEntity:       shared.NewBaseEntity(),
		CompanyID:        layer.CompanyID,
		ValuationLayerID: layer.ID,
		WarehouseID:      *layer.WarehouseID,
		LandedCostValue:  amount.Round(ValueScale),
		Reference:        reference,
	}, nil
}

// SplitLandedCost distributes amount over layers proportionally to their
// quantity. The last layer absorbs the rounding remainder so the parts sum
// exactly to amount.
func SplitLandedCost(layers []*ValuationLayer, amount decimal.Decimal) ([]decimal.Decimal, error) {
	if len(layers) == 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "no layers to allocate landed cost to")
	}
	total := decimal.Zero
	for _, l := range layers {
		if !l.IsIncoming() {
			return nil, shared.NewDomainError("INVALID_STATE", "landed cost can only be allocated to incoming layers")
		}
		total = total.Add(l.Quantity)
	}
	parts := make([]decimal.Decimal, len(layers))
	allocated := decimal.Zero
	for i, l := range layers {
		if i == len(layers)-1 {
			parts[i] = amount.Sub(allocated)
			break
		}
		parts[i] = amount.Mul(l.Quantity).DivRound(total, ValueScale)
		allocated = allocated.Add(parts[i])
	}
	return parts, nil
}

// LandedUnitCosts maps layer ID to landed cost per unit of the layer's
// original quantity.
func LandedUnitCosts(layers map[uuid.UUID]*ValuationLayer, totals map[uuid.UUID]decimal.Decimal) map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(totals))
	for id, total := range totals {
		l, ok := layers[id]
		if !ok || l.Quantity.IsZero() {
			continue
		}
		out[id] = total.Div(l.Quantity.Abs())
	}
	return out
}
