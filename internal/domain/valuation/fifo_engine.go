package valuation

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Consumption is the portion of one layer taken by an outgoing movement
type Consumption struct {
	LayerID   uuid.UUID       `json:"layer_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Value     decimal.Decimal `json:"value"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Remaining decimal.Decimal `json:"-"`
}

// ConsumptionPlan is the priced result of walking a FIFO queue. It is computed
// without touching the layers and applied separately under row locks.
type ConsumptionPlan struct {
	Scope             Scope
	Requested         decimal.Decimal
	Consumptions      []Consumption
	QuantitySatisfied decimal.Decimal
	ConsumedValue     decimal.Decimal
	Shortage          decimal.Decimal
	ShortageUnitCost  decimal.Decimal
	ShortageValue     decimal.Decimal
}

// HasShortage reports whether the queue could not cover the request
func (p *ConsumptionPlan) HasShortage() bool {
	return p.Shortage.IsPositive()
}

// TotalValue is the consumed value plus the fallback-priced shortage
func (p *ConsumptionPlan) TotalValue() decimal.Decimal {
	return p.ConsumedValue.Add(p.ShortageValue)
}

// UnitCost is the weighted cost per requested unit
func (p *ConsumptionPlan) UnitCost() decimal.Decimal {
	if p.Requested.IsZero() {
		return decimal.Zero
	}
	return p.TotalValue().DivRound(p.Requested, ValueScale)
}

// LayerIDs returns the consumed layers in lock order
func (p *ConsumptionPlan) LayerIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.Consumptions))
	for i, c := range p.Consumptions {
		ids[i] = c.LayerID
	}
	return ids
}

// SortQueue orders layers oldest first, breaking creation-time ties by ID
func SortQueue(layers []*ValuationLayer) {
	sort.SliceStable(layers, func(i, j int) bool {
		return layerBefore(layers[i], layers[j])
	})
}

func layerBefore(a, b *ValuationLayer) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// PlanConsumption walks the queue oldest first and prices the requested
// quantity. Layers outside scope or without a remainder are skipped; any
// uncovered quantity is priced at fallbackUnitCost.
func PlanConsumption(scope Scope, queue []*ValuationLayer, quantity, fallbackUnitCost decimal.Decimal) *ConsumptionPlan {
	need := quantity.Abs()
	plan := &ConsumptionPlan{
		Scope:             scope,
		Requested:         need,
		QuantitySatisfied: decimal.Zero,
		ConsumedValue:     decimal.Zero,
		Shortage:          decimal.Zero,
		ShortageUnitCost:  fallbackUnitCost,
		ShortageValue:     decimal.Zero,
	}

	ordered := make([]*ValuationLayer, 0, len(queue))
	for _, l := range queue {
		if l.IsAvailable() && l.Scope() == scope {
			ordered = append(ordered, l)
		}
	}
	SortQueue(ordered)

	for _, l := range ordered {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(need, l.RemainingQuantity)
		var value decimal.Decimal
		if take.Equal(l.RemainingQuantity) {
			value = l.RemainingValue
		} else {
			value = l.RemainingValue.Mul(take).DivRound(l.RemainingQuantity, ValueScale)
		}
		plan.Consumptions = append(plan.Consumptions, Consumption{
			LayerID:   l.ID,
			Quantity:  take,
			Value:     value,
			UnitCost:  l.RemainingUnitCost(),
			Remaining: l.RemainingQuantity,
		})
		plan.QuantitySatisfied = plan.QuantitySatisfied.Add(take)
		plan.ConsumedValue = plan.ConsumedValue.Add(value)
		need = need.Sub(take)
	}

	if need.IsPositive() {
		plan.Shortage = need
		plan.ShortageValue = need.Mul(fallbackUnitCost).Round(ValueScale)
	}
	return plan
}

// ApplyPlan consumes the planned quantities from the locked layers. Every
// locked layer must still show the remainder observed while planning;
// otherwise nothing is changed and a StaleLayerError is returned.
func ApplyPlan(plan *ConsumptionPlan, locked []*ValuationLayer) error {
	byID := make(map[uuid.UUID]*ValuationLayer, len(locked))
	for _, l := range locked {
		byID[l.ID] = l
	}
	for _, c := range plan.Consumptions {
		l, ok := byID[c.LayerID]
		if !ok {
			return NewStaleLayerError(c.LayerID, c.Remaining, decimal.Zero)
		}
		if !l.HasWarehouse() {
			return NewMissingWarehouseError(l)
		}
		if !l.RemainingQuantity.Equal(c.Remaining) {
			return NewStaleLayerError(l.ID, c.Remaining, l.RemainingQuantity)
		}
	}
	for _, c := range plan.Consumptions {
		if err := byID[c.LayerID].consume(c.Quantity, c.Value); err != nil {
			return err
		}
	}
	return nil
}

// AvailableQuantity sums the remainder over a queue
func AvailableQuantity(queue []*ValuationLayer) decimal.Decimal {
	total := decimal.Zero
	for _, l := range queue {
		if l.IsIncoming() {
			total = total.Add(l.RemainingQuantity)
		}
	}
	return total
}

// AvailableValue sums the remaining value over a queue
func AvailableValue(queue []*ValuationLayer) decimal.Decimal {
	total := decimal.Zero
	for _, l := range queue {
		if l.IsIncoming() {
			total = total.Add(l.RemainingValue)
		}
	}
	return total
}
