package valuation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RepairPattern names a known corruption of a layer's remainder
type RepairPattern string

const (
	PatternNullRemaining     RepairPattern = "null_remaining"
	PatternNegativeRemaining RepairPattern = "negative_remaining"
	PatternExceedsQuantity   RepairPattern = "remaining_exceeds_quantity"
	PatternRoundingResidue   RepairPattern = "rounding_residue"
	PatternOutgoingRemainder RepairPattern = "outgoing_remainder"
	PatternReplay            RepairPattern = "replay"
)

// LayerChange records a rewrite of one layer's remainder
type LayerChange struct {
	LayerID     uuid.UUID       `json:"layer_id"`
	Pattern     RepairPattern   `json:"pattern"`
	OldQuantity decimal.Decimal `json:"old_remaining_quantity"`
	OldValue    decimal.Decimal `json:"old_remaining_value"`
	NewQuantity decimal.Decimal `json:"new_remaining_quantity"`
	NewValue    decimal.Decimal `json:"new_remaining_value"`
	layer       *ValuationLayer
}

// Layer returns the layer the change applies to
func (c LayerChange) Layer() *ValuationLayer { return c.layer }

// ReplayResult is the outcome of re-deriving a queue from its full history
type ReplayResult struct {
	Scope     Scope
	Layers    int
	Changes   []LayerChange
	Unmatched decimal.Decimal
}

// ReplayQueue re-derives every remainder of one scope by walking its full
// history in creation order: each incoming layer is reset to full and each
// outgoing layer consumes the older incoming layers oldest first. Layers are
// mutated in place; changed ones are reported.
func ReplayQueue(scope Scope, history []*ValuationLayer) (*ReplayResult, error) {
	ordered := make([]*ValuationLayer, len(history))
	copy(ordered, history)
	SortQueue(ordered)

	type snapshot struct{ qty, value decimal.Decimal }
	before := make(map[uuid.UUID]snapshot, len(ordered))
	for _, l := range ordered {
		if !l.Quantity.IsZero() && !l.HasWarehouse() {
			return nil, NewMissingWarehouseError(l)
		}
		before[l.ID] = snapshot{l.RemainingQuantity, l.RemainingValue}
	}

	result := &ReplayResult{Scope: scope, Layers: len(ordered), Unmatched: decimal.Zero}
	supply := make([]*ValuationLayer, 0, len(ordered))
	for _, l := range ordered {
		switch {
		case l.IsIncoming():
			l.RemainingQuantity = l.Quantity
			l.RemainingValue = l.Value.Abs()
			supply = append(supply, l)
		case l.IsOutgoing():
			plan := PlanConsumption(scope, supply, l.Quantity, decimal.Zero)
			for _, c := range plan.Consumptions {
				for _, s := range supply {
					if s.ID == c.LayerID {
						if err := s.consume(c.Quantity, c.Value); err != nil {
							return nil, err
						}
						break
					}
				}
			}
			result.Unmatched = result.Unmatched.Add(plan.Shortage)
			l.RemainingQuantity = decimal.Zero
			l.RemainingValue = decimal.Zero
		}
	}

	for _, l := range ordered {
		old := before[l.ID]
		if old.qty.Equal(l.RemainingQuantity) && old.value.Equal(l.RemainingValue) {
			continue
		}
		result.Changes = append(result.Changes, LayerChange{
			LayerID:     l.ID,
			Pattern:     PatternReplay,
			OldQuantity: old.qty,
			OldValue:    old.value,
			NewQuantity: l.RemainingQuantity,
			NewValue:    l.RemainingValue,
			layer:       l,
		})
	}
	return result, nil
}

// DiagnoseLayer lists the corruption patterns present on a candidate
func DiagnoseLayer(c RepairCandidate, epsilon decimal.Decimal) []RepairPattern {
	l := c.Layer
	var found []RepairPattern
	if c.NullRemaining {
		found = append(found, PatternNullRemaining)
	}
	if l.IsOutgoing() {
		if !l.RemainingQuantity.IsZero() || !l.RemainingValue.IsZero() {
			found = append(found, PatternOutgoingRemainder)
		}
		return found
	}
	if l.RemainingQuantity.IsNegative() || l.RemainingValue.IsNegative() {
		found = append(found, PatternNegativeRemaining)
	}
	if l.RemainingQuantity.GreaterThan(l.Quantity) {
		found = append(found, PatternExceedsQuantity)
	}
	if isResidue(l, epsilon) {
		found = append(found, PatternRoundingResidue)
	}
	return found
}

func isResidue(l *ValuationLayer, epsilon decimal.Decimal) bool {
	rq, rv := l.RemainingQuantity, l.RemainingValue
	if rq.IsPositive() && rq.LessThan(epsilon) {
		return true
	}
	return rq.IsZero() && !rv.IsZero()
}

// RepairLayer applies the targeted fix for a candidate. A null remainder
// cannot be fixed in isolation: needsReplay tells the caller to replay the
// layer's whole scope instead.
func RepairLayer(c RepairCandidate, epsilon decimal.Decimal) (change *LayerChange, needsReplay bool) {
	patterns := DiagnoseLayer(c, epsilon)
	if len(patterns) == 0 {
		return nil, false
	}
	if patterns[0] == PatternNullRemaining {
		return nil, true
	}

	l := c.Layer
	ch := &LayerChange{
		LayerID:     l.ID,
		Pattern:     patterns[0],
		OldQuantity: l.RemainingQuantity,
		OldValue:    l.RemainingValue,
		layer:       l,
	}
	qty, value := l.RemainingQuantity, l.RemainingValue
	for _, p := range patterns {
		switch p {
		case PatternOutgoingRemainder:
			qty, value = decimal.Zero, decimal.Zero
		case PatternNegativeRemaining:
			qty, value = clampZero(qty), clampZero(value)
		case PatternExceedsQuantity:
			qty, value = l.Quantity, l.Value.Abs()
		case PatternRoundingResidue:
			if qty.LessThan(epsilon) {
				qty, value = decimal.Zero, decimal.Zero
			}
		}
	}
	l.RemainingQuantity, l.RemainingValue = qty, value
	l.Touch()
	ch.NewQuantity, ch.NewValue = qty, value
	return ch, false
}
