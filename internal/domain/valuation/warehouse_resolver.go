package valuation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolutionStrategy names how a layer's warehouse was determined
type ResolutionStrategy string

const (
	ResolvedByHint            ResolutionStrategy = "hint"
	ResolvedByMovement        ResolutionStrategy = "movement"
	ResolvedByMoveLine        ResolutionStrategy = "move_line"
	ResolvedBySibling         ResolutionStrategy = "nearest_sibling"
	ResolvedBySingleWarehouse ResolutionStrategy = "single_warehouse"
	Unresolved                ResolutionStrategy = "unresolved"
)

// Resolution is the outcome of warehouse resolution
type Resolution struct {
	WarehouseID *uuid.UUID
	Strategy    ResolutionStrategy
	Reason      string
}

// Resolved reports whether a warehouse was found
func (r Resolution) Resolved() bool {
	return r.WarehouseID != nil && *r.WarehouseID != uuid.Nil
}

// ResolveWarehouse runs the creation-time fallback chain: explicit hint,
// then the movement's locations, then its move lines.
func ResolveWarehouse(hint *uuid.UUID, quantity decimal.Decimal, mv *StockMovement) Resolution {
	if hint != nil && *hint != uuid.Nil {
		return Resolution{WarehouseID: hint, Strategy: ResolvedByHint, Reason: "explicit warehouse supplied by caller"}
	}
	if mv == nil {
		return Resolution{Strategy: Unresolved, Reason: "no originating movement"}
	}
	if wh, reason := warehouseForDirection(quantity, mv.Source, mv.Destination); wh != nil {
		return Resolution{WarehouseID: wh, Strategy: ResolvedByMovement, Reason: reason}
	}
	for _, line := range mv.Lines {
		if wh, reason := warehouseForDirection(quantity, line.Source, line.Destination); wh != nil {
			return Resolution{WarehouseID: wh, Strategy: ResolvedByMoveLine, Reason: "move line " + line.ID.String() + ": " + reason}
		}
	}
	return Resolution{Strategy: Unresolved, Reason: "neither movement nor move lines reference a warehouse"}
}

// warehouseForDirection picks the warehouse that gains (positive) or loses
// (negative) stock. Outgoing stock prefers an internal/transit source; an
// external source falls back to the destination.
func warehouseForDirection(quantity decimal.Decimal, src, dst *Location) (*uuid.UUID, string) {
	if quantity.IsNegative() {
		if src.HoldsStock() && src.warehouse() != nil {
			return src.warehouse(), "source location " + string(src.Usage) + " owns the outgoing stock"
		}
		if wh := dst.warehouse(); wh != nil {
			return wh, "external source, using destination warehouse"
		}
		return nil, ""
	}
	if wh := dst.warehouse(); wh != nil {
		return wh, "destination location receives the stock"
	}
	return nil, ""
}
