package valuation

import (
	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published by the valuation engine
const (
	EventTypeLayerCreated           = "valuation.layer.created"
	EventTypeShortageDetected       = "valuation.shortage.detected"
	EventTypeNegativeBalanceWarning = "valuation.negative_balance.warning"
	EventTypeWarehouseUnresolved    = "valuation.warehouse.unresolved"
	EventTypeReturnCostFallback     = "valuation.return.cost_fallback"
)

// LayerCreatedEvent is published after a layer and its consumption are committed
type LayerCreatedEvent struct {
	shared.BaseDomainEvent
	ProductID   uuid.UUID       `json:"product_id"`
	WarehouseID *uuid.UUID      `json:"warehouse_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Value       decimal.Decimal `json:"value"`
	Consumed    int             `json:"consumed_layers"`
}

// NewLayerCreatedEvent creates the event for a committed layer
func NewLayerCreatedEvent(l *ValuationLayer, consumed int) *LayerCreatedEvent {
	return &LayerCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLayerCreated, AggregateTypeLayer, l.ID, l.CompanyID),
		ProductID:       l.ProductID,
		WarehouseID:     l.WarehouseID,
		Quantity:        l.Quantity,
		Value:           l.Value,
		Consumed:        consumed,
	}
}

// ShortageDetectedEvent is published when a shortage was priced at fallback cost
type ShortageDetectedEvent struct {
	shared.BaseDomainEvent
	ProductID   uuid.UUID       `json:"product_id"`
	WarehouseID uuid.UUID       `json:"warehouse_id"`
	Requested   decimal.Decimal `json:"requested"`
	Shortage    decimal.Decimal `json:"shortage"`
	UnitCost    decimal.Decimal `json:"fallback_unit_cost"`
}

// NewShortageDetectedEvent creates the event from a plan
func NewShortageDetectedEvent(layerID uuid.UUID, plan *ConsumptionPlan) *ShortageDetectedEvent {
	return &ShortageDetectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeShortageDetected, AggregateTypeLayer, layerID, plan.Scope.CompanyID),
		ProductID:       plan.Scope.ProductID,
		WarehouseID:     plan.Scope.WarehouseID,
		Requested:       plan.Requested,
		Shortage:        plan.Shortage,
		UnitCost:        plan.ShortageUnitCost,
	}
}

// NegativeBalanceWarningEvent notifies that warning mode let a negative balance through
type NegativeBalanceWarningEvent struct {
	shared.BaseDomainEvent
	ProductID       uuid.UUID       `json:"product_id"`
	WarehouseID     uuid.UUID       `json:"warehouse_id"`
	AvailableBefore decimal.Decimal `json:"available_before"`
	Shortfall       decimal.Decimal `json:"shortfall"`
}

// NewNegativeBalanceWarningEvent creates the event from a balance check
func NewNegativeBalanceWarningEvent(layerID uuid.UUID, check BalanceCheck) *NegativeBalanceWarningEvent {
	return &NegativeBalanceWarningEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeNegativeBalanceWarning, AggregateTypeLayer, layerID, check.Scope.CompanyID),
		ProductID:       check.Scope.ProductID,
		WarehouseID:     check.Scope.WarehouseID,
		AvailableBefore: check.AvailableBefore,
		Shortfall:       check.Shortfall,
	}
}

// WarehouseUnresolvedEvent flags a layer created without a warehouse
type WarehouseUnresolvedEvent struct {
	shared.BaseDomainEvent
	ProductID  uuid.UUID  `json:"product_id"`
	MovementID *uuid.UUID `json:"movement_id,omitempty"`
	Reason     string     `json:"reason"`
}

// NewWarehouseUnresolvedEvent creates the event for an unresolved layer
func NewWarehouseUnresolvedEvent(l *ValuationLayer, reason string) *WarehouseUnresolvedEvent {
	return &WarehouseUnresolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeWarehouseUnresolved, AggregateTypeLayer, l.ID, l.CompanyID),
		ProductID:       l.ProductID,
		MovementID:      l.SourceMovementID,
		Reason:          reason,
	}
}

// ReturnCostFallbackEvent records a return priced without its original layer
type ReturnCostFallbackEvent struct {
	shared.BaseDomainEvent
	ProductID          uuid.UUID       `json:"product_id"`
	ReturnOfMovementID uuid.UUID       `json:"return_of_movement_id"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	Source             string          `json:"source"`
}

// NewReturnCostFallbackEvent creates the event for a low-confidence return cost
func NewReturnCostFallbackEvent(l *ValuationLayer, unitCost decimal.Decimal, source string) *ReturnCostFallbackEvent {
	e := &ReturnCostFallbackEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeReturnCostFallback, AggregateTypeLayer, l.ID, l.CompanyID),
		ProductID:       l.ProductID,
		UnitCost:        unitCost,
		Source:          source,
	}
	if l.ReturnOfMovementID != nil {
		e.ReturnOfMovementID = *l.ReturnOfMovementID
	}
	return e
}
