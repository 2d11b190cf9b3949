package valuation

import (
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cost sources reported for incoming layers
const (
	CostSourceExplicit        = "explicit"
	CostSourceStandard        = "standard"
	CostSourceOriginalLayer   = "original_layer"
	CostSourceDestinationFIFO = "destination_fifo"
	CostSourceFIFO            = "fifo"
	CostSourceLatestReceipt   = "latest_receipt"
)

// MoveLineInput is line-level location detail of a posted movement
type MoveLineInput struct {
	SourceLocationID      *uuid.UUID
	DestinationLocationID *uuid.UUID
	Quantity              decimal.Decimal
}

// PostMovementCommand is the inbound stock movement event
type PostMovementCommand struct {
	MovementID            *uuid.UUID
	CompanyID             uuid.UUID
	ProductID             uuid.UUID
	Quantity              decimal.Decimal
	SourceLocationID      *uuid.UUID
	DestinationLocationID *uuid.UUID
	Lines                 []MoveLineInput
	UnitCost              *decimal.Decimal
	ReturnOfMovementID    *uuid.UUID
	WarehouseHint         *uuid.UUID
	Reference             string
}

// PostMovementResult describes the layer created for a movement
type PostMovementResult struct {
	Layer      *valuation.ValuationLayer
	Resolution valuation.Resolution
	Plan       *valuation.ConsumptionPlan
	Balance    *valuation.BalanceCheck
	CostSource string
	Warnings   []string
}

// CostResult is a read-only FIFO pricing of a quantity at one warehouse
type CostResult struct {
	Scope             valuation.Scope
	Requested         decimal.Decimal
	Cost              decimal.Decimal
	QuantitySatisfied decimal.Decimal
	UnitCost          decimal.Decimal
	Shortage          decimal.Decimal
	FallbackUnitCost  decimal.Decimal
	Breakdown         []valuation.Consumption
}

func newCostResult(plan *valuation.ConsumptionPlan) *CostResult {
	return &CostResult{
		Scope:             plan.Scope,
		Requested:         plan.Requested,
		Cost:              plan.TotalValue(),
		QuantitySatisfied: plan.QuantitySatisfied,
		UnitCost:          plan.UnitCost(),
		Shortage:          plan.Shortage,
		FallbackUnitCost:  plan.ShortageUnitCost,
		Breakdown:         plan.Consumptions,
	}
}

// CostRequest is one entry of a batch cost calculation
type CostRequest struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    decimal.Decimal
}

// LandedConsumption is a consumed layer with its landed cost share
type LandedConsumption struct {
	valuation.Consumption
	LandedUnitCost decimal.Decimal
	LandedCost     decimal.Decimal
}

// LandedCostResult extends CostResult with landed cost
type LandedCostResult struct {
	*CostResult
	LandedCost      decimal.Decimal
	TotalCost       decimal.Decimal
	TotalUnitCost   decimal.Decimal
	LandedBreakdown []LandedConsumption
}

// AvailabilityReport answers whether a warehouse can satisfy a quantity alone
type AvailabilityReport struct {
	Scope          valuation.Scope
	Requested      decimal.Decimal
	Available      decimal.Decimal
	Shortage       decimal.Decimal
	Sufficient     bool
	Alternatives   []valuation.WarehouseStock
	SuggestedSplit []valuation.SplitLine
}

// TransferLine is one proposed inter-warehouse transfer
type TransferLine struct {
	FromWarehouseID uuid.UUID
	ToWarehouseID   uuid.UUID
	Quantity        decimal.Decimal
	EstimatedCost   decimal.Decimal
}

// TransferProposal is an uncommitted plan to cover a shortfall by transfers
type TransferProposal struct {
	CompanyID   uuid.UUID
	ProductID   uuid.UUID
	Destination uuid.UUID
	Requested   decimal.Decimal
	Available   decimal.Decimal
	Shortfall   decimal.Decimal
	Lines       []TransferLine
	Covered     bool
}

// AllocateLandedCostCommand allocates an amount to one or more layers.
// With several layers the amount is split by layer quantity.
type AllocateLandedCostCommand struct {
	CompanyID uuid.UUID
	LayerIDs  []uuid.UUID
	Amount    decimal.Decimal
	Reference string
}
