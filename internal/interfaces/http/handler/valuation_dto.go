package handler

import (
	"time"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoveLineRequest is line-level location detail of a posted movement
type MoveLineRequest struct {
	SourceLocationID      string          `json:"source_location_id" binding:"omitempty,uuid"`
	DestinationLocationID string          `json:"destination_location_id" binding:"omitempty,uuid"`
	Quantity              decimal.Decimal `json:"quantity" binding:"decscale=6"`
}

// PostMovementRequest is the body of POST /valuation/movements.
// Quantity is signed: positive for incoming stock, negative for outgoing.
type PostMovementRequest struct {
	MovementID            string            `json:"movement_id" binding:"omitempty,uuid"`
	ProductID             string            `json:"product_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440001"`
	Quantity              decimal.Decimal   `json:"quantity" binding:"decscale=6" example:"-5"`
	SourceLocationID      string            `json:"source_location_id" binding:"omitempty,uuid"`
	DestinationLocationID string            `json:"destination_location_id" binding:"omitempty,uuid"`
	Lines                 []MoveLineRequest `json:"lines" binding:"omitempty,dive"`
	UnitCost              *decimal.Decimal  `json:"unit_cost,omitempty" binding:"omitempty,decscale=6" example:"12.50"`
	ReturnOfMovementID    string            `json:"return_of_movement_id" binding:"omitempty,uuid"`
	WarehouseID           string            `json:"warehouse_id" binding:"omitempty,uuid"`
	Reference             string            `json:"reference" binding:"max=100" example:"SO-2026-0042"`
}

// toCommand converts the request; ids were validated by binding
func (r PostMovementRequest) toCommand(companyID uuid.UUID) appval.PostMovementCommand {
	cmd := appval.PostMovementCommand{
		MovementID:            optionalUUID(r.MovementID),
		CompanyID:             companyID,
		ProductID:             uuid.MustParse(r.ProductID),
		Quantity:              r.Quantity,
		SourceLocationID:      optionalUUID(r.SourceLocationID),
		DestinationLocationID: optionalUUID(r.DestinationLocationID),
		UnitCost:              r.UnitCost,
		ReturnOfMovementID:    optionalUUID(r.ReturnOfMovementID),
		WarehouseHint:         optionalUUID(r.WarehouseID),
		Reference:             r.Reference,
	}
	for _, l := range r.Lines {
		cmd.Lines = append(cmd.Lines, appval.MoveLineInput{
			SourceLocationID:      optionalUUID(l.SourceLocationID),
			DestinationLocationID: optionalUUID(l.DestinationLocationID),
			Quantity:              l.Quantity,
		})
	}
	return cmd
}

// LayerResponse represents a valuation layer in API responses
type LayerResponse struct {
	ID                 string          `json:"id"`
	CompanyID          string          `json:"company_id"`
	ProductID          string          `json:"product_id"`
	WarehouseID        *string         `json:"warehouse_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	Value              decimal.Decimal `json:"value"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	RemainingQuantity  decimal.Decimal `json:"remaining_quantity"`
	RemainingValue     decimal.Decimal `json:"remaining_value"`
	SourceMovementID   *string         `json:"source_movement_id,omitempty"`
	ReturnOfMovementID *string         `json:"return_of_movement_id,omitempty"`
	Description        string          `json:"description,omitempty"`
	CreatedAt          string          `json:"created_at"`
}

func toLayerResponse(l *valuation.ValuationLayer) LayerResponse {
	return LayerResponse{
		ID:                 l.ID.String(),
		CompanyID:          l.CompanyID.String(),
		ProductID:          l.ProductID.String(),
		WarehouseID:        uuidString(l.WarehouseID),
		Quantity:           l.Quantity,
		Value:              l.Value,
		UnitCost:           l.UnitCost(),
		RemainingQuantity:  l.RemainingQuantity,
		RemainingValue:     l.RemainingValue,
		SourceMovementID:   uuidString(l.SourceMovementID),
		ReturnOfMovementID: uuidString(l.ReturnOfMovementID),
		Description:        l.Description,
		CreatedAt:          l.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toLayerResponses(layers []*valuation.ValuationLayer) []LayerResponse {
	out := make([]LayerResponse, 0, len(layers))
	for _, l := range layers {
		out = append(out, toLayerResponse(l))
	}
	return out
}

// ResolutionResponse explains how the layer's warehouse was chosen
type ResolutionResponse struct {
	WarehouseID *string `json:"warehouse_id"`
	Strategy    string  `json:"strategy"`
	Reason      string  `json:"reason"`
}

// BalanceCheckResponse is the outcome of the negative balance check
type BalanceCheckResponse struct {
	Outcome         string          `json:"outcome"`
	AvailableBefore decimal.Decimal `json:"available_before"`
	AvailableAfter  decimal.Decimal `json:"available_after"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	SkipReason      string          `json:"skip_reason,omitempty"`
}

// PostMovementResponse describes the layer created for a movement
type PostMovementResponse struct {
	Layer        LayerResponse           `json:"layer"`
	Resolution   ResolutionResponse      `json:"resolution"`
	CostSource   string                  `json:"cost_source,omitempty"`
	Consumptions []valuation.Consumption `json:"consumptions,omitempty"`
	Shortage     *decimal.Decimal        `json:"shortage,omitempty"`
	Balance      *BalanceCheckResponse   `json:"balance,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
}

func toPostMovementResponse(r *appval.PostMovementResult) PostMovementResponse {
	resp := PostMovementResponse{
		Layer: toLayerResponse(r.Layer),
		Resolution: ResolutionResponse{
			WarehouseID: uuidString(r.Resolution.WarehouseID),
			Strategy:    string(r.Resolution.Strategy),
			Reason:      r.Resolution.Reason,
		},
		CostSource: r.CostSource,
		Warnings:   r.Warnings,
	}
	if r.Plan != nil {
		resp.Consumptions = r.Plan.Consumptions
		if r.Plan.HasShortage() {
			shortage := r.Plan.Shortage
			resp.Shortage = &shortage
		}
	}
	if r.Balance != nil {
		resp.Balance = &BalanceCheckResponse{
			Outcome:         string(r.Balance.Outcome),
			AvailableBefore: r.Balance.AvailableBefore,
			AvailableAfter:  r.Balance.AvailableAfter,
			Shortfall:       r.Balance.Shortfall,
			SkipReason:      r.Balance.SkipReason,
		}
	}
	return resp
}

// ScopeQuery selects one FIFO queue
type ScopeQuery struct {
	ProductID   string `form:"product_id" binding:"required,uuid"`
	WarehouseID string `form:"warehouse_id" binding:"required,uuid"`
}

func (q ScopeQuery) scope(companyID uuid.UUID) valuation.Scope {
	return valuation.Scope{
		CompanyID:   companyID,
		ProductID:   uuid.MustParse(q.ProductID),
		WarehouseID: uuid.MustParse(q.WarehouseID),
	}
}

// QuantityQuery selects a queue and a quantity to price or check
type QuantityQuery struct {
	ScopeQuery
	Quantity      string `form:"quantity" binding:"required"`
	IncludeLanded bool   `form:"include_landed"`
	AllowFallback bool   `form:"allow_fallback"`
}

// CostResponse is a read-only FIFO pricing of a quantity
type CostResponse struct {
	ProductID         string                  `json:"product_id"`
	WarehouseID       string                  `json:"warehouse_id"`
	Requested         decimal.Decimal         `json:"requested"`
	Cost              decimal.Decimal         `json:"cost"`
	UnitCost          decimal.Decimal         `json:"unit_cost"`
	QuantitySatisfied decimal.Decimal         `json:"quantity_satisfied"`
	Shortage          decimal.Decimal         `json:"shortage"`
	FallbackUnitCost  decimal.Decimal         `json:"fallback_unit_cost"`
	Breakdown         []valuation.Consumption `json:"breakdown"`
	LandedCost        *decimal.Decimal        `json:"landed_cost,omitempty"`
	TotalCost         *decimal.Decimal        `json:"total_cost,omitempty"`
	TotalUnitCost     *decimal.Decimal        `json:"total_unit_cost,omitempty"`
}

func toCostResponse(r *appval.CostResult) CostResponse {
	return CostResponse{
		ProductID:         r.Scope.ProductID.String(),
		WarehouseID:       r.Scope.WarehouseID.String(),
		Requested:         r.Requested,
		Cost:              r.Cost,
		UnitCost:          r.UnitCost,
		QuantitySatisfied: r.QuantitySatisfied,
		Shortage:          r.Shortage,
		FallbackUnitCost:  r.FallbackUnitCost,
		Breakdown:         r.Breakdown,
	}
}

func toLandedCostResponse(r *appval.LandedCostResult) CostResponse {
	resp := toCostResponse(r.CostResult)
	landed, total, unit := r.LandedCost, r.TotalCost, r.TotalUnitCost
	resp.LandedCost = &landed
	resp.TotalCost = &total
	resp.TotalUnitCost = &unit
	return resp
}

// BatchCostItem is one entry of a batch cost request
type BatchCostItem struct {
	ProductID   string          `json:"product_id" binding:"required,uuid"`
	WarehouseID string          `json:"warehouse_id" binding:"required,uuid"`
	Quantity    decimal.Decimal `json:"quantity" binding:"decscale=6"`
}

// BatchCostRequest prices several quantities independently
type BatchCostRequest struct {
	Items []BatchCostItem `json:"items" binding:"required,min=1,max=500,dive"`
}

// AvailabilityResponse answers whether a warehouse can satisfy a quantity alone
type AvailabilityResponse struct {
	ProductID      string                     `json:"product_id"`
	WarehouseID    string                     `json:"warehouse_id"`
	Requested      decimal.Decimal            `json:"requested"`
	Available      decimal.Decimal            `json:"available"`
	Shortage       decimal.Decimal            `json:"shortage"`
	Sufficient     bool                       `json:"sufficient"`
	Alternatives   []valuation.WarehouseStock `json:"alternatives,omitempty"`
	SuggestedSplit []valuation.SplitLine      `json:"suggested_split,omitempty"`
}

func toAvailabilityResponse(r *appval.AvailabilityReport) AvailabilityResponse {
	return AvailabilityResponse{
		ProductID:      r.Scope.ProductID.String(),
		WarehouseID:    r.Scope.WarehouseID.String(),
		Requested:      r.Requested,
		Available:      r.Available,
		Shortage:       r.Shortage,
		Sufficient:     r.Sufficient,
		Alternatives:   r.Alternatives,
		SuggestedSplit: r.SuggestedSplit,
	}
}

// TransferLineResponse is one proposed inter-warehouse transfer
type TransferLineResponse struct {
	FromWarehouseID string          `json:"from_warehouse_id"`
	ToWarehouseID   string          `json:"to_warehouse_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	EstimatedCost   decimal.Decimal `json:"estimated_cost"`
}

// TransferProposalResponse is an uncommitted plan to cover a shortfall
type TransferProposalResponse struct {
	ProductID   string                 `json:"product_id"`
	Destination string                 `json:"destination_warehouse_id"`
	Requested   decimal.Decimal        `json:"requested"`
	Available   decimal.Decimal        `json:"available"`
	Shortfall   decimal.Decimal        `json:"shortfall"`
	Covered     bool                   `json:"covered"`
	Lines       []TransferLineResponse `json:"lines"`
}

func toTransferProposalResponse(p *appval.TransferProposal) TransferProposalResponse {
	resp := TransferProposalResponse{
		ProductID:   p.ProductID.String(),
		Destination: p.Destination.String(),
		Requested:   p.Requested,
		Available:   p.Available,
		Shortfall:   p.Shortfall,
		Covered:     p.Covered,
		Lines:       make([]TransferLineResponse, 0, len(p.Lines)),
	}
	for _, l := range p.Lines {
		resp.Lines = append(resp.Lines, TransferLineResponse{
			FromWarehouseID: l.FromWarehouseID.String(),
			ToWarehouseID:   l.ToWarehouseID.String(),
			Quantity:        l.Quantity,
			EstimatedCost:   l.EstimatedCost,
		})
	}
	return resp
}

// WarehouseBalanceResponse is the valuation summary of one product at one warehouse
type WarehouseBalanceResponse struct {
	ProductID         string          `json:"product_id"`
	WarehouseID       string          `json:"warehouse_id"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	RemainingValue    decimal.Decimal `json:"remaining_value"`
}

// AllocateLandedCostRequest allocates an amount to one or more layers
type AllocateLandedCostRequest struct {
	LayerIDs  []string        `json:"layer_ids" binding:"required,min=1,dive,uuid"`
	Amount    decimal.Decimal `json:"amount" binding:"decscale=6" example:"120.00"`
	Reference string          `json:"reference" binding:"max=100" example:"FREIGHT-2026-17"`
}

// LandedCostAllocationResponse is one landed cost allocation
type LandedCostAllocationResponse struct {
	ID               string          `json:"id"`
	ValuationLayerID string          `json:"valuation_layer_id"`
	WarehouseID      string          `json:"warehouse_id"`
	LandedCostValue  decimal.Decimal `json:"landed_cost_value"`
	Reference        string          `json:"reference,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

func toAllocationResponses(allocs []*valuation.LandedCostAllocation) []LandedCostAllocationResponse {
	out := make([]LandedCostAllocationResponse, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, LandedCostAllocationResponse{
			ID:               a.ID.String(),
			ValuationLayerID: a.ValuationLayerID.String(),
			WarehouseID:      a.WarehouseID.String(),
			LandedCostValue:  a.LandedCostValue,
			Reference:        a.Reference,
			CreatedAt:        a.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return out
}

// ShortageContext is attached to shortage and negative balance errors so
// callers can act on the alternatives without parsing the message
type ShortageContext struct {
	ProductID      string                     `json:"product_id"`
	WarehouseID    string                     `json:"warehouse_id"`
	Requested      decimal.Decimal            `json:"requested"`
	Available      decimal.Decimal            `json:"available"`
	Shortage       decimal.Decimal            `json:"shortage"`
	Alternatives   []valuation.WarehouseStock `json:"alternatives"`
	SuggestedSplit []valuation.SplitLine      `json:"suggested_split,omitempty"`
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
