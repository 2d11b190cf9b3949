package handler

import (
	"context"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// MovementPoster creates valuation layers for stock movements
type MovementPoster interface {
	PostMovement(ctx context.Context, cmd appval.PostMovementCommand) (*appval.PostMovementResult, error)
}

// FifoReader answers read-only questions about the FIFO queues
type FifoReader interface {
	GetQueue(ctx context.Context, scope valuation.Scope) ([]*valuation.ValuationLayer, error)
	CalculateCost(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal) (*appval.CostResult, error)
	CalculateCostWithLandedCost(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal) (*appval.LandedCostResult, error)
	BatchCalculateCost(ctx context.Context, companyID uuid.UUID, requests []appval.CostRequest) ([]*appval.CostResult, error)
	ValidateAvailability(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal, allowFallback bool) (*appval.AvailabilityReport, error)
	SuggestTransfer(ctx context.Context, destination valuation.Scope, quantity decimal.Decimal) (*appval.TransferProposal, error)
	WarehouseBalances(ctx context.Context, companyID uuid.UUID, productID *uuid.UUID) ([]valuation.WarehouseBalance, error)
}

// LandedCostAllocator records landed cost against incoming layers
type LandedCostAllocator interface {
	Allocate(ctx context.Context, cmd appval.AllocateLandedCostCommand) ([]*valuation.LandedCostAllocation, error)
	ListByLayer(ctx context.Context, companyID, layerID uuid.UUID) ([]*valuation.LandedCostAllocation, error)
}

// ValuationHandler serves movement posting and FIFO queries
type ValuationHandler struct {
	BaseHandler
	layers MovementPoster
	fifo   FifoReader
	landed LandedCostAllocator
}

// NewValuationHandler creates a new ValuationHandler
func NewValuationHandler(layers MovementPoster, fifo FifoReader, landed LandedCostAllocator) *ValuationHandler {
	return &ValuationHandler{layers: layers, fifo: fifo, landed: landed}
}

// PostMovement creates the valuation layer of a stock movement.
// POST /valuation/movements
func (h *ValuationHandler) PostMovement(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var req PostMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	ctx, span := telemetry.StartSpan(c.Request.Context(), "valuation.post_movement",
		attribute.String(telemetry.SpanAttrCompanyID, companyID.String()),
		attribute.String(telemetry.SpanAttrProductID, req.ProductID),
		attribute.String(telemetry.SpanAttrQuantity, req.Quantity.String()),
	)
	result, err := h.layers.PostMovement(ctx, req.toCommand(companyID))
	telemetry.EndSpan(span, err)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toPostMovementResponse(result))
}

// GetQueue lists the open layers of one queue in consumption order.
// GET /valuation/queue
func (h *ValuationHandler) GetQueue(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var q ScopeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	layers, err := h.fifo.GetQueue(c.Request.Context(), q.scope(companyID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toLayerResponses(layers))
}

// CalculateCost prices a quantity against one queue without consuming it.
// GET /valuation/cost
func (h *ValuationHandler) CalculateCost(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	q, quantity, ok := h.bindQuantityQuery(c)
	if !ok {
		return
	}
	scope := q.scope(companyID)
	if q.IncludeLanded {
		result, err := h.fifo.CalculateCostWithLandedCost(c.Request.Context(), scope, quantity)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, toLandedCostResponse(result))
		return
	}
	result, err := h.fifo.CalculateCost(c.Request.Context(), scope, quantity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toCostResponse(result))
}

// BatchCalculateCost prices several quantities, each against the current state.
// POST /valuation/cost/batch
func (h *ValuationHandler) BatchCalculateCost(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var req BatchCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	requests := make([]appval.CostRequest, 0, len(req.Items))
	for _, item := range req.Items {
		requests = append(requests, appval.CostRequest{
			ProductID:   uuid.MustParse(item.ProductID),
			WarehouseID: uuid.MustParse(item.WarehouseID),
			Quantity:    item.Quantity,
		})
	}
	results, err := h.fifo.BatchCalculateCost(c.Request.Context(), companyID, requests)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]CostResponse, 0, len(results))
	for _, r := range results {
		out = append(out, toCostResponse(r))
	}
	h.Success(c, out)
}

// CheckAvailability reports whether a warehouse covers a quantity alone and
// where the rest could come from.
// GET /valuation/availability
func (h *ValuationHandler) CheckAvailability(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	q, quantity, ok := h.bindQuantityQuery(c)
	if !ok {
		return
	}
	report, err := h.fifo.ValidateAvailability(c.Request.Context(), q.scope(companyID), quantity, q.AllowFallback)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAvailabilityResponse(report))
}

// SuggestTransfer proposes inter-warehouse transfers covering a shortfall.
// Nothing is committed.
// GET /valuation/transfers/suggest
func (h *ValuationHandler) SuggestTransfer(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	q, quantity, ok := h.bindQuantityQuery(c)
	if !ok {
		return
	}
	proposal, err := h.fifo.SuggestTransfer(c.Request.Context(), q.scope(companyID), quantity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTransferProposalResponse(proposal))
}

// WarehouseBalances summarises remaining quantity and value per product and
// warehouse, optionally for one product.
// GET /valuation/balances
func (h *ValuationHandler) WarehouseBalances(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var productID *uuid.UUID
	if raw := c.Query("product_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.BadRequest(c, "Invalid product ID format")
			return
		}
		productID = &id
	}
	balances, err := h.fifo.WarehouseBalances(c.Request.Context(), companyID, productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]WarehouseBalanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, WarehouseBalanceResponse{
			ProductID:         b.ProductID.String(),
			WarehouseID:       b.WarehouseID.String(),
			RemainingQuantity: b.RemainingQuantity,
			RemainingValue:    b.RemainingValue,
		})
	}
	h.Success(c, out)
}

// AllocateLandedCost attaches an amount to one layer or splits it across
// several layers of one warehouse by quantity.
// POST /valuation/landed-costs
func (h *ValuationHandler) AllocateLandedCost(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var req AllocateLandedCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	cmd := appval.AllocateLandedCostCommand{
		CompanyID: companyID,
		Amount:    req.Amount,
		Reference: req.Reference,
	}
	for _, id := range req.LayerIDs {
		cmd.LayerIDs = append(cmd.LayerIDs, uuid.MustParse(id))
	}
	allocations, err := h.landed.Allocate(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toAllocationResponses(allocations))
}

// ListLandedCosts lists the allocations of one layer.
// GET /valuation/layers/:id/landed-costs
func (h *ValuationHandler) ListLandedCosts(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	layerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid layer ID format")
		return
	}
	allocations, err := h.landed.ListByLayer(c.Request.Context(), companyID, layerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAllocationResponses(allocations))
}

func (h *ValuationHandler) bindQuantityQuery(c *gin.Context) (QuantityQuery, decimal.Decimal, bool) {
	var q QuantityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return q, decimal.Zero, false
	}
	quantity, err := parseQuantity(q.Quantity)
	if err != nil {
		h.BadRequest(c, err.Error())
		return q, decimal.Zero, false
	}
	return q, quantity, true
}
