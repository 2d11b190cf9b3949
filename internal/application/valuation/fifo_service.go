package valuation

import (
	"context"
	"fmt"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FifoService answers read-only questions about warehouse FIFO queues.
// Nothing here takes locks or writes layers.
type FifoService struct {
	layers      valuation.LayerRepository
	landedCosts valuation.LandedCostRepository
	costs       valuation.ProductCostRepository
	logger      *zap.Logger
}

// NewFifoService creates a new FifoService
func NewFifoService(
	layers valuation.LayerRepository,
	landedCosts valuation.LandedCostRepository,
	costs valuation.ProductCostRepository,
	logger *zap.Logger,
) *FifoService {
	return &FifoService{
		layers:      layers,
		landedCosts: landedCosts,
		costs:       costs,
		logger:      logger.Named("valuation.fifo"),
	}
}

// GetQueue returns the available layers of a warehouse queue, oldest first
func (s *FifoService) GetQueue(ctx context.Context, scope valuation.Scope) ([]*valuation.ValuationLayer, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	queue, err := s.layers.FindQueue(ctx, scope)
	if err != nil {
		return nil, err
	}
	valuation.SortQueue(queue)
	return queue, nil
}

// GetAvailableQuantity sums the remaining quantity of a warehouse queue
func (s *FifoService) GetAvailableQuantity(ctx context.Context, scope valuation.Scope) (decimal.Decimal, error) {
	if err := validateScope(scope); err != nil {
		return decimal.Zero, err
	}
	return s.layers.SumRemaining(ctx, scope)
}

// CalculateCost prices quantity from the warehouse queue without consuming it.
// Any shortage is priced at the product's standard cost, or at its latest
// receipt when it has none; a MissingCostError is returned when neither exists.
func (s *FifoService) CalculateCost(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal) (*CostResult, error) {
	plan, err := s.plan(ctx, scope, quantity)
	if err != nil {
		return nil, err
	}
	return newCostResult(plan), nil
}

func (s *FifoService) plan(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal) (*valuation.ConsumptionPlan, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_INPUT", "quantity must be positive")
	}
	queue, err := s.layers.FindQueue(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, scope, queue, quantity)
}

func (s *FifoService) price(ctx context.Context, scope valuation.Scope, queue []*valuation.ValuationLayer, quantity decimal.Decimal) (*valuation.ConsumptionPlan, error) {
	plan := valuation.PlanConsumption(scope, queue, quantity, decimal.Zero)
	plan, _, err := priceShortage(ctx, plan, queue, func(ctx context.Context) (decimal.Decimal, string, bool, error) {
		return fallbackUnitCost(ctx, s.costs, s.layers, scope.CompanyID, scope.ProductID)
	})
	return plan, err
}

// ValidateAvailability checks whether the warehouse alone can supply quantity.
// When it cannot and allowFallback is false a ShortageError is returned;
// otherwise the report carries alternatives and a suggested split.
func (s *FifoService) ValidateAvailability(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal, allowFallback bool) (*AvailabilityReport, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_INPUT", "quantity must be positive")
	}
	available, err := s.layers.SumRemaining(ctx, scope)
	if err != nil {
		return nil, err
	}
	report := &AvailabilityReport{
		Scope:      scope,
		Requested:  quantity,
		Available:  available,
		Shortage:   decimal.Zero,
		Sufficient: available.GreaterThanOrEqual(quantity),
	}
	if report.Sufficient {
		return report, nil
	}

	all, err := s.layers.AvailableByWarehouse(ctx, scope.CompanyID, scope.ProductID)
	if err != nil {
		return nil, err
	}
	alternatives := excludeWarehouse(all, scope.WarehouseID)
	if !allowFallback {
		return nil, valuation.NewShortageError(scope, quantity, available, alternatives)
	}
	report.Shortage = quantity.Sub(available)
	report.Alternatives = alternatives
	report.SuggestedSplit = valuation.SuggestSplit(scope.WarehouseID, quantity, available, alternatives)
	return report, nil
}

// SuggestTransfer proposes transfers from other warehouses, largest holder
// first, to cover what the destination is short of. The proposal is not
// executed; each line carries the FIFO cost the source would charge.
func (s *FifoService) SuggestTransfer(ctx context.Context, destination valuation.Scope, quantity decimal.Decimal) (*TransferProposal, error) {
	if err := validateScope(destination); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_INPUT", "quantity must be positive")
	}
	available, err := s.layers.SumRemaining(ctx, destination)
	if err != nil {
		return nil, err
	}
	proposal := &TransferProposal{
		CompanyID:   destination.CompanyID,
		ProductID:   destination.ProductID,
		Destination: destination.WarehouseID,
		Requested:   quantity,
		Available:   available,
		Shortfall:   decimal.Max(quantity.Sub(available), decimal.Zero),
	}
	if !proposal.Shortfall.IsPositive() {
		proposal.Covered = true
		return proposal, nil
	}

	all, err := s.layers.AvailableByWarehouse(ctx, destination.CompanyID, destination.ProductID)
	if err != nil {
		return nil, err
	}
	need := proposal.Shortfall
	for _, src := range excludeWarehouse(all, destination.WarehouseID) {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(need, src.Available)
		from := valuation.Scope{CompanyID: destination.CompanyID, ProductID: destination.ProductID, WarehouseID: src.WarehouseID}
		cost, err := s.CalculateCost(ctx, from, take)
		if err != nil {
			return nil, fmt.Errorf("price transfer from %s: %w", src.WarehouseID, err)
		}
		proposal.Lines = append(proposal.Lines, TransferLine{
			FromWarehouseID: src.WarehouseID,
			ToWarehouseID:   destination.WarehouseID,
			Quantity:        take,
			EstimatedCost:   cost.Cost,
		})
		need = need.Sub(take)
	}
	proposal.Covered = !need.IsPositive()
	return proposal, nil
}

// BatchCalculateCost prices many (product, warehouse, quantity) requests with
// one queue prefetch. Requests are independent: two entries for the same
// queue are each priced from the full queue.
func (s *FifoService) BatchCalculateCost(ctx context.Context, companyID uuid.UUID, requests []CostRequest) ([]*CostResult, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "company is required")
	}
	if len(requests) == 0 {
		return []*CostResult{}, nil
	}

	keys := make([]valuation.QueueKey, 0, len(requests))
	seenKey := make(map[valuation.QueueKey]bool)
	productIDs := make([]uuid.UUID, 0, len(requests))
	seenProduct := make(map[uuid.UUID]bool)
	for i, r := range requests {
		if r.ProductID == uuid.Nil || r.WarehouseID == uuid.Nil {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("request %d: product and warehouse are required", i))
		}
		if !r.Quantity.IsPositive() {
			return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("request %d: quantity must be positive", i))
		}
		k := valuation.QueueKey{ProductID: r.ProductID, WarehouseID: r.WarehouseID}
		if !seenKey[k] {
			seenKey[k] = true
			keys = append(keys, k)
		}
		if !seenProduct[r.ProductID] {
			seenProduct[r.ProductID] = true
			productIDs = append(productIDs, r.ProductID)
		}
	}

	queues, err := s.layers.FindQueues(ctx, companyID, keys)
	if err != nil {
		return nil, err
	}
	stdCosts, err := s.costs.StandardCosts(ctx, companyID, productIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*CostResult, len(requests))
	for i, r := range requests {
		scope := valuation.Scope{CompanyID: companyID, ProductID: r.ProductID, WarehouseID: r.WarehouseID}
		k := valuation.QueueKey{ProductID: r.ProductID, WarehouseID: r.WarehouseID}
		queue := queues[k]
		std := stdCosts[r.ProductID]
		plan := valuation.PlanConsumption(scope, queue, r.Quantity, decimal.Zero)
		plan, _, err := priceShortage(ctx, plan, queue, func(ctx context.Context) (decimal.Decimal, string, bool, error) {
			return fallbackFromStandard(ctx, s.layers, companyID, scope.ProductID, std)
		})
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		results[i] = newCostResult(plan)
	}
	s.logger.Debug("batch cost calculated",
		zap.String("company_id", companyID.String()),
		zap.Int("requests", len(requests)),
		zap.Int("queues", len(keys)),
	)
	return results, nil
}

// CalculateCostWithLandedCost prices quantity like CalculateCost and adds the
// landed cost allocated to each consumed layer at this warehouse, pro rata to
// the consumed quantity.
func (s *FifoService) CalculateCostWithLandedCost(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal) (*LandedCostResult, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_INPUT", "quantity must be positive")
	}
	queue, err := s.layers.FindQueue(ctx, scope)
	if err != nil {
		return nil, err
	}
	plan, err := s.price(ctx, scope, queue, quantity)
	if err != nil {
		return nil, err
	}
	base := newCostResult(plan)
	result := &LandedCostResult{
		CostResult:      base,
		LandedCost:      decimal.Zero,
		TotalCost:       base.Cost,
		TotalUnitCost:   base.UnitCost,
		LandedBreakdown: make([]LandedConsumption, 0, len(plan.Consumptions)),
	}
	if len(plan.Consumptions) == 0 {
		return result, nil
	}

	totals, err := s.landedCosts.SumByLayers(ctx, scope.WarehouseID, plan.LayerIDs())
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*valuation.ValuationLayer, len(queue))
	for _, l := range queue {
		byID[l.ID] = l
	}
	perUnit := valuation.LandedUnitCosts(byID, totals)

	for _, c := range plan.Consumptions {
		unit := perUnit[c.LayerID]
		landed := c.Quantity.Mul(unit).Round(valuation.ValueScale)
		result.LandedBreakdown = append(result.LandedBreakdown, LandedConsumption{
			Consumption:    c,
			LandedUnitCost: unit,
			LandedCost:     landed,
		})
		result.LandedCost = result.LandedCost.Add(landed)
	}
	result.TotalCost = base.Cost.Add(result.LandedCost)
	result.TotalUnitCost = result.TotalCost.DivRound(plan.Requested, valuation.ValueScale)
	return result, nil
}

// WarehouseBalances returns per-warehouse remaining quantity and value
func (s *FifoService) WarehouseBalances(ctx context.Context, companyID uuid.UUID, productID *uuid.UUID) ([]valuation.WarehouseBalance, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "company is required")
	}
	return s.layers.Balances(ctx, companyID, productID)
}

func validateScope(scope valuation.Scope) error {
	switch {
	case scope.CompanyID == uuid.Nil:
		return shared.NewDomainError("INVALID_INPUT", "company is required")
	case scope.ProductID == uuid.Nil:
		return shared.NewDomainError("INVALID_INPUT", "product is required")
	case scope.WarehouseID == uuid.Nil:
		return shared.NewDomainError(valuation.CodeMissingWarehouse, "warehouse is required for FIFO queries")
	}
	return nil
}
