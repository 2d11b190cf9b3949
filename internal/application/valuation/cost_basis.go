package valuation

import (
	"context"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fallbackUnitCost prices quantity that no layer covers: the product's
// standard cost, else the unit cost of its latest receipt in any warehouse.
// ok is false when the product has neither.
func fallbackUnitCost(
	ctx context.Context,
	costs valuation.ProductCostRepository,
	layers valuation.LayerRepository,
	companyID, productID uuid.UUID,
) (cost decimal.Decimal, source string, ok bool, err error) {
	std, err := costs.StandardCost(ctx, companyID, productID)
	if err != nil {
		return decimal.Zero, "", false, err
	}
	return fallbackFromStandard(ctx, layers, companyID, productID, std)
}

// fallbackFromStandard is fallbackUnitCost with the standard cost already loaded
func fallbackFromStandard(
	ctx context.Context,
	layers valuation.LayerRepository,
	companyID, productID uuid.UUID,
	std decimal.Decimal,
) (decimal.Decimal, string, bool, error) {
	if std.IsPositive() {
		return std, CostSourceStandard, true, nil
	}
	latest, found, err := layers.LatestIncomingUnitCost(ctx, companyID, productID)
	if err != nil {
		return decimal.Zero, "", false, err
	}
	if found && latest.IsPositive() {
		return latest, CostSourceLatestReceipt, true, nil
	}
	return decimal.Zero, "", false, nil
}

// priceShortage re-plans the consumption with the uncovered quantity priced at
// the fallback cost. A plan without shortage is returned as is.
func priceShortage(
	ctx context.Context,
	plan *valuation.ConsumptionPlan,
	queue []*valuation.ValuationLayer,
	lookup func(context.Context) (decimal.Decimal, string, bool, error),
) (*valuation.ConsumptionPlan, string, error) {
	if !plan.HasShortage() {
		return plan, CostSourceFIFO, nil
	}
	cost, source, ok, err := lookup(ctx)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", valuation.NewMissingCostError(plan.Scope.ProductID, plan.Shortage)
	}
	return valuation.PlanConsumption(plan.Scope, queue, plan.Requested, cost), source, nil
}
