package valuation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrMovementAlreadyValued is returned when a movement already has its layer
var ErrMovementAlreadyValued = shared.NewDomainError("ALREADY_EXISTS", "Stock movement already has a valuation layer")

// LayerService turns stock movements into valuation layers and runs FIFO
// consumption for outgoing ones. It is the only writer of layer remainders
// outside the repair tooling.
type LayerService struct {
	tx        TransactionScope
	locations valuation.LocationRepository
	costs     valuation.ProductCostRepository
	settings  Settings
	logger    *zap.Logger
	publisher shared.EventPublisher
	metrics   MetricsRecorder
}

// NewLayerService creates a new LayerService
func NewLayerService(
	tx TransactionScope,
	locations valuation.LocationRepository,
	costs valuation.ProductCostRepository,
	settings Settings,
	logger *zap.Logger,
) *LayerService {
	return &LayerService{
		tx:        tx,
		locations: locations,
		costs:     costs,
		settings:  settings,
		logger:    logger.Named("valuation.layers"),
		metrics:   noopMetrics{},
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *LayerService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// SetMetrics sets the metrics recorder
func (s *LayerService) SetMetrics(m MetricsRecorder) {
	if m != nil {
		s.metrics = m
	}
}

// PostMovement loads the movement's locations and creates its layer
func (s *LayerService) PostMovement(ctx context.Context, cmd PostMovementCommand) (*PostMovementResult, error) {
	mv := &valuation.StockMovement{
		CompanyID:          cmd.CompanyID,
		ProductID:          cmd.ProductID,
		Quantity:           cmd.Quantity,
		UnitCost:           cmd.UnitCost,
		ReturnOfMovementID: cmd.ReturnOfMovementID,
		WarehouseHint:      cmd.WarehouseHint,
		Reference:          cmd.Reference,
		Date:               time.Now(),
	}
	if cmd.MovementID != nil {
		mv.ID = *cmd.MovementID
	} else {
		mv.ID = shared.NewBaseEntity().ID
	}

	var err error
	if mv.Source, err = s.loadLocation(ctx, cmd.SourceLocationID); err != nil {
		return nil, err
	}
	if mv.Destination, err = s.loadLocation(ctx, cmd.DestinationLocationID); err != nil {
		return nil, err
	}
	for _, in := range cmd.Lines {
		line := valuation.MoveLine{ID: shared.NewBaseEntity().ID, Quantity: in.Quantity}
		if line.Source, err = s.loadLocation(ctx, in.SourceLocationID); err != nil {
			return nil, err
		}
		if line.Destination, err = s.loadLocation(ctx, in.DestinationLocationID); err != nil {
			return nil, err
		}
		mv.Lines = append(mv.Lines, line)
	}
	return s.CreateLayer(ctx, mv)
}

func (s *LayerService) loadLocation(ctx context.Context, id *uuid.UUID) (*valuation.Location, error) {
	if id == nil {
		return nil, nil
	}
	loc, err := s.locations.FindByID(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("load location %s: %w", id, err)
	}
	return loc, nil
}

// CreateLayer creates exactly one layer for the movement. Outgoing movements
// consume their warehouse queue in the same transaction; lock conflicts and
// deadlocks retry the whole transaction.
func (s *LayerService) CreateLayer(ctx context.Context, mv *valuation.StockMovement) (*PostMovementResult, error) {
	if err := validateMovement(mv); err != nil {
		return nil, err
	}

	resolution := valuation.ResolveWarehouse(mv.WarehouseHint, mv.Quantity, mv)
	log := s.logger.With(
		zap.String("movement_id", mv.ID.String()),
		zap.String("product_id", mv.ProductID.String()),
		zap.String("quantity", mv.Quantity.String()),
	)

	var (
		result *PostMovementResult
		events []shared.DomainEvent
	)
	opts := TxOptions{Serializable: s.settings.Serializable && mv.IsOutgoing()}
	err := s.settings.Retry.Do(ctx, func(attempt int) error {
		return s.tx.Execute(ctx, opts, func(repos TransactionalRepositories) error {
			var err error
			result, events, err = s.createInTx(ctx, repos, mv, resolution)
			return err
		})
	}, func(err error, wait time.Duration) {
		log.Warn("stock records busy, retrying valuation",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
		s.metrics.RecordRetry(ctx, retryReason(err))
	})
	if err != nil {
		return nil, err
	}

	if !resolution.Resolved() {
		log.Error("valuation layer created without warehouse",
			zap.String("layer_id", result.Layer.ID.String()),
			zap.String("reason", resolution.Reason),
		)
		s.metrics.RecordUnresolvedWarehouse(ctx)
	} else {
		log.Debug("valuation layer created",
			zap.String("layer_id", result.Layer.ID.String()),
			zap.String("warehouse_id", resolution.WarehouseID.String()),
			zap.String("strategy", string(resolution.Strategy)),
			zap.String("value", result.Layer.Value.String()),
		)
	}
	direction := "in"
	if mv.IsOutgoing() {
		direction = "out"
	}
	s.metrics.RecordLayerCreated(ctx, direction)
	s.publish(ctx, events)
	return result, nil
}

func (s *LayerService) createInTx(
	ctx context.Context,
	repos TransactionalRepositories,
	mv *valuation.StockMovement,
	resolution valuation.Resolution,
) (*PostMovementResult, []shared.DomainEvent, error) {
	existing, err := repos.Layers().FindBySourceMovement(ctx, mv.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		return nil, nil, ErrMovementAlreadyValued
	}
	if err := repos.Movements().Save(ctx, mv); err != nil {
		return nil, nil, fmt.Errorf("save movement: %w", err)
	}

	scope := valuation.Scope{CompanyID: mv.CompanyID, ProductID: mv.ProductID}
	if resolution.Resolved() {
		scope.WarehouseID = *resolution.WarehouseID
	}

	var result *PostMovementResult
	var events []shared.DomainEvent
	if mv.IsIncoming() {
		result, events, err = s.createIncoming(ctx, repos, mv, scope, resolution)
	} else {
		result, events, err = s.createOutgoing(ctx, repos, mv, scope, resolution)
	}
	if err != nil {
		return nil, nil, err
	}
	if !resolution.Resolved() {
		events = append(events, valuation.NewWarehouseUnresolvedEvent(result.Layer, resolution.Reason))
	}
	events = append(events, valuation.NewLayerCreatedEvent(result.Layer, len(result.planConsumptions())))
	return result, events, nil
}

func (s *LayerService) createIncoming(
	ctx context.Context,
	repos TransactionalRepositories,
	mv *valuation.StockMovement,
	scope valuation.Scope,
	resolution valuation.Resolution,
) (*PostMovementResult, []shared.DomainEvent, error) {
	unitCost, source, err := s.incomingUnitCost(ctx, repos, mv, scope, resolution)
	if err != nil {
		return nil, nil, err
	}
	layer, err := valuation.NewIncomingLayer(scope, mv.Quantity, unitCost)
	if err != nil {
		return nil, nil, err
	}
	stampLayer(layer, mv)
	if resolution.Resolved() {
		if err := valuation.ValidateLayer(layer, s.settings.NegativeBalance.Tolerance); err != nil {
			return nil, nil, err
		}
	}
	if err := repos.Layers().Create(ctx, layer); err != nil {
		return nil, nil, fmt.Errorf("create layer: %w", err)
	}

	result := &PostMovementResult{Layer: layer, Resolution: resolution, CostSource: source}
	var events []shared.DomainEvent
	if mv.IsReturn() && source != CostSourceOriginalLayer {
		msg := fmt.Sprintf("original outgoing layer of movement %s not found; return priced from %s", mv.ReturnOfMovementID, source)
		result.Warnings = append(result.Warnings, msg)
		s.logger.Warn("return cost lookup failed, using lower-confidence cost",
			zap.String("movement_id", mv.ID.String()),
			zap.String("return_of", mv.ReturnOfMovementID.String()),
			zap.String("cost_source", source),
			zap.String("unit_cost", unitCost.String()),
		)
		events = append(events, valuation.NewReturnCostFallbackEvent(layer, unitCost, source))
	}
	return result, events, nil
}

// incomingUnitCost prices an incoming layer. A return takes the unit cost
// actually charged on the original outgoing layer, whatever warehouse it
// came from; when that lookup fails the destination queue's FIFO cost is used.
func (s *LayerService) incomingUnitCost(
	ctx context.Context,
	repos TransactionalRepositories,
	mv *valuation.StockMovement,
	scope valuation.Scope,
	resolution valuation.Resolution,
) (decimal.Decimal, string, error) {
	if mv.IsReturn() {
		original, err := repos.Layers().FindBySourceMovement(ctx, *mv.ReturnOfMovementID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return decimal.Zero, "", err
		}
		if cost, ok := chargedUnitCost(original); ok {
			return cost, CostSourceOriginalLayer, nil
		}
		if !resolution.Resolved() {
			return s.fallbackCost(ctx, repos, mv)
		}
		queue, err := repos.Layers().FindQueue(ctx, scope)
		if err != nil {
			return decimal.Zero, "", err
		}
		if len(queue) == 0 {
			return s.fallbackCost(ctx, repos, mv)
		}
		plan, _, err := priceShortage(ctx, valuation.PlanConsumption(scope, queue, mv.Quantity, decimal.Zero), queue,
			s.fallbackLookup(repos, mv))
		if err != nil {
			return decimal.Zero, "", err
		}
		return plan.UnitCost(), CostSourceDestinationFIFO, nil
	}
	if mv.UnitCost != nil {
		return *mv.UnitCost, CostSourceExplicit, nil
	}
	return s.fallbackCost(ctx, repos, mv)
}

func (s *LayerService) fallbackLookup(repos TransactionalRepositories, mv *valuation.StockMovement) func(context.Context) (decimal.Decimal, string, bool, error) {
	return func(ctx context.Context) (decimal.Decimal, string, bool, error) {
		return fallbackUnitCost(ctx, s.costs, repos.Layers(), mv.CompanyID, mv.ProductID)
	}
}

// fallbackCost prices the whole movement without a queue. A product with no
// cost basis at all is rejected rather than valued at zero.
func (s *LayerService) fallbackCost(ctx context.Context, repos TransactionalRepositories, mv *valuation.StockMovement) (decimal.Decimal, string, error) {
	cost, source, ok, err := s.fallbackLookup(repos, mv)(ctx)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !ok {
		return decimal.Zero, "", valuation.NewMissingCostError(mv.ProductID, mv.Quantity.Abs())
	}
	return cost, source, nil
}

// chargedUnitCost is the weighted unit cost of the outgoing layers of a movement
func chargedUnitCost(layers []*valuation.ValuationLayer) (decimal.Decimal, bool) {
	qty, value := decimal.Zero, decimal.Zero
	for _, l := range layers {
		if l.IsOutgoing() {
			qty = qty.Add(l.Quantity.Abs())
			value = value.Add(l.Value.Abs())
		}
	}
	if qty.IsZero() {
		return decimal.Zero, false
	}
	return value.Div(qty), true
}

func (s *LayerService) createOutgoing(
	ctx context.Context,
	repos TransactionalRepositories,
	mv *valuation.StockMovement,
	scope valuation.Scope,
	resolution valuation.Resolution,
) (*PostMovementResult, []shared.DomainEvent, error) {
	layer, err := valuation.NewOutgoingLayer(scope, mv.Quantity)
	if err != nil {
		return nil, nil, err
	}
	stampLayer(layer, mv)

	result := &PostMovementResult{Layer: layer, Resolution: resolution, CostSource: CostSourceFIFO}

	// Without a warehouse there is no queue to consume; value at the fallback
	// cost and leave the layer for the backfill tool.
	if !resolution.Resolved() {
		cost, source, err := s.fallbackCost(ctx, repos, mv)
		if err != nil {
			return nil, nil, err
		}
		layer.SetOutgoingValue(mv.Quantity.Abs().Mul(cost))
		result.CostSource = source
		if err := repos.Layers().Create(ctx, layer); err != nil {
			return nil, nil, fmt.Errorf("create layer: %w", err)
		}
		return result, nil, nil
	}

	start := time.Now()
	queue, err := repos.Layers().FindQueue(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	available := valuation.AvailableQuantity(queue)
	plan := valuation.PlanConsumption(scope, queue, mv.Quantity, decimal.Zero)

	if plan.HasShortage() && !layer.IsReturn() && s.settings.ShortagePolicy == ShortageError {
		alternatives, err := s.alternatives(ctx, repos.Layers(), scope)
		if err != nil {
			return nil, nil, err
		}
		s.metrics.RecordShortage(ctx, scope, plan.Shortage)
		return nil, nil, valuation.NewShortageError(scope, plan.Requested, plan.QuantitySatisfied, alternatives)
	}

	plan, shortageSource, err := priceShortage(ctx, plan, queue, s.fallbackLookup(repos, mv))
	if err != nil {
		return nil, nil, err
	}
	result.Plan = plan

	var events []shared.DomainEvent
	check := s.settings.NegativeBalance.Evaluate(layer, available)
	result.Balance = &check
	s.metrics.RecordNegativeBalance(ctx, check.Outcome)
	switch check.Outcome {
	case valuation.BalanceBlocked:
		alternatives, err := s.alternatives(ctx, repos.Layers(), scope)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, valuation.NewNegativeBalanceError(check, alternatives)
	case valuation.BalanceWarned:
		s.logger.Warn("warehouse balance goes negative",
			zap.String("scope", scope.String()),
			zap.String("available_before", check.AvailableBefore.String()),
			zap.String("shortfall", check.Shortfall.String()),
		)
		result.Warnings = append(result.Warnings, fmt.Sprintf("warehouse balance goes negative by %s", check.Shortfall))
		events = append(events, valuation.NewNegativeBalanceWarningEvent(layer.ID, check))
	}

	if len(plan.Consumptions) > 0 {
		locked, err := repos.Layers().LockForUpdate(ctx, plan.LayerIDs())
		if err != nil {
			return nil, nil, err
		}
		if err := valuation.ApplyPlan(plan, locked); err != nil {
			return nil, nil, err
		}
		for _, l := range locked {
			if err := valuation.ValidateLayer(l, s.settings.NegativeBalance.Tolerance); err != nil {
				return nil, nil, err
			}
			if err := repos.Layers().UpdateRemaining(ctx, l); err != nil {
				return nil, nil, fmt.Errorf("update layer %s: %w", l.ID, err)
			}
		}
	}

	layer.SetOutgoingValue(plan.TotalValue())
	if err := repos.Layers().Create(ctx, layer); err != nil {
		return nil, nil, fmt.Errorf("create layer: %w", err)
	}

	if plan.HasShortage() {
		s.logger.Warn("shortage priced at fallback cost",
			zap.String("scope", scope.String()),
			zap.String("shortage", plan.Shortage.String()),
			zap.String("unit_cost", plan.ShortageUnitCost.String()),
			zap.String("cost_source", shortageSource),
		)
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s units priced at %s cost %s",
			plan.Shortage, strings.ReplaceAll(shortageSource, "_", " "), plan.ShortageUnitCost))
		s.metrics.RecordShortage(ctx, scope, plan.Shortage)
		events = append(events, valuation.NewShortageDetectedEvent(layer.ID, plan))
	}
	s.metrics.RecordConsumption(ctx, scope, plan.QuantitySatisfied, len(plan.Consumptions), time.Since(start))
	return result, events, nil
}

// alternatives lists other warehouses of the company holding the product
func (s *LayerService) alternatives(ctx context.Context, layers valuation.LayerRepository, scope valuation.Scope) ([]valuation.WarehouseStock, error) {
	all, err := layers.AvailableByWarehouse(ctx, scope.CompanyID, scope.ProductID)
	if err != nil {
		return nil, err
	}
	return excludeWarehouse(all, scope.WarehouseID), nil
}

func excludeWarehouse(stock []valuation.WarehouseStock, warehouseID uuid.UUID) []valuation.WarehouseStock {
	out := make([]valuation.WarehouseStock, 0, len(stock))
	for _, ws := range stock {
		if ws.WarehouseID != warehouseID && ws.Available.IsPositive() {
			out = append(out, ws)
		}
	}
	return out
}

func (s *LayerService) publish(ctx context.Context, events []shared.DomainEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Error("failed to publish valuation events", zap.Error(err))
	}
}

func (r *PostMovementResult) planConsumptions() []valuation.Consumption {
	if r.Plan == nil {
		return nil
	}
	return r.Plan.Consumptions
}

func stampLayer(l *valuation.ValuationLayer, mv *valuation.StockMovement) {
	id := mv.ID
	l.SourceMovementID = &id
	l.ReturnOfMovementID = mv.ReturnOfMovementID
	l.Description = mv.Reference
}

func validateMovement(mv *valuation.StockMovement) error {
	switch {
	case mv == nil:
		return shared.NewDomainError("INVALID_INPUT", "movement is required")
	case mv.CompanyID == uuid.Nil:
		return shared.NewDomainError("INVALID_INPUT", "company is required")
	case mv.ProductID == uuid.Nil:
		return shared.NewDomainError("INVALID_INPUT", "product is required")
	case mv.Quantity.IsZero():
		return shared.NewDomainError("INVALID_INPUT", "movement quantity must not be zero")
	case valuation.ExceedsScale(mv.Quantity, valuation.QuantityScale):
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("movement quantity %s has more than %d decimal places", mv.Quantity, valuation.QuantityScale))
	case mv.UnitCost != nil && mv.UnitCost.IsNegative():
		return shared.NewDomainError("INVALID_INPUT", "unit cost cannot be negative")
	case mv.UnitCost != nil && valuation.ExceedsScale(*mv.UnitCost, valuation.ValueScale):
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("unit cost %s has more than %d decimal places", mv.UnitCost, valuation.ValueScale))
	}
	for _, l := range mv.Lines {
		if valuation.ExceedsScale(l.Quantity, valuation.QuantityScale) {
			return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("move line quantity %s has more than %d decimal places", l.Quantity, valuation.QuantityScale))
		}
	}
	if mv.ID == uuid.Nil {
		mv.ID = shared.NewBaseEntity().ID
	}
	return nil
}

func retryReason(err error) string {
	if errors.Is(err, valuation.ErrDeadlockDetected) {
		return "deadlock"
	}
	return "lock_not_available"
}
