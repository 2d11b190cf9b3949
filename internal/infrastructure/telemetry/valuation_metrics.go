package telemetry

import (
	"context"
	"sync"
	"time"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ValuationMetrics records FIFO engine activity. It implements
// appval.MetricsRecorder and periodically samples ledger health gauges.
type ValuationMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	layersCreated    *Counter
	shortages        *Counter
	negativeBalance  *Counter
	lockRetries      *Counter
	unresolved       *Counter
	consumptionTime  *Histogram
	shortageQuantity *Histogram

	// Ledger health gauges, sampled periodically
	missingWarehouse *Gauge
	repairCandidates *Gauge
	healthProvider   LedgerHealthProvider

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// LedgerHealthProvider reports ledger health counts for the periodic gauges
type LedgerHealthProvider interface {
	CompanyIDs(ctx context.Context) ([]uuid.UUID, error)
	MissingWarehouseCount(ctx context.Context, companyID uuid.UUID) (int64, error)
	RepairCandidateCount(ctx context.Context, companyID uuid.UUID) (int64, error)
}

// ValuationMetricsConfig holds configuration for valuation metrics.
type ValuationMetricsConfig struct {
	Meter          metric.Meter
	Logger         *zap.Logger
	HealthProvider LedgerHealthProvider
}

// NewValuationMetrics creates the valuation instruments
func NewValuationMetrics(cfg ValuationMetricsConfig) (*ValuationMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	vm := &ValuationMetrics{
		meter:          cfg.Meter,
		logger:         logger,
		healthProvider: cfg.HealthProvider,
		stopChan:       make(chan struct{}),
	}

	var err error
	if vm.layersCreated, err = NewCounter(cfg.Meter, "erp_valuation_layers_created_total",
		"Valuation layers created", "{layers}"); err != nil {
		return nil, err
	}
	if vm.shortages, err = NewCounter(cfg.Meter, "erp_valuation_shortage_total",
		"Outgoing movements valued partly at standard cost", "{movements}"); err != nil {
		return nil, err
	}
	if vm.negativeBalance, err = NewCounter(cfg.Meter, "erp_valuation_negative_balance_total",
		"Negative balance checks by outcome", "{checks}"); err != nil {
		return nil, err
	}
	if vm.lockRetries, err = NewCounter(cfg.Meter, "erp_valuation_lock_retries_total",
		"Transactions retried after a lock conflict or deadlock", "{retries}"); err != nil {
		return nil, err
	}
	if vm.unresolved, err = NewCounter(cfg.Meter, "erp_valuation_unresolved_warehouse_total",
		"Layers created without a warehouse", "{layers}"); err != nil {
		return nil, err
	}
	if vm.consumptionTime, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "erp_valuation_consumption_duration_seconds",
		Description: "Time to plan and apply a FIFO consumption",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if vm.shortageQuantity, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "erp_valuation_shortage_quantity",
		Description: "Quantity not covered by FIFO layers",
		Unit:        "{units}",
	}); err != nil {
		return nil, err
	}
	if vm.missingWarehouse, err = NewGauge(cfg.Meter, "erp_valuation_layers_missing_warehouse",
		"Layers without a warehouse", "{layers}"); err != nil {
		return nil, err
	}
	if vm.repairCandidates, err = NewGauge(cfg.Meter, "erp_valuation_repair_candidates",
		"Layers matching a known corruption pattern", "{layers}"); err != nil {
		return nil, err
	}
	return vm, nil
}

// RecordLayerCreated counts a new layer by direction (incoming, outgoing)
func (vm *ValuationMetrics) RecordLayerCreated(ctx context.Context, direction string) {
	vm.layersCreated.Inc(ctx, AttrDirection.String(direction))
}

// RecordConsumption records how long a consumption took and how many layers it touched
func (vm *ValuationMetrics) RecordConsumption(ctx context.Context, scope valuation.Scope, _ decimal.Decimal, layers int, d time.Duration) {
	vm.consumptionTime.RecordDuration(ctx, d,
		AttrWarehouseID.String(scope.WarehouseID.String()),
		AttrLayerCount.Int(layers),
	)
}

// RecordShortage counts a shortage and records its size
func (vm *ValuationMetrics) RecordShortage(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal) {
	attrs := AttrWarehouseID.String(scope.WarehouseID.String())
	vm.shortages.Inc(ctx, attrs)
	vm.shortageQuantity.Record(ctx, quantity.InexactFloat64(), attrs)
}

// RecordNegativeBalance counts balance checks that did not pass cleanly
func (vm *ValuationMetrics) RecordNegativeBalance(ctx context.Context, outcome valuation.BalanceOutcome) {
	vm.negativeBalance.Inc(ctx, AttrOutcome.String(string(outcome)))
}

// RecordRetry counts a retried transaction by reason
func (vm *ValuationMetrics) RecordRetry(ctx context.Context, reason string) {
	vm.lockRetries.Inc(ctx, AttrReason.String(reason))
}

// RecordUnresolvedWarehouse counts a layer created without a warehouse
func (vm *ValuationMetrics) RecordUnresolvedWarehouse(ctx context.Context) {
	vm.unresolved.Inc(ctx)
}

// StartPeriodicCollection samples the ledger health gauges every interval
// (default 5 minutes). It returns immediately; use Stop to end collection.
func (vm *ValuationMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	vm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go vm.runPeriodicCollection(ctx, interval)
	})
}

func (vm *ValuationMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	vm.collectHealth(ctx)
	for {
		select {
		case <-vm.stopChan:
			vm.logger.Info("Stopping periodic valuation metrics collection")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			vm.collectHealth(ctx)
		}
	}
}

func (vm *ValuationMetrics) collectHealth(ctx context.Context) {
	if vm.healthProvider == nil {
		return
	}
	companies, err := vm.healthProvider.CompanyIDs(ctx)
	if err != nil {
		vm.logger.Error("Failed to list companies for valuation metrics", zap.Error(err))
		return
	}
	for _, id := range companies {
		attr := AttrCompanyID.String(id.String())
		if n, err := vm.healthProvider.MissingWarehouseCount(ctx, id); err != nil {
			vm.logger.Warn("Failed to count layers without warehouse", zap.String("company_id", id.String()), zap.Error(err))
		} else {
			vm.missingWarehouse.Record(ctx, n, attr)
		}
		if n, err := vm.healthProvider.RepairCandidateCount(ctx, id); err != nil {
			vm.logger.Warn("Failed to count repair candidates", zap.String("company_id", id.String()), zap.Error(err))
		} else {
			vm.repairCandidates.Record(ctx, n, attr)
		}
	}
}

// Stop stops the periodic collection.
func (vm *ValuationMetrics) Stop() {
	vm.stopOnce.Do(func() {
		close(vm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewValuationMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

var _ appval.MetricsRecorder = (*ValuationMetrics)(nil)
