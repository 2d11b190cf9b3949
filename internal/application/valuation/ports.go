package valuation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/shopspring/decimal"
)

// MetricsRecorder receives engine measurements
type MetricsRecorder interface {
	RecordLayerCreated(ctx context.Context, direction string)
	RecordConsumption(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal, layers int, d time.Duration)
	RecordShortage(ctx context.Context, scope valuation.Scope, quantity decimal.Decimal)
	RecordNegativeBalance(ctx context.Context, outcome valuation.BalanceOutcome)
	RecordRetry(ctx context.Context, reason string)
	RecordUnresolvedWarehouse(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) RecordLayerCreated(context.Context, string) {}

func (noopMetrics) RecordConsumption(context.Context, valuation.Scope, decimal.Decimal, int, time.Duration) {
}

func (noopMetrics) RecordShortage(context.Context, valuation.Scope, decimal.Decimal) {}

func (noopMetrics) RecordNegativeBalance(context.Context, valuation.BalanceOutcome) {}

func (noopMetrics) RecordRetry(context.Context, string) {}

func (noopMetrics) RecordUnresolvedWarehouse(context.Context) {}

// ErrJobLocked is returned when another process holds an administrative job lock
var ErrJobLocked = errors.New("another run of this job is in progress")

// JobLocker serializes administrative jobs (backfill, recalculation, repair)
// across processes.
type JobLocker interface {
	// Obtain acquires key for ttl and returns a release function, or ErrJobLocked
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// localJobLocker is a process-local fallback used when no distributed locker is configured.
// Each key is held independently.
type localJobLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalJobLocker returns a JobLocker that only serializes jobs inside this process
func NewLocalJobLocker() JobLocker {
	return &localJobLocker{held: make(map[string]struct{})}
}

func (l *localJobLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrJobLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
