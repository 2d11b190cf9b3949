package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig holds configuration for database metrics collection.
type DBMetricsConfig struct {
	SlowQueryThreshold time.Duration // default 200ms
	PoolStatsInterval  time.Duration // default 15s
}

// DBMetrics records query latency, lock contention and pool usage.
type DBMetrics struct {
	poolConnections *Gauge
	queryTotal      *Counter
	queryDuration   *Histogram
	slowQueryTotal  *Counter
	contentionTotal *Counter

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDBMetrics creates the database instruments on meter.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval == 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{config: cfg, logger: logger, stopCh: make(chan struct{})}
	var err error
	if m.poolConnections, err = NewGauge(meter, "db_pool_connections",
		"Connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter, "db_query_total",
		"Database statements by operation", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total",
		"Statements slower than the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	if m.contentionTotal, err = NewCounter(meter, "db_lock_contention_total",
		"Statements failed by lock timeout, deadlock or serialization failure", "{query}"); err != nil {
		return nil, err
	}
	return m, nil
}

// Initialize installs the metrics callbacks on db and starts sampling the
// connection pool until Stop is called.
func (m *DBMetrics) Initialize(ctx context.Context, db *gorm.DB) error {
	after := func(tx *gorm.DB) {
		start := tx.Statement.Context
		if start == nil {
			return
		}
		if elapsed, ok := sinceStart(start); ok {
			m.RecordQuery(start, operationOf(tx.Statement.SQL.String()), tx.Statement.Table, elapsed, tx.Error)
		}
	}
	if err := registerAround(db, "db_metrics", stampStart, after); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	m.sqlDB = sqlDB
	go m.samplePool(ctx)
	return nil
}

// RecordQuery records one statement.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration, err error) {
	op := AttrDBOperation.String(operation)
	m.queryTotal.Inc(ctx, op, AttrDBTable.String(table))
	m.queryDuration.RecordDuration(ctx, d, op)
	if d > m.config.SlowQueryThreshold {
		m.slowQueryTotal.Inc(ctx, op, AttrDBTable.String(table))
	}
	if kind := contentionKind(err); kind != "" {
		m.contentionTotal.Inc(ctx, AttrReason.String(kind), AttrDBTable.String(table))
	}
}

func (m *DBMetrics) samplePool(ctx context.Context) {
	ticker := time.NewTicker(m.config.PoolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.sqlDB.Stats()
			m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
			m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
			m.poolConnections.Record(ctx, int64(stats.MaxOpenConnections), AttrDBState.String("max"))
		}
	}
}

// Stop ends pool sampling.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// contentionKind names the Postgres contention failure behind err, or "".
func contentionKind(err error) string {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return ""
	}
	switch pgErr.Code {
	case "55P03":
		return "lock_not_available"
	case "40P01":
		return "deadlock_detected"
	case "40001":
		return "serialization_failure"
	}
	return ""
}

func operationOf(sql string) string {
	s := strings.TrimSpace(sql)
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	switch op := strings.ToUpper(s); op {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "SET":
		return strings.ToLower(op)
	}
	return "other"
}
