package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/stockvaluation/internal/bootstrap"
	"github.com/erp/stockvaluation/internal/infrastructure/cache"
	"github.com/erp/stockvaluation/internal/infrastructure/config"
	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence"
	"github.com/erp/stockvaluation/internal/infrastructure/scheduler"
	"github.com/erp/stockvaluation/internal/infrastructure/telemetry"
	"github.com/erp/stockvaluation/internal/interfaces/http/handler"
	"github.com/erp/stockvaluation/internal/interfaces/http/router"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	baseLog = baseLog.Named(cfg.App.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry. Every provider degrades to a no-op when disabled.
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize log export", zap.Error(err))
	}

	log := logProvider.Bridge(baseLog, zapcore.InfoLevel)
	defer func() { _ = log.Sync() }()

	log.Info("Starting stock valuation service",
		zap.String("version", version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("shortage_policy", cfg.Valuation.ShortagePolicy),
		zap.String("negative_balance_mode", cfg.Valuation.NegativeBalanceMode),
	)

	settings, err := bootstrap.Settings(cfg.Valuation)
	if err != nil {
		log.Fatal("Invalid valuation settings", zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log); err != nil {
		log.Warn("Database tracing disabled", zap.Error(err))
	}

	var valuationMetrics *telemetry.ValuationMetrics
	if meterProvider.IsEnabled() {
		dbMetrics, err := telemetry.NewDBMetrics(meterProvider.Meter("db"), telemetry.DBMetricsConfig{
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		}, log)
		if err == nil {
			err = dbMetrics.Initialize(ctx, db.DB)
		}
		if err != nil {
			log.Warn("Database metrics disabled", zap.Error(err))
		} else {
			defer dbMetrics.Stop()
		}

		valuationMetrics, err = telemetry.NewValuationMetrics(telemetry.ValuationMetricsConfig{
			Meter:          meterProvider.Meter("valuation"),
			Logger:         log,
			HealthProvider: telemetry.NewGormLedgerHealthProvider(db.DB, decimal.NewFromFloat(cfg.Valuation.RoundingEpsilon)),
		})
		if err != nil {
			log.Warn("Valuation metrics disabled", zap.Error(err))
			valuationMetrics = nil
		} else {
			valuationMetrics.StartPeriodicCollection(ctx, 5*time.Minute)
			defer valuationMetrics.Stop()
		}
	}

	locker, redisClient := cache.NewJobLockerFactory(cfg.Redis, cache.WithLogger(log)).CreateLocker(ctx)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	opts := bootstrap.Options{
		Settings:    settings,
		LockTimeout: cfg.Valuation.LockTimeout,
		Locker:      locker,
		Logger:      log,
	}
	if valuationMetrics != nil {
		opts.Metrics = valuationMetrics
	}
	services := bootstrap.NewServices(db.DB, opts)
	if err := services.Bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	integrity, err := scheduler.NewIntegrityScheduler(scheduler.IntegritySchedulerConfig{
		Enabled:    cfg.Scheduler.Enabled,
		Schedule:   cfg.Scheduler.IntegrityCron,
		Companies:  parseCompanies(cfg.Scheduler.Companies, log),
		JobTimeout: cfg.Scheduler.JobTimeout,
		LockTTL:    settings.JobLockTTL,
	}, services.Migration, locker, scheduler.NewGormJobRunRepository(db.DB), log)
	if err != nil {
		log.Fatal("Invalid scheduler configuration", zap.Error(err))
	}
	if err := integrity.Start(ctx); err != nil {
		log.Fatal("Failed to start integrity scheduler", zap.Error(err))
	}

	engine := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		HTTP:           cfg.HTTP,
		TracingEnabled: tracerProvider.IsEnabled(),
		Meter:          meterProvider,
		Logger:         log,
	}, router.Handlers{
		Valuation: handler.NewValuationHandler(services.Layers, services.Fifo, services.LandedCosts),
		Admin:     handler.NewAdminHandler(services.Migration, services.Recalculation, services.Journal, integrity),
		System:    handler.NewSystemHandler(cfg.App.Name, version, db),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	integrity.Stop()
	if err := services.Bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus stop failed", zap.Error(err))
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logs":   logProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			baseLog.Warn("Telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}

// parseCompanies drops malformed entries instead of refusing to start
func parseCompanies(raw []string, log *zap.Logger) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			log.Warn("Ignoring invalid scheduler company", zap.String("company_id", s))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
