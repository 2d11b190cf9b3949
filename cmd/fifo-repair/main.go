// Command fifo-repair runs the valuation ledger maintenance jobs from the
// command line: warehouse backfill, diagnosis, queue recalculation and
// remainder repair. Every mutating job supports --dry-run.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/stockvaluation/internal/bootstrap"
	"github.com/erp/stockvaluation/internal/infrastructure/cache"
	"github.com/erp/stockvaluation/internal/infrastructure/config"
	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(openToolset).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openToolset connects to the configured database and builds the services
// with the same settings the server uses
func openToolset(ctx context.Context, logLevel string) (*toolset, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return nil, err
	}
	settings, err := bootstrap.Settings(cfg.Valuation)
	if err != nil {
		return nil, err
	}

	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database,
		logger.NewGormLogger(log, logger.MapGormLogLevel(logLevel)))
	if err != nil {
		return nil, err
	}
	locker, redisClient := cache.NewJobLockerFactory(cfg.Redis, cache.WithLogger(log)).CreateLocker(ctx)

	services := bootstrap.NewServices(db.DB, bootstrap.Options{
		Settings:    settings,
		LockTimeout: cfg.Valuation.LockTimeout,
		Locker:      locker,
		Logger:      log,
	})

	return &toolset{
		maintainer: services.Migration,
		recalc:     services.Recalculation,
		logger:     log,
		close: func() error {
			var errs []error
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			errs = append(errs, db.Close())
			_ = log.Sync()
			return errors.Join(errs...)
		},
	}, nil
}
