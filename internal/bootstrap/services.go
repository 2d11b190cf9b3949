// Package bootstrap assembles the valuation service graph from configuration.
// The HTTP server and the command line tools share it so that both run the
// engine with identical settings.
package bootstrap

import (
	"time"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/event"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services is the valuation service graph
type Services struct {
	Layers        *appval.LayerService
	Fifo          *appval.FifoService
	LandedCosts   *appval.LandedCostService
	Migration     *appval.MigrationService
	Recalculation *appval.RecalculationService
	Journal       *event.JournalHandler
	Bus           *event.InMemoryEventBus
}

// Options carries the collaborators that differ between processes
type Options struct {
	Settings    appval.Settings
	LockTimeout time.Duration
	Locker      appval.JobLocker // nil uses a process-local lock
	Metrics     appval.MetricsRecorder
	Logger      *zap.Logger
}

// NewServices wires repositories, services and the warning journal on db
func NewServices(db *gorm.DB, opts Options) *Services {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	locker := opts.Locker
	if locker == nil {
		locker = appval.NewLocalJobLocker()
	}

	tx := persistence.NewGormTransactionScope(db, opts.LockTimeout)
	layerRepo := persistence.NewGormValuationLayerRepository(db)
	landedRepo := persistence.NewGormLandedCostRepository(db)
	costRepo := persistence.NewGormProductCostRepository(db)
	locationRepo := persistence.NewGormStockLocationRepository(db)
	warehouseRepo := persistence.NewGormWarehouseRepository(db)

	bus := event.NewInMemoryEventBus(log)
	journal := event.NewJournalHandler(db, event.NewEventSerializer(), log)
	bus.Subscribe(journal, journal.EventTypes()...)

	layers := appval.NewLayerService(tx, locationRepo, costRepo, opts.Settings, log)
	layers.SetEventPublisher(bus)
	layers.SetMetrics(opts.Metrics)

	return &Services{
		Layers:        layers,
		Fifo:          appval.NewFifoService(layerRepo, landedRepo, costRepo, log),
		LandedCosts:   appval.NewLandedCostService(tx, log),
		Migration:     appval.NewMigrationService(tx, warehouseRepo, locker, opts.Settings, log),
		Recalculation: appval.NewRecalculationService(tx, locker, opts.Settings, log),
		Journal:       journal,
		Bus:           bus,
	}
}
