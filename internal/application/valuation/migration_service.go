package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const backfillJobKey = "valuation:backfill-warehouses"

// BackfillOptions controls a warehouse backfill run
type BackfillOptions struct {
	// CompanyID limits the run to one company; nil scans all companies
	CompanyID *uuid.UUID
	DryRun    bool
	// Limit caps the number of layers examined; zero uses the configured default
	Limit int
}

// BackfillEntry is the decision taken for one layer
type BackfillEntry struct {
	LayerID     uuid.UUID                    `json:"layer_id"`
	CompanyID   uuid.UUID                    `json:"company_id"`
	ProductID   uuid.UUID                    `json:"product_id"`
	WarehouseID *uuid.UUID                   `json:"warehouse_id,omitempty"`
	Strategy    valuation.ResolutionStrategy `json:"strategy"`
	Reason      string                       `json:"reason"`
}

// BackfillReport summarises a backfill run
type BackfillReport struct {
	DryRun     bool                                 `json:"dry_run"`
	Scanned    int                                  `json:"scanned"`
	Resolved   int                                  `json:"resolved"`
	Unresolved int                                  `json:"unresolved"`
	ByStrategy map[valuation.ResolutionStrategy]int `json:"by_strategy"`
	Entries    []BackfillEntry                      `json:"entries"`
}

// DiagnosticReport describes the health of the valuation ledger
type DiagnosticReport struct {
	CompanyID        *uuid.UUID                              `json:"company_id,omitempty"`
	MissingWarehouse int64                                   `json:"missing_warehouse"`
	TransitUsage     []valuation.LocationUsageStat           `json:"transit_usage"`
	RepairCandidates int                                     `json:"repair_candidates"`
	Patterns         map[valuation.RepairPattern]int         `json:"patterns"`
	Samples          map[valuation.RepairPattern][]uuid.UUID `json:"samples,omitempty"`
}

// Healthy reports whether nothing needs repair
func (r *DiagnosticReport) Healthy() bool {
	return r.MissingWarehouse == 0 && r.RepairCandidates == 0
}

const maxDiagnosticSamples = 10

// MigrationService stamps legacy layers with a warehouse and reports ledger health
type MigrationService struct {
	tx         TransactionScope
	warehouses valuation.WarehouseRepository
	locker     JobLocker
	settings   Settings
	logger     *zap.Logger
}

// NewMigrationService creates a new MigrationService
func NewMigrationService(
	tx TransactionScope,
	warehouses valuation.WarehouseRepository,
	locker JobLocker,
	settings Settings,
	logger *zap.Logger,
) *MigrationService {
	if locker == nil {
		locker = NewLocalJobLocker()
	}
	return &MigrationService{
		tx:         tx,
		warehouses: warehouses,
		locker:     locker,
		settings:   settings,
		logger:     logger.Named("valuation.migration"),
	}
}

// BackfillWarehouses assigns a warehouse to layers created without one. Each
// layer goes through the strategy chain: its movement's locations, then the
// nearest-in-time layer of the same product, then the company's only
// warehouse. Layers nothing matches are reported and left untouched.
func (s *MigrationService) BackfillWarehouses(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	release, err := s.locker.Obtain(ctx, backfillJobKey, s.settings.JobLockTTL)
	if err != nil {
		return nil, err
	}
	defer releaseJobLock(s.logger, release)

	limit := opts.Limit
	if limit <= 0 {
		limit = s.settings.BackfillLimit
	}
	report := &BackfillReport{
		DryRun:     opts.DryRun,
		ByStrategy: make(map[valuation.ResolutionStrategy]int),
	}

	err = s.tx.Execute(ctx, TxOptions{}, func(repos TransactionalRepositories) error {
		layers, err := repos.Layers().FindMissingWarehouse(ctx, opts.CompanyID, limit)
		if err != nil {
			return err
		}
		companyWarehouses := make(map[uuid.UUID][]valuation.Warehouse)
		for _, l := range layers {
			res, err := s.resolveLegacy(ctx, repos, l, companyWarehouses)
			if err != nil {
				return fmt.Errorf("resolve layer %s: %w", l.ID, err)
			}
			entry := BackfillEntry{
				LayerID:     l.ID,
				CompanyID:   l.CompanyID,
				ProductID:   l.ProductID,
				WarehouseID: res.WarehouseID,
				Strategy:    res.Strategy,
				Reason:      res.Reason,
			}
			report.Entries = append(report.Entries, entry)
			report.ByStrategy[res.Strategy]++
			report.Scanned++

			if !res.Resolved() {
				report.Unresolved++
				s.logger.Warn("layer warehouse unresolved",
					zap.String("layer_id", l.ID.String()),
					zap.String("product_id", l.ProductID.String()),
					zap.String("reason", res.Reason),
				)
				continue
			}
			report.Resolved++
			s.logger.Info("layer warehouse resolved",
				zap.String("layer_id", l.ID.String()),
				zap.String("warehouse_id", res.WarehouseID.String()),
				zap.String("strategy", string(res.Strategy)),
				zap.String("reason", res.Reason),
				zap.Bool("dry_run", opts.DryRun),
			)
			if opts.DryRun {
				continue
			}
			l.AssignWarehouse(*res.WarehouseID)
			if err := repos.Layers().UpdateWarehouse(ctx, l); err != nil {
				return fmt.Errorf("update layer %s: %w", l.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("warehouse backfill finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("resolved", report.Resolved),
		zap.Int("unresolved", report.Unresolved),
		zap.Bool("dry_run", opts.DryRun),
	)
	return report, nil
}

func (s *MigrationService) resolveLegacy(
	ctx context.Context,
	repos TransactionalRepositories,
	l *valuation.ValuationLayer,
	companyWarehouses map[uuid.UUID][]valuation.Warehouse,
) (valuation.Resolution, error) {
	if l.SourceMovementID != nil {
		mv, err := repos.Movements().FindByID(ctx, *l.SourceMovementID)
		switch {
		case err == nil:
			if res := valuation.ResolveWarehouse(nil, l.Quantity, mv); res.Resolved() {
				return res, nil
			}
		case !errors.Is(err, shared.ErrNotFound):
			return valuation.Resolution{}, err
		}
	}

	sibling, err := repos.Layers().FindNearestSibling(ctx, l.CompanyID, l.ProductID, l.CreatedAt, s.settings.SiblingWindow)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return valuation.Resolution{}, err
	}
	if sibling != nil && sibling.HasWarehouse() {
		gap := sibling.CreatedAt.Sub(l.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		return valuation.Resolution{
			WarehouseID: sibling.WarehouseID,
			Strategy:    valuation.ResolvedBySibling,
			Reason:      fmt.Sprintf("layer %s of the same product is %s away", sibling.ID, gap.Round(time.Second)),
		}, nil
	}

	whs, ok := companyWarehouses[l.CompanyID]
	if !ok {
		whs, err = s.warehouses.ListByCompany(ctx, l.CompanyID)
		if err != nil {
			return valuation.Resolution{}, err
		}
		companyWarehouses[l.CompanyID] = whs
	}
	if len(whs) == 1 {
		id := whs[0].ID
		return valuation.Resolution{
			WarehouseID: &id,
			Strategy:    valuation.ResolvedBySingleWarehouse,
			Reason:      "company has a single warehouse " + whs[0].Code,
		}, nil
	}
	return valuation.Resolution{
		Strategy: valuation.Unresolved,
		Reason:   fmt.Sprintf("no movement location, no sibling layer within %s, company has %d warehouses", s.settings.SiblingWindow, len(whs)),
	}, nil
}

// Diagnose counts layers without a warehouse, transit location usage and
// remainder corruption. CompanyID nil skips the per-company corruption scan.
func (s *MigrationService) Diagnose(ctx context.Context, companyID *uuid.UUID) (*DiagnosticReport, error) {
	report := &DiagnosticReport{
		CompanyID: companyID,
		Patterns:  make(map[valuation.RepairPattern]int),
		Samples:   make(map[valuation.RepairPattern][]uuid.UUID),
	}
	err := s.tx.Execute(ctx, TxOptions{}, func(repos TransactionalRepositories) error {
		var err error
		if report.MissingWarehouse, err = repos.Layers().CountMissingWarehouse(ctx, companyID); err != nil {
			return err
		}
		if report.TransitUsage, err = repos.Layers().TransitUsage(ctx, companyID); err != nil {
			return err
		}
		if companyID == nil {
			return nil
		}
		candidates, err := repos.Layers().FindRepairCandidates(ctx, *companyID, s.settings.RoundingEpsilon)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			patterns := valuation.DiagnoseLayer(c, s.settings.RoundingEpsilon)
			if len(patterns) == 0 {
				continue
			}
			report.RepairCandidates++
			for _, p := range patterns {
				report.Patterns[p]++
				if len(report.Samples[p]) < maxDiagnosticSamples {
					report.Samples[p] = append(report.Samples[p], c.Layer.ID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
