package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecalculateOptions selects the queues to replay
type RecalculateOptions struct {
	CompanyID uuid.UUID
	// WarehouseIDs limits the run; empty replays every warehouse of the company
	WarehouseIDs []uuid.UUID
	DryRun       bool
}

// ScopeReplay is the replay outcome of one queue
type ScopeReplay struct {
	Scope     valuation.Scope         `json:"scope"`
	Layers    int                     `json:"layers"`
	Changes   []valuation.LayerChange `json:"changes"`
	Unmatched decimal.Decimal         `json:"unmatched"`
}

// ScopeFailure is a queue that could not be processed
type ScopeFailure struct {
	Scope valuation.Scope `json:"scope"`
	Error string          `json:"error"`
}

// RecalculationReport summarises a recalculation or repair run
type RecalculationReport struct {
	DryRun        bool                    `json:"dry_run"`
	Replays       []ScopeReplay           `json:"replays"`
	Repairs       []valuation.LayerChange `json:"repairs,omitempty"`
	Skipped       []uuid.UUID             `json:"skipped,omitempty"`
	Failures      []ScopeFailure          `json:"failures,omitempty"`
	ChangedLayers int                     `json:"changed_layers"`
}

// RepairOptions controls a targeted repair run
type RepairOptions struct {
	CompanyID uuid.UUID
	DryRun    bool
}

// RecalculationService rebuilds layer remainders from history and repairs
// known corruption patterns
type RecalculationService struct {
	tx       TransactionScope
	locker   JobLocker
	settings Settings
	logger   *zap.Logger
}

// NewRecalculationService creates a new RecalculationService
func NewRecalculationService(tx TransactionScope, locker JobLocker, settings Settings, logger *zap.Logger) *RecalculationService {
	if locker == nil {
		locker = NewLocalJobLocker()
	}
	return &RecalculationService{
		tx:       tx,
		locker:   locker,
		settings: settings,
		logger:   logger.Named("valuation.recalculation"),
	}
}

// Recalculate replays every selected queue from its full history. Each queue
// is replayed in its own transaction with its incoming layers locked; a queue
// that fails is reported and the run continues.
func (s *RecalculationService) Recalculate(ctx context.Context, opts RecalculateOptions) (*RecalculationReport, error) {
	if opts.CompanyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "company is required")
	}
	release, err := s.locker.Obtain(ctx, "valuation:recalculate:"+opts.CompanyID.String(), s.settings.JobLockTTL)
	if err != nil {
		return nil, err
	}
	defer releaseJobLock(s.logger, release)

	var scopes []valuation.Scope
	err = s.tx.Execute(ctx, TxOptions{}, func(repos TransactionalRepositories) error {
		var err error
		scopes, err = repos.Layers().ListScopes(ctx, opts.CompanyID, opts.WarehouseIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &RecalculationReport{DryRun: opts.DryRun}
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.replayInto(ctx, report, scope, opts.DryRun)
	}
	s.logger.Info("recalculation finished",
		zap.String("company_id", opts.CompanyID.String()),
		zap.Int("scopes", len(scopes)),
		zap.Int("changed_layers", report.ChangedLayers),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("dry_run", opts.DryRun),
	)
	return report, nil
}

func (s *RecalculationService) replayInto(ctx context.Context, report *RecalculationReport, scope valuation.Scope, dryRun bool) {
	replay, err := s.replayScope(ctx, scope, dryRun)
	if err != nil {
		s.logger.Error("queue replay failed", zap.String("scope", scope.String()), zap.Error(err))
		report.Failures = append(report.Failures, ScopeFailure{Scope: scope, Error: err.Error()})
		return
	}
	report.Replays = append(report.Replays, *replay)
	report.ChangedLayers += len(replay.Changes)
	if !replay.Unmatched.IsZero() {
		s.logger.Warn("queue history consumes more than it received",
			zap.String("scope", scope.String()),
			zap.String("unmatched", replay.Unmatched.String()),
		)
	}
}

func (s *RecalculationService) replayScope(ctx context.Context, scope valuation.Scope, dryRun bool) (*ScopeReplay, error) {
	var out *ScopeReplay
	err := s.settings.Retry.Do(ctx, func(int) error {
		return s.tx.Execute(ctx, TxOptions{Serializable: s.settings.Serializable}, func(repos TransactionalRepositories) error {
			history, err := repos.Layers().FindByScope(ctx, scope)
			if err != nil {
				return err
			}
			history, err = lockIncoming(ctx, repos.Layers(), history)
			if err != nil {
				return err
			}
			result, err := valuation.ReplayQueue(scope, history)
			if err != nil {
				return err
			}
			out = &ScopeReplay{Scope: scope, Layers: result.Layers, Changes: result.Changes, Unmatched: result.Unmatched}
			if dryRun {
				return nil
			}
			return s.writeChanges(ctx, repos.Layers(), result.Changes)
		})
	}, func(err error, wait time.Duration) {
		s.logger.Warn("queue busy, retrying replay", zap.String("scope", scope.String()), zap.Duration("wait", wait), zap.Error(err))
	})
	return out, err
}

// lockIncoming locks the incoming layers of a history and swaps in the
// locked copies so the replay works on what is actually stored.
func lockIncoming(ctx context.Context, layers valuation.LayerRepository, history []*valuation.ValuationLayer) ([]*valuation.ValuationLayer, error) {
	valuation.SortQueue(history)
	ids := make([]uuid.UUID, 0, len(history))
	for _, l := range history {
		if l.IsIncoming() {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		return history, nil
	}
	locked, err := layers.LockForUpdate(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*valuation.ValuationLayer, len(locked))
	for _, l := range locked {
		byID[l.ID] = l
	}
	out := make([]*valuation.ValuationLayer, len(history))
	for i, l := range history {
		if fresh, ok := byID[l.ID]; ok {
			out[i] = fresh
		} else {
			out[i] = l
		}
	}
	return out, nil
}

func (s *RecalculationService) writeChanges(ctx context.Context, layers valuation.LayerRepository, changes []valuation.LayerChange) error {
	for _, ch := range changes {
		l := ch.Layer()
		if err := valuation.ValidateLayer(l, s.settings.NegativeBalance.Tolerance); err != nil {
			return err
		}
		if err := layers.UpdateRemaining(ctx, l); err != nil {
			return fmt.Errorf("update layer %s: %w", l.ID, err)
		}
	}
	return nil
}

// Repair fixes corrupt remainders. Bounded patterns (negative, above
// quantity, rounding residue, remainder on an outgoing layer) are corrected
// in place; a NULL remainder triggers a replay of its whole queue.
func (s *RecalculationService) Repair(ctx context.Context, opts RepairOptions) (*RecalculationReport, error) {
	if opts.CompanyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "company is required")
	}
	release, err := s.locker.Obtain(ctx, "valuation:repair:"+opts.CompanyID.String(), s.settings.JobLockTTL)
	if err != nil {
		return nil, err
	}
	defer releaseJobLock(s.logger, release)

	report := &RecalculationReport{DryRun: opts.DryRun}
	var replayScopes []valuation.Scope
	err = s.settings.Retry.Do(ctx, func(int) error {
		report.Repairs, report.Skipped, replayScopes = nil, nil, nil
		return s.tx.Execute(ctx, TxOptions{}, func(repos TransactionalRepositories) error {
			candidates, err := repos.Layers().FindRepairCandidates(ctx, opts.CompanyID, s.settings.RoundingEpsilon)
			if err != nil {
				return err
			}
			seen := make(map[valuation.Scope]bool)
			var observed []valuation.LayerChange
			for _, c := range candidates {
				if !c.Layer.HasWarehouse() {
					report.Skipped = append(report.Skipped, c.Layer.ID)
					continue
				}
				change, needsReplay := valuation.RepairLayer(c, s.settings.RoundingEpsilon)
				if needsReplay {
					if sc := c.Layer.Scope(); !seen[sc] {
						seen[sc] = true
						replayScopes = append(replayScopes, sc)
					}
					continue
				}
				if change != nil {
					observed = append(observed, *change)
				}
			}
			// A queue being replayed gets its remainders rewritten anyway.
			for _, ch := range observed {
				if !seen[ch.Layer().Scope()] {
					report.Repairs = append(report.Repairs, ch)
				}
			}
			if opts.DryRun || len(report.Repairs) == 0 {
				return nil
			}
			return s.applyRepairs(ctx, repos.Layers(), report.Repairs)
		})
	}, func(err error, wait time.Duration) {
		s.logger.Warn("layers busy, retrying repair", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	report.ChangedLayers = len(report.Repairs)
	for _, ch := range report.Repairs {
		s.logger.Info("layer repaired",
			zap.String("layer_id", ch.LayerID.String()),
			zap.String("pattern", string(ch.Pattern)),
			zap.String("old_remaining", ch.OldQuantity.String()),
			zap.String("new_remaining", ch.NewQuantity.String()),
			zap.Bool("dry_run", opts.DryRun),
		)
	}
	for _, id := range report.Skipped {
		s.logger.Warn("layer without warehouse skipped; run the backfill first", zap.String("layer_id", id.String()))
	}

	for _, scope := range replayScopes {
		s.replayInto(ctx, report, scope, opts.DryRun)
	}
	return report, nil
}

// applyRepairs locks the repaired incoming layers and writes them back. A row
// whose stored remainder moved since it was read aborts the repair.
func (s *RecalculationService) applyRepairs(ctx context.Context, layers valuation.LayerRepository, repairs []valuation.LayerChange) error {
	var ids []uuid.UUID
	for _, ch := range repairs {
		if ch.Layer().IsIncoming() {
			ids = append(ids, ch.LayerID)
		}
	}
	if len(ids) > 0 {
		locked, err := layers.LockForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		current := make(map[uuid.UUID]decimal.Decimal, len(locked))
		for _, l := range locked {
			current[l.ID] = l.RemainingQuantity
		}
		for _, ch := range repairs {
			if qty, ok := current[ch.LayerID]; ok && !qty.Equal(ch.OldQuantity) {
				return valuation.NewStaleLayerError(ch.LayerID, ch.OldQuantity, qty)
			}
		}
	}
	for _, ch := range repairs {
		if err := layers.UpdateRemaining(ctx, ch.Layer()); err != nil {
			return fmt.Errorf("update layer %s: %w", ch.LayerID, err)
		}
	}
	return nil
}

func releaseJobLock(logger *zap.Logger, release func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		logger.Warn("failed to release job lock", zap.Error(err))
	}
}
