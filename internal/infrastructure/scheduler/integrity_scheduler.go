// Package scheduler runs periodic valuation ledger jobs.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// IntegrityScanJob is the job name used for locking and the run journal
const IntegrityScanJob = "integrity-scan"

// Diagnoser produces a read-only health report of the valuation ledger.
// A nil companyID scans every company.
type Diagnoser interface {
	Diagnose(ctx context.Context, companyID *uuid.UUID) (*appval.DiagnosticReport, error)
}

// IntegritySchedulerConfig holds configuration for the integrity scan
type IntegritySchedulerConfig struct {
	Enabled bool
	// Schedule is a standard five-field cron expression
	Schedule string
	// Companies limits the scan; empty scans all companies in one pass
	Companies  []uuid.UUID
	JobTimeout time.Duration
	LockTTL    time.Duration
}

// DefaultIntegritySchedulerConfig runs the scan daily at 03:30
func DefaultIntegritySchedulerConfig() IntegritySchedulerConfig {
	return IntegritySchedulerConfig{
		Enabled:    true,
		Schedule:   "30 3 * * *",
		JobTimeout: 30 * time.Minute,
		LockTTL:    10 * time.Minute,
	}
}

// IntegrityScheduler periodically diagnoses the ledger and journals the
// outcome. Only one process runs a scan at a time.
type IntegrityScheduler struct {
	config    IntegritySchedulerConfig
	diagnoser Diagnoser
	locker    appval.JobLocker
	runs      JobRunRecorder
	logger    *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
	lastRun *time.Time
}

// NewIntegrityScheduler validates cfg and creates a scheduler. runs may be nil.
func NewIntegrityScheduler(
	cfg IntegritySchedulerConfig,
	diagnoser Diagnoser,
	locker appval.JobLocker,
	runs JobRunRecorder,
	logger *zap.Logger,
) (*IntegrityScheduler, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, cfg.Schedule, err)
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.JobTimeout
	}
	if locker == nil {
		locker = appval.NewLocalJobLocker()
	}
	return &IntegrityScheduler{
		config:    cfg,
		diagnoser: diagnoser,
		locker:    locker,
		runs:      runs,
		logger:    logger.With(zap.String("job", IntegrityScanJob)),
	}, nil
}

// Start registers the cron entry. It is a no-op when disabled or already started.
func (s *IntegrityScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled || s.cron != nil {
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.config.Schedule, func() { _ = s.run(s.baseCtx) }); err != nil {
		s.cancel()
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("Integrity scheduler started",
		zap.String("schedule", s.config.Schedule),
		zap.Time("next_run", c.Entries()[0].Next),
	)
	return nil
}

// Stop cancels a running scan and waits for it to return
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("Integrity scheduler stopped")
}

// RunNow executes one scan immediately
func (s *IntegrityScheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	running := s.cron != nil
	s.mu.Unlock()
	if !running {
		return ErrSchedulerNotRunning
	}
	return s.run(ctx)
}

// LastRun returns when the last scan finished, if any
func (s *IntegrityScheduler) LastRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *IntegrityScheduler) run(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.config.JobTimeout)
	defer cancel()

	release, err := s.locker.Obtain(ctx, IntegrityScanJob, s.config.LockTTL)
	if errors.Is(err, appval.ErrJobLocked) {
		s.logger.Info("Integrity scan already running elsewhere, skipping")
		s.record(ctx, nil, JobStatusSkipped, "", nil)
		return nil
	}
	if err != nil {
		s.logger.Error("Failed to obtain integrity scan lock", zap.Error(err))
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release integrity scan lock", zap.Error(err))
		}
	}()

	targets := make([]*uuid.UUID, 0, len(s.config.Companies))
	for i := range s.config.Companies {
		targets = append(targets, &s.config.Companies[i])
	}
	if len(targets) == 0 {
		targets = append(targets, nil)
	}

	var errs []error
	for _, companyID := range targets {
		if err := s.scan(ctx, companyID); err != nil {
			errs = append(errs, err)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRun = &now
	s.mu.Unlock()
	return errors.Join(errs...)
}

func (s *IntegrityScheduler) scan(ctx context.Context, companyID *uuid.UUID) error {
	log := s.logger
	if companyID != nil {
		log = log.With(zap.String("company_id", companyID.String()))
	}

	runID := s.recordStart(ctx, companyID)
	start := time.Now()
	report, err := s.diagnoser.Diagnose(ctx, companyID)
	if err != nil {
		log.Error("Integrity scan failed", zap.Error(err))
		s.complete(ctx, runID, JobStatusFailed, nil, err)
		return err
	}

	fields := []zap.Field{
		zap.Int64("missing_warehouse", report.MissingWarehouse),
		zap.Int("repair_candidates", report.RepairCandidates),
		zap.Int("transit_locations", len(report.TransitUsage)),
		zap.Duration("duration", time.Since(start)),
	}
	if report.Healthy() {
		log.Info("Valuation ledger healthy", fields...)
	} else {
		log.Warn("Valuation ledger needs attention", fields...)
	}
	s.complete(ctx, runID, JobStatusSuccess, report, nil)
	return nil
}

func (s *IntegrityScheduler) record(ctx context.Context, companyID *uuid.UUID, status JobStatus, summary string, err error) {
	runID := s.recordStart(ctx, companyID)
	s.completeRaw(ctx, runID, status, summary, err)
}

func (s *IntegrityScheduler) recordStart(ctx context.Context, companyID *uuid.UUID) uuid.UUID {
	if s.runs == nil {
		return uuid.Nil
	}
	id, err := s.runs.RecordStart(ctx, companyID, IntegrityScanJob)
	if err != nil {
		s.logger.Warn("Failed to record job start", zap.Error(err))
		return uuid.Nil
	}
	return id
}

func (s *IntegrityScheduler) complete(ctx context.Context, runID uuid.UUID, status JobStatus, report *appval.DiagnosticReport, err error) {
	summary := ""
	if report != nil {
		if b, mErr := json.Marshal(report); mErr == nil {
			summary = string(b)
		}
	}
	s.completeRaw(ctx, runID, status, summary, err)
}

func (s *IntegrityScheduler) completeRaw(ctx context.Context, runID uuid.UUID, status JobStatus, summary string, err error) {
	if s.runs == nil || runID == uuid.Nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if rErr := s.runs.RecordComplete(context.WithoutCancel(ctx), runID, status, summary, msg); rErr != nil {
		s.logger.Warn("Failed to record job completion", zap.Error(rErr))
	}
}
