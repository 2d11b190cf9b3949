package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus represents the status of a job run
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	JobStatusSkipped JobStatus = "SKIPPED"
)

// JobRunRecord is one execution of a scheduled valuation job
type JobRunRecord struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID   *uuid.UUID `gorm:"column:company_id;type:uuid"`
	JobName     string     `gorm:"column:job_name;size:50;not null"`
	Status      string     `gorm:"column:status;size:20;not null"`
	Summary     string     `gorm:"column:summary;type:text"`
	Error       string     `gorm:"column:last_error;type:text"`
	StartedAt   time.Time  `gorm:"column:started_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName returns the table name for GORM
func (JobRunRecord) TableName() string {
	return "valuation_job_runs"
}

// JobRunRecorder persists job runs
type JobRunRecorder interface {
	RecordStart(ctx context.Context, companyID *uuid.UUID, job string) (uuid.UUID, error)
	RecordComplete(ctx context.Context, runID uuid.UUID, status JobStatus, summary, errMsg string) error
}

// GormJobRunRepository stores job runs in valuation_job_runs
type GormJobRunRepository struct {
	db *gorm.DB
}

// NewGormJobRunRepository creates a new GormJobRunRepository
func NewGormJobRunRepository(db *gorm.DB) *GormJobRunRepository {
	return &GormJobRunRepository{db: db}
}

// RecordStart inserts a RUNNING record and returns its ID
func (r *GormJobRunRepository) RecordStart(ctx context.Context, companyID *uuid.UUID, job string) (uuid.UUID, error) {
	record := &JobRunRecord{
		ID:        uuid.New(),
		CompanyID: companyID,
		JobName:   job,
		Status:    string(JobStatusRunning),
		StartedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return uuid.Nil, err
	}
	return record.ID, nil
}

// RecordComplete closes a run
func (r *GormJobRunRepository) RecordComplete(ctx context.Context, runID uuid.UUID, status JobStatus, summary, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&JobRunRecord{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":       string(status),
			"summary":      summary,
			"last_error":   errMsg,
			"completed_at": time.Now(),
		}).Error
}

// LastRun returns the newest run of job, or gorm.ErrRecordNotFound
func (r *GormJobRunRepository) LastRun(ctx context.Context, job string) (*JobRunRecord, error) {
	var record JobRunRecord
	if err := r.db.WithContext(ctx).
		Where("job_name = ?", job).
		Order("started_at DESC").
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
