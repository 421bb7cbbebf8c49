// Package ledger records every call job durably so operators can look up its
// status, analysis and incident, and so a job id is not run twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/logging"
)

var (
	// ErrDuplicateJob is returned by Begin when the job id is running or already succeeded.
	ErrDuplicateJob = errors.New("ledger: duplicate job")

	// ErrNotFound is returned by Get for unknown job ids.
	ErrNotFound = errors.New("ledger: job not found")
)

// Record is one row per job id. A re-triggered job reuses its row.
type Record struct {
	JobID        string           `gorm:"primaryKey;size:255" json:"jobId"`
	AudioLocator string           `gorm:"size:1024" json:"audioLocator,omitempty"`
	TestMode     bool             `json:"testMode"`
	CustomerID   string           `gorm:"index;size:128" json:"customerId,omitempty"`
	Status       models.JobStatus `gorm:"index;size:32;not null" json:"status"`
	Sentiment    models.Sentiment `gorm:"size:16" json:"sentiment,omitempty"`
	Intensity    int              `json:"intensity,omitempty"`
	Severity     models.Severity  `gorm:"index;size:16" json:"severity,omitempty"`
	IncidentID   string           `gorm:"size:255" json:"incidentId,omitempty"`
	Attempt      int              `gorm:"default:1" json:"attempt"`
	Finished     bool             `gorm:"index" json:"finished"`
	Succeeded    bool             `json:"succeeded"`
	LastError    string           `gorm:"type:text" json:"lastError,omitempty"`
	DurationMs   int64            `json:"durationMs,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	FinishedAt   *time.Time       `json:"finishedAt,omitempty"`
}

// TableName pins the table name.
func (Record) TableName() string {
	return "call_jobs"
}

// DefaultStaleAfter is how long an unfinished record may go without updates
// before its job is presumed lost. It covers the default 30 minute job budget.
const DefaultStaleAfter = 35 * time.Minute

// Ledger stores job records with GORM.
type Ledger struct {
	db         *gorm.DB
	logger     zerolog.Logger
	now        func() time.Time
	staleAfter time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStaleAfter sets how long an unfinished record blocks re-triggering its job id.
// It should exceed the job budget.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.staleAfter = d
		}
	}
}

// New wraps an open database.
func New(db *gorm.DB, opts ...Option) *Ledger {
	l := &Ledger{
		db:         db,
		logger:     logging.WithComponent("ledger"),
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open connects to "sqlite" or "postgres" and returns a ledger.
func Open(driver, dsn string, opts ...Option) (*Ledger, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	return New(db, opts...), nil
}

// Migrate creates the necessary tables.
func (l *Ledger) Migrate(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Begin records a job about to start. A job id that already succeeded, or is
// unfinished and updated within the stale window, is rejected with ErrDuplicateJob.
// A failed or stale one is reset for another attempt.
func (l *Ledger) Begin(ctx context.Context, job *models.CallJob) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now()

		var existing Record
		err := tx.Where("job_id = ?", job.JobID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec := recordFromJob(job)
			rec.Attempt = 1
			rec.UpdatedAt = now
			return tx.Create(&rec).Error
		case err != nil:
			return err
		}

		if existing.Succeeded {
			return fmt.Errorf("%w: %s is %s", ErrDuplicateJob, job.JobID, existing.Status)
		}
		if !existing.Finished {
			if now.Sub(existing.UpdatedAt) < l.staleAfter {
				return fmt.Errorf("%w: %s is %s", ErrDuplicateJob, job.JobID, existing.Status)
			}
			l.logger.Warn().
				Str("jobId", job.JobID).
				Str("status", string(existing.Status)).
				Time("updatedAt", existing.UpdatedAt).
				Int("attempt", existing.Attempt).
				Msg("Replacing stale unfinished job")
		}

		rec := recordFromJob(job)
		rec.Attempt = existing.Attempt + 1
		rec.CreatedAt = existing.CreatedAt
		rec.UpdatedAt = now
		return tx.Save(&rec).Error
	})
}

// Get returns the record for a job id.
func (l *Ledger) Get(ctx context.Context, jobID string) (*Record, error) {
	var rec Record
	err := l.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the most recently updated records, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	err := l.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// OnTransition stores the job's new status and any analysis it has so far.
func (l *Ledger) OnTransition(ctx context.Context, job *models.CallJob, from models.JobStatus) {
	err := l.db.WithContext(ctx).
		Model(&Record{}).
		Where("job_id = ?", job.JobID).
		Updates(map[string]any{
			"status":     job.Status,
			"sentiment":  job.Sentiment,
			"intensity":  job.Intensity,
			"severity":   job.Severity,
			"updated_at": l.now(),
		}).Error
	if err != nil {
		l.logger.Warn().Err(err).Str("jobId", job.JobID).Str("status", string(job.Status)).Msg("Failed to record transition")
	}
}

// OnFinish marks the attempt finished with its outcome.
func (l *Ledger) OnFinish(ctx context.Context, job *models.CallJob, jobErr error, elapsed time.Duration) {
	now := l.now()
	updates := map[string]any{
		"status":      job.Status,
		"sentiment":   job.Sentiment,
		"intensity":   job.Intensity,
		"severity":    job.Severity,
		"incident_id": job.IncidentID,
		"finished":    true,
		"succeeded":   jobErr == nil,
		"last_error":  "",
		"duration_ms": elapsed.Milliseconds(),
		"finished_at": &now,
		"updated_at":  now,
	}
	if jobErr != nil {
		updates["last_error"] = jobErr.Error()
	}

	err := l.db.WithContext(ctx).Model(&Record{}).Where("job_id = ?", job.JobID).Updates(updates).Error
	if err != nil {
		l.logger.Error().Err(err).Str("jobId", job.JobID).Msg("Failed to record job outcome")
	}
}

// Ping checks the database connection.
func (l *Ledger) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordFromJob(job *models.CallJob) Record {
	return Record{
		JobID:        job.JobID,
		AudioLocator: job.AudioLocator,
		TestMode:     job.TestMode,
		CustomerID:   job.CustomerID,
		Status:       job.Status,
		CreatedAt:    job.CreatedAt,
	}
}
