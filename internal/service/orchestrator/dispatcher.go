package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/observability/metrics"
	"ai-call-triage-service/internal/schema"
)

// DefaultMaxConcurrentJobs bounds jobs running at once.
const DefaultMaxConcurrentJobs = 16

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Admission records a job before it starts. It rejects duplicates.
type Admission interface {
	Begin(ctx context.Context, job *models.CallJob) error
}

// Runner runs one job to completion. *Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.CallJob, error)
}

// Dispatcher accepts triggers and runs each job on its own goroutine.
// Jobs are detached from the submitting context and cannot be cancelled once started.
type Dispatcher struct {
	runner    Runner
	admission Admission
	validator *schema.Validator
	sem       *semaphore.Weighted
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// NewDispatcher creates a dispatcher. admission may be nil.
func NewDispatcher(runner Runner, admission Admission, maxConcurrent int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	return &Dispatcher{
		runner:    runner,
		admission: admission,
		validator: schema.New(),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("dispatcher"),
	}
}

// Submit validates the trigger, admits the job and starts it in the background.
// It returns the resolved job id.
func (d *Dispatcher) Submit(ctx context.Context, source string, trigger models.Trigger) (string, error) {
	id, err := d.submit(ctx, trigger)
	d.metrics.RecordTrigger(source, err)
	if err != nil {
		d.logger.Warn().Err(err).Str("source", source).Str("jobId", id).Msg("Trigger rejected")
		return id, err
	}
	d.logger.Info().Str("source", source).Str("jobId", id).Bool("testMode", trigger.TestMode).Msg("Job accepted")
	return id, nil
}

func (d *Dispatcher) submit(ctx context.Context, trigger models.Trigger) (string, error) {
	if err := d.validator.Validate(trigger); err != nil {
		return trigger.JobID, err
	}
	trigger.JobID = ResolveJobID(trigger.JobID, trigger.AudioLocator)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return trigger.JobID, ErrShuttingDown
	}
	d.running.Add(1)
	d.mu.Unlock()

	if d.admission != nil {
		pending := models.NewCallJob(trigger, time.Now())
		if err := d.admission.Begin(ctx, pending); err != nil {
			d.running.Done()
			return trigger.JobID, fmt.Errorf("admit %s: %w", trigger.JobID, err)
		}
	}

	go d.execute(trigger)
	return trigger.JobID, nil
}

func (d *Dispatcher) execute(trigger models.Trigger) {
	defer d.running.Done()

	ctx := context.Background()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.logger.Error().Err(err).Str("jobId", trigger.JobID).Msg("Failed to acquire job slot")
		return
	}
	defer d.sem.Release(1)

	// Errors are already logged and recorded by the runner and its observers.
	_, _ = d.runner.Run(ctx, trigger)
}

// Shutdown stops accepting triggers and waits for running jobs or ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}
