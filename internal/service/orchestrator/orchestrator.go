// Package orchestrator drives a call job through transcription, analysis,
// persistence and ticketing.
//
//	STARTED ──testMode──────────────────────────────┐
//	   │                                            ▼
//	   └─start──▶ TRANSCRIBING ⟲ ──COMPLETED──▶ TRANSCRIBED ──▶ ANALYZING ──▶ CLASSIFIED ──▶ SUMMARIZED ──▶ PERSISTED ──▶ incident
//	                   │
//	                   └──FAILED──▶ FAILED
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/observability/metrics"
	"ai-call-triage-service/internal/service/classifier"
	"ai-call-triage-service/internal/service/gateway"
	"ai-call-triage-service/internal/service/inference"
	"ai-call-triage-service/internal/service/storage"
	"ai-call-triage-service/internal/service/stt"
)

// Defaults for the polling loop and job budget.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultJobTimeout   = 30 * time.Minute
)

// Ticketing is the subset of the tool gateway the orchestrator calls.
type Ticketing interface {
	CreateIncident(ctx context.Context, req gateway.IncidentRequest) (*gateway.IncidentResponse, error)
	UpdateCustomer(ctx context.Context, update gateway.CustomerUpdate) error
	GetCustomerHistory(ctx context.Context, customerID string) (*gateway.CustomerHistory, error)
}

// Observer is told about every status change and the final outcome of a job.
// Observer errors never affect the job.
type Observer interface {
	OnTransition(ctx context.Context, job *models.CallJob, from models.JobStatus)
	OnFinish(ctx context.Context, job *models.CallJob, err error, elapsed time.Duration)
}

// Config controls polling and the job budget.
type Config struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
	// MaxPolls bounds the number of status checks. Zero derives it from JobTimeout / PollInterval.
	MaxPolls int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = int(c.JobTimeout / c.PollInterval)
		if c.MaxPolls < 1 {
			c.MaxPolls = 1
		}
	}
	return c
}

// Orchestrator runs call jobs. One Orchestrator is shared by all jobs; per-job state lives in run.
type Orchestrator struct {
	cfg         Config
	transcriber stt.Transcriber
	store       storage.ObjectStore
	model       inference.Model
	ticketing   Ticketing
	observers   []Observer
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObservers adds transition and outcome observers.
func WithObservers(obs ...Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs...) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(cfg Config, transcriber stt.Transcriber, store storage.ObjectStore, model inference.Model, ticketing Ticketing, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg.withDefaults(),
		transcriber: transcriber,
		store:       store,
		model:       model,
		ticketing:   ticketing,
		metrics:     metrics.DefaultMetrics,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the mutable state of one job between steps.
type run struct {
	job     *models.CallJob
	trigger models.Trigger
	handle  string
	payload []byte
	polls   int
	failure string
	history []inference.PastInteraction
	logger  zerolog.Logger
}

// Run drives one job to a terminal state and returns it. Failures come back as
// a *JobError. A transcription failure leaves the job in FAILED and wraps
// ErrTranscriptionFailed; any other failure leaves the job at its last status.
func (o *Orchestrator) Run(ctx context.Context, trigger models.Trigger) (*models.CallJob, error) {
	trigger.JobID = ResolveJobID(trigger.JobID, trigger.AudioLocator)
	if trigger.TestMode && trigger.Transcript == "" {
		return nil, fmt.Errorf("job %s: test mode requires an inline transcript", trigger.JobID)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	start := o.now()
	r := &run{
		job:     models.NewCallJob(trigger, start),
		trigger: trigger,
		logger:  logging.WithJob(trigger.JobID, trigger.TestMode),
	}
	o.metrics.RecordJobStart(trigger.TestMode)
	r.logger.Info().Str("audio", trigger.AudioLocator).Msg("Job started")
	o.notifyTransition(ctx, r.job, "")

	err := o.drive(ctx, r)
	elapsed := o.now().Sub(start)

	if err != nil {
		err = o.jobError(ctx, r.job, err)
		r.logger.Error().
			Err(err).
			Str("lastStatus", string(r.job.Status)).
			Dur("elapsed", elapsed).
			Msg("Job stopped")
	} else {
		r.logger.Info().
			Str("severity", string(r.job.Severity)).
			Str("incidentId", r.job.IncidentID).
			Dur("elapsed", elapsed).
			Msg("Job completed")
	}

	o.metrics.RecordJobEnd(err == nil, FailureReason(err), string(r.job.Status), elapsed.Seconds())
	o.notifyFinish(ctx, r.job, err, elapsed)
	return r.job, err
}

// drive executes steps in state-machine order until the ticket is created or a step fails.
func (o *Orchestrator) drive(ctx context.Context, r *run) error {
	for {
		var (
			step = r.job.Status
			err  error
			done bool
		)
		stepStart := time.Now()

		switch step {
		case models.StatusStarted:
			err = o.start(ctx, r)
		case models.StatusTranscribing:
			err = o.poll(ctx, r)
		case models.StatusTranscribed:
			err = o.parse(ctx, r)
		case models.StatusAnalyzing:
			err = o.analyze(ctx, r)
		case models.StatusClassified:
			err = o.summarize(ctx, r)
		case models.StatusSummarized:
			err = o.persist(ctx, r)
		case models.StatusPersisted:
			err = o.ticket(ctx, r)
			done = true
		case models.StatusFailed:
			return fmt.Errorf("%w: %s", ErrTranscriptionFailed, r.failure)
		default:
			return fmt.Errorf("unknown status %q", step)
		}

		o.metrics.RecordStep(string(step), time.Since(stepStart).Seconds())
		if err != nil || done {
			return err
		}
	}
}

func (o *Orchestrator) advance(ctx context.Context, r *run, next models.JobStatus) error {
	from := r.job.Status
	if err := r.job.Advance(next); err != nil {
		return err
	}
	if from != next {
		r.logger.Info().Str("from", string(from)).Str("to", string(next)).Msg("Job status changed")
		o.notifyTransition(ctx, r.job, from)
	}
	return nil
}

// start takes the test-mode shortcut or submits the audio for transcription.
func (o *Orchestrator) start(ctx context.Context, r *run) error {
	if r.trigger.TestMode {
		r.job.Transcript = r.trigger.Transcript
		return o.advance(ctx, r, models.StatusAnalyzing)
	}

	handle, err := o.transcriber.Start(ctx, r.job.JobID, r.job.AudioLocator)
	if err != nil {
		return fmt.Errorf("start transcription: %w", err)
	}
	r.handle = handle
	return o.advance(ctx, r, models.StatusTranscribing)
}

// poll waits one interval, then checks the transcription once.
func (o *Orchestrator) poll(ctx context.Context, r *run) error {
	if r.polls >= o.cfg.MaxPolls {
		return fmt.Errorf("%w: transcription still running after %d checks", ErrJobTimeout, r.polls)
	}
	if err := wait(ctx, o.cfg.PollInterval); err != nil {
		return err
	}
	r.polls++
	o.metrics.RecordPoll()

	st, err := o.transcriber.Status(ctx, r.handle)
	if err != nil {
		return fmt.Errorf("transcription status: %w", err)
	}
	r.logger.Debug().Int("poll", r.polls).Str("state", string(st.State)).Msg("Transcription checked")

	switch st.State {
	case stt.StateInProgress:
		return o.advance(ctx, r, models.StatusTranscribing)
	case stt.StateCompleted:
		payload, err := o.store.Get(ctx, st.TranscriptKey)
		if err != nil {
			return fmt.Errorf("fetch transcript %s: %w", st.TranscriptKey, err)
		}
		r.payload = payload
		return o.advance(ctx, r, models.StatusTranscribed)
	case stt.StateFailed:
		r.failure = st.FailureReason
		if r.failure == "" {
			r.failure = "provider reported FAILED"
		}
		r.logger.Warn().Str("reason", r.failure).Msg("Transcription failed")
		return o.advance(ctx, r, models.StatusFailed)
	default:
		return fmt.Errorf("transcription status: unknown state %q", st.State)
	}
}

func (o *Orchestrator) parse(ctx context.Context, r *run) error {
	text, err := ParseTranscript(r.payload)
	if err != nil {
		return err
	}
	r.job.Transcript = text
	r.payload = nil
	return o.advance(ctx, r, models.StatusAnalyzing)
}

// analyze asks for sentiment and intensity, then classifies. Unreadable answers fall back to neutral/5.
func (o *Orchestrator) analyze(ctx context.Context, r *run) error {
	answer, err := o.model.Complete(ctx, inference.SentimentPrompt(r.job.Transcript), inference.SentimentMaxTokens)
	if err != nil && !errors.Is(err, inference.ErrEmptyCompletion) {
		return fmt.Errorf("sentiment inference: %w", err)
	}

	a := classifier.ParseAnalysis(answer)
	if a.Fallback {
		r.logger.Warn().Str("answer", answer).Msg("Sentiment answer incomplete, using defaults")
	}
	severity := classifier.Classify(a.Sentiment, a.Intensity, r.job.Transcript)
	r.job.SetAnalysis(a.Sentiment, a.Intensity, severity)
	o.metrics.RecordSeverity(string(severity), string(a.Sentiment), a.Fallback)

	return o.advance(ctx, r, models.StatusClassified)
}

func (o *Orchestrator) summarize(ctx context.Context, r *run) error {
	if r.job.CustomerID != "" {
		hist, err := o.ticketing.GetCustomerHistory(ctx, r.job.CustomerID)
		if err != nil {
			return fmt.Errorf("customer history: %w", err)
		}
		for _, it := range hist.Interactions {
			r.history = append(r.history, inference.PastInteraction(it))
		}
	}

	prompt := inference.SummaryPrompt(r.job.Sentiment, r.job.Severity, r.job.Transcript, r.history)
	summary, err := o.model.Complete(ctx, prompt, inference.SummaryMaxTokens)
	if err != nil {
		return fmt.Errorf("summary inference: %w", err)
	}
	if err := r.job.SetSummary(summary); err != nil {
		return err
	}
	return o.advance(ctx, r, models.StatusSummarized)
}

// persist writes the snapshot as it will look once PERSISTED.
func (o *Orchestrator) persist(ctx context.Context, r *run) error {
	processed := o.now().UTC()
	snapshot := *r.job
	snapshot.Status = models.StatusPersisted
	snapshot.ProcessedAt = &processed

	data, err := json.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := o.store.Put(ctx, storage.ProcessedKey(r.job.JobID), data); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	r.job.ProcessedAt = &processed
	return o.advance(ctx, r, models.StatusPersisted)
}

func (o *Orchestrator) ticket(ctx context.Context, r *run) error {
	resp, err := o.ticketing.CreateIncident(ctx, gateway.IncidentFromJob(r.job))
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	r.job.IncidentID = resp.IncidentID
	r.logger.Info().Str("incidentId", resp.IncidentID).Str("status", resp.Status).Msg("Incident created")

	if r.job.CustomerID != "" {
		update := gateway.CustomerUpdateFromJob(r.job, resp.IncidentID, o.now())
		if err := o.ticketing.UpdateCustomer(ctx, update); err != nil {
			return fmt.Errorf("update customer: %w", err)
		}
	}
	return nil
}

// jobError wraps err with the job id and last status, mapping an exceeded budget to ErrJobTimeout.
func (o *Orchestrator) jobError(ctx context.Context, job *models.CallJob, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrJobTimeout) {
		err = fmt.Errorf("%w after %s: %w", ErrJobTimeout, o.cfg.JobTimeout, err)
	}
	return &JobError{JobID: job.JobID, Status: job.Status, Err: err}
}

func (o *Orchestrator) notifyTransition(ctx context.Context, job *models.CallJob, from models.JobStatus) {
	ctx = context.WithoutCancel(ctx)
	for _, obs := range o.observers {
		obs.OnTransition(ctx, job, from)
	}
}

func (o *Orchestrator) notifyFinish(ctx context.Context, job *models.CallJob, err error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	for _, obs := range o.observers {
		obs.OnFinish(ctx, job, err, elapsed)
	}
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
