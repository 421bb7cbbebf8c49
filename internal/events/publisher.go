// Package events publishes call job lifecycle events to Kafka and consumes job triggers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/metrics"
)

// publishTimeout bounds one publish from an observer callback.
const publishTimeout = 10 * time.Second

// Publisher publishes job events to separate Kafka topics for status changes and outcomes.
type Publisher struct {
	writerStatus  *kafka.Writer
	writerOutcome *kafka.Writer
	principal     string
	topicStatus   string
	topicOutcome  string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicStatus  string
	TopicOutcome string
	Principal    string
	Enabled      bool
}

// New creates a Kafka event publisher. A nil or disabled config gives a log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicStatus:  cfg.TopicStatus,
			topicOutcome: cfg.TopicOutcome,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerStatus := newWriter(cfg.Brokers, cfg.TopicStatus, transport)
	writerOutcome := newWriter(cfg.Brokers, cfg.TopicOutcome, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicStatus", cfg.TopicStatus).
		Str("topicOutcome", cfg.TopicOutcome).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerStatus:  writerStatus,
		writerOutcome: writerOutcome,
		principal:     cfg.Principal,
		topicStatus:   cfg.TopicStatus,
		topicOutcome:  cfg.TopicOutcome,
		enabled:       true,
		metrics:       m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishStatus publishes a status change event keyed by job id.
func (p *Publisher) PublishStatus(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerStatus, p.topicStatus, "status", key, event)
}

// PublishOutcome publishes a terminal outcome event keyed by job id.
func (p *Publisher) PublishOutcome(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerOutcome, p.topicOutcome, "outcome", key, event)
}

// OnTransition publishes a JobStatusChanged event. Publish errors are logged and dropped.
func (p *Publisher) OnTransition(ctx context.Context, job *models.CallJob, from models.JobStatus) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_ = p.PublishStatus(ctx, job.JobID, StatusChanged(job, from, time.Now()))
}

// OnFinish publishes a JobOutcome event. Publish errors are logged and dropped.
func (p *Publisher) OnFinish(ctx context.Context, job *models.CallJob, err error, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_ = p.PublishOutcome(ctx, job.JobID, Outcome(job, err, elapsed, time.Now()))
}

// StatusChanged builds the event for a transition into job.Status.
func StatusChanged(job *models.CallJob, from models.JobStatus, now time.Time) models.JobStatusChanged {
	return models.JobStatusChanged{
		EventType: models.EventTypeStatusChanged,
		EventID:   uuid.NewString(),
		JobID:     job.JobID,
		From:      from,
		To:        job.Status,
		Timestamp: now.UnixMilli(),
	}
}

// Outcome builds the terminal event for a job.
func Outcome(job *models.CallJob, err error, elapsed time.Duration, now time.Time) models.JobOutcome {
	ev := models.JobOutcome{
		EventType:  models.EventTypeSucceeded,
		EventID:    uuid.NewString(),
		JobID:      job.JobID,
		Status:     job.Status,
		Succeeded:  err == nil,
		Severity:   job.Severity,
		Sentiment:  job.Sentiment,
		IncidentID: job.IncidentID,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  now.UnixMilli(),
	}
	if err != nil {
		ev.EventType = models.EventTypeFailed
		ev.Error = err.Error()
	}
	return ev
}

// publish writes one event to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var errs []error
	if p.writerStatus != nil {
		if err := p.writerStatus.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing status writer")
			errs = append(errs, err)
		}
	}
	if p.writerOutcome != nil {
		if err := p.writerOutcome.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing outcome writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
