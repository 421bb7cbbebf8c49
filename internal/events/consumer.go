package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/service/orchestrator"
)

// SourceKafka labels triggers that arrived on the trigger topic.
const SourceKafka = "kafka"

// ErrIgnoredObject is returned for object-created events outside the input bucket
// or under a prefix the service writes to.
var ErrIgnoredObject = errors.New("object not a call recording")

// ObjectFilter selects which object-created events start jobs.
type ObjectFilter struct {
	// Bucket is the input bucket. Empty accepts every bucket.
	Bucket         string
	IgnorePrefixes []string
}

// Accepts reports whether an object in bucket at key should start a job.
func (f ObjectFilter) Accepts(bucket, key string) bool {
	if f.Bucket != "" && bucket != f.Bucket {
		return false
	}
	key = strings.TrimLeft(key, "/")
	for _, p := range f.IgnorePrefixes {
		if p != "" && strings.HasPrefix(key, p) {
			return false
		}
	}
	return true
}

// Submitter accepts job triggers. *orchestrator.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, source string, trigger models.Trigger) (string, error)
}

// ConsumerConfig holds Kafka trigger consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Scheme is prefixed to bucket/key when building audio locators from object-created events.
	Scheme  string
	Filter  ObjectFilter
	Enabled bool
}

// Consumer reads job triggers from Kafka and hands them to a Submitter.
type Consumer struct {
	reader    *kafka.Reader
	submitter Submitter
	scheme    string
	filter    ObjectFilter
	logger    zerolog.Logger
}

// NewConsumer creates a consumer. It returns nil when the consumer is disabled.
func NewConsumer(cfg *ConsumerConfig, submitter Submitter) *Consumer {
	logger := logging.WithComponent("trigger-consumer")
	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 || cfg.Topic == "" {
		logger.Info().Msg("Kafka trigger consumer disabled")
		return nil
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "gs"
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Str("inputBucket", cfg.Filter.Bucket).
		Strs("ignorePrefixes", cfg.Filter.IgnorePrefixes).
		Msg("Kafka trigger consumer initialized")

	return &Consumer{
		reader:    reader,
		submitter: submitter,
		scheme:    scheme,
		filter:    cfg.Filter,
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled. Messages are committed after submission,
// including rejected ones; a message is left uncommitted only when the dispatcher is shutting down.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch trigger: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit trigger")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	trigger, err := ParseTrigger(msg.Value, c.scheme, c.filter)
	if errors.Is(err, ErrIgnoredObject) {
		c.logger.Debug().Err(err).Int64("offset", msg.Offset).Msg("Ignoring object event")
		return nil
	}
	if err != nil {
		c.logger.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Dropping unreadable trigger")
		return nil
	}

	jobID, err := c.submitter.Submit(ctx, SourceKafka, trigger)
	if errors.Is(err, orchestrator.ErrShuttingDown) {
		return err
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("jobId", jobID).Int64("offset", msg.Offset).Msg("Trigger not submitted")
	}
	return nil
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// ParseTrigger accepts either an object-created notification
//
//	{"detail":{"bucket":{"name":"calls"},"object":{"key":"2024/05/call-1.wav"}}}
//
// or a plain trigger body as accepted by POST /v1/jobs. Object events rejected by
// filter return ErrIgnoredObject.
func ParseTrigger(payload []byte, scheme string, filter ObjectFilter) (models.Trigger, error) {
	if !gjson.ValidBytes(payload) {
		return models.Trigger{}, errors.New("trigger is not valid JSON")
	}

	detail := gjson.GetBytes(payload, "detail")
	if detail.Exists() {
		bucket := detail.Get("bucket.name").String()
		key := detail.Get("object.key").String()
		if bucket == "" || key == "" {
			return models.Trigger{}, errors.New("object-created event without bucket or key")
		}
		if !filter.Accepts(bucket, key) {
			return models.Trigger{}, fmt.Errorf("%w: %s/%s", ErrIgnoredObject, bucket, key)
		}
		return models.Trigger{
			JobID:        orchestrator.JobIDFromKey(key),
			AudioLocator: fmt.Sprintf("%s://%s/%s", scheme, bucket, key),
		}, nil
	}

	var t models.Trigger
	if err := json.Unmarshal(payload, &t); err != nil {
		return models.Trigger{}, fmt.Errorf("decode trigger: %w", err)
	}
	return t, nil
}
