// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_call_triage"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Job metrics
	JobsStarted   *prometheus.CounterVec
	JobsActive    prometheus.Gauge
	JobsSucceeded prometheus.Counter
	JobsFailed    *prometheus.CounterVec
	JobDuration   prometheus.Histogram

	// Step metrics
	StepLatency        *prometheus.HistogramVec
	TranscriptionPolls prometheus.Counter
	SeverityAssigned   *prometheus.CounterVec
	SentimentFallbacks prometheus.Counter

	// Gateway metrics
	TokenRefreshes  *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
	ToolLatency     *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Trigger metrics
	TriggersReceived *prometheus.CounterVec

	// gRPC metrics
	RPCTotal    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		JobsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of call jobs started",
		}, []string{"mode"}),
		JobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of call jobs currently running",
		}),
		JobsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Total number of call jobs that created an incident",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of call jobs that stopped before completion",
		}, []string{"reason", "last_status"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of call jobs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		StepLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_latency_seconds",
			Help:      "Latency of individual state machine steps in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"step"}),
		TranscriptionPolls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_polls_total",
			Help:      "Total number of transcription status checks",
		}),
		SeverityAssigned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "severity_assigned_total",
			Help:      "Total number of calls per assigned severity",
		}, []string{"severity", "sentiment"}),
		SentimentFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentiment_fallbacks_total",
			Help:      "Total number of model answers that needed default sentiment or intensity",
		}),

		TokenRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Total number of client-credentials exchanges",
		}, []string{"result"}),
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of external tool invocations",
		}, []string{"tool", "result"}),
		ToolLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "External tool invocation latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"tool"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		TriggersReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_received_total",
			Help:      "Total number of job triggers received",
		}, []string{"source", "result"}),

		RPCTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests handled",
		}, []string{"method", "code"}),
		RPCDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
	}
}

// RecordJobStart records a job entering the state machine.
func (m *Metrics) RecordJobStart(testMode bool) {
	mode := "production"
	if testMode {
		mode = "test"
	}
	m.JobsStarted.WithLabelValues(mode).Inc()
	m.JobsActive.Inc()
}

// RecordJobEnd records a job leaving the state machine.
func (m *Metrics) RecordJobEnd(success bool, reason, lastStatus string, durationSeconds float64) {
	m.JobsActive.Dec()
	m.JobDuration.Observe(durationSeconds)
	if success {
		m.JobsSucceeded.Inc()
	} else {
		m.JobsFailed.WithLabelValues(reason, lastStatus).Inc()
	}
}

// RecordStep records the latency of one step.
func (m *Metrics) RecordStep(step string, latencySeconds float64) {
	m.StepLatency.WithLabelValues(step).Observe(latencySeconds)
}

// RecordPoll records a transcription status check.
func (m *Metrics) RecordPoll() {
	m.TranscriptionPolls.Inc()
}

// RecordSeverity records an assigned severity tier.
func (m *Metrics) RecordSeverity(severity, sentiment string, fallback bool) {
	m.SeverityAssigned.WithLabelValues(severity, sentiment).Inc()
	if fallback {
		m.SentimentFallbacks.Inc()
	}
}

// RecordTokenRefresh records a credential exchange.
func (m *Metrics) RecordTokenRefresh(err error) {
	m.TokenRefreshes.WithLabelValues(result(err)).Inc()
}

// RecordToolInvocation records a tool call and its latency.
func (m *Metrics) RecordToolInvocation(tool string, err error, latencySeconds float64) {
	m.ToolInvocations.WithLabelValues(tool, result(err)).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordTrigger records a job trigger from source.
func (m *Metrics) RecordTrigger(source string, err error) {
	m.TriggersReceived.WithLabelValues(source, result(err)).Inc()
}

// RecordRPC records a finished gRPC call.
func (m *Metrics) RecordRPC(method, code string, durationSeconds float64) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(durationSeconds)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
