package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-call-triage-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerStatus != nil {
				t.Error("expected nil status writer when disabled")
			}
			if p.writerOutcome != nil {
				t.Error("expected nil outcome writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		TopicStatus:  "test.status",
		TopicOutcome: "test.outcome",
		Principal:    "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicStatus != "test.status" {
		t.Errorf("expected topic status 'test.status', got %s", p.topicStatus)
	}
	if p.topicOutcome != "test.outcome" {
		t.Errorf("expected topic outcome 'test.outcome', got %s", p.topicOutcome)
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicStatus:  "calljob.status",
		TopicOutcome: "calljob.outcome",
	})
	defer p.Close()

	if !p.enabled || p.writerStatus == nil || p.writerOutcome == nil {
		t.Fatal("expected both writers when enabled")
	}
	if p.writerStatus.Topic != "calljob.status" || p.writerOutcome.Topic != "calljob.outcome" {
		t.Errorf("topics = %s, %s", p.writerStatus.Topic, p.writerOutcome.Topic)
	}
}

func TestPublisher_Publish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})
	event := map[string]string{"jobId": "call-1"}

	if err := p.PublishStatus(context.Background(), "call-1", event); err != nil {
		t.Errorf("status: expected no error when disabled, got %v", err)
	}
	if err := p.PublishOutcome(context.Background(), "call-1", event); err != nil {
		t.Errorf("outcome: expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Channels cannot be marshalled
	event := make(chan int)
	if err := p.PublishStatus(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable status event")
	}
	if err := p.PublishOutcome(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable outcome event")
	}
}

func TestPublisher_ObserverDisabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicStatus: "s", TopicOutcome: "o"})
	job := models.NewCallJob(models.Trigger{JobID: "call-1"}, time.Now())

	// Must not panic or block without Kafka.
	p.OnTransition(context.Background(), job, "")
	p.OnFinish(context.Background(), job, errors.New("boom"), time.Second)
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestStatusChanged(t *testing.T) {
	job := models.NewCallJob(models.Trigger{JobID: "call-1"}, time.Now())
	job.Status = models.StatusTranscribing
	now := time.UnixMilli(1714557600000)

	ev := StatusChanged(job, models.StatusStarted, now)

	if ev.EventType != models.EventTypeStatusChanged {
		t.Errorf("eventType = %s", ev.EventType)
	}
	if ev.From != models.StatusStarted || ev.To != models.StatusTranscribing {
		t.Errorf("from/to = %s/%s", ev.From, ev.To)
	}
	if ev.JobID != "call-1" || ev.EventID == "" || ev.Timestamp != 1714557600000 {
		t.Errorf("event = %+v", ev)
	}
}

func TestOutcome(t *testing.T) {
	job := models.NewCallJob(models.Trigger{JobID: "call-1"}, time.Now())
	job.Status = models.StatusPersisted
	job.Severity = models.SeverityHigh
	job.Sentiment = models.SentimentNegative
	job.IncidentID = "INC-1"

	ok := Outcome(job, nil, 2*time.Second, time.Now())
	if !ok.Succeeded || ok.EventType != models.EventTypeSucceeded || ok.Error != "" {
		t.Errorf("success outcome = %+v", ok)
	}
	if ok.IncidentID != "INC-1" || ok.Severity != models.SeverityHigh || ok.DurationMs != 2000 {
		t.Errorf("success outcome = %+v", ok)
	}

	job.Status = models.StatusFailed
	failed := Outcome(job, errors.New("transcription failed"), time.Second, time.Now())
	if failed.Succeeded || failed.EventType != models.EventTypeFailed || failed.Error != "transcription failed" {
		t.Errorf("failed outcome = %+v", failed)
	}
	if failed.EventID == ok.EventID {
		t.Error("event ids must be unique")
	}
}
