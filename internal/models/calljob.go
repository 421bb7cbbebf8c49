// Package models defines the call job and the events emitted while it is processed.
package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the position of a CallJob in the processing state machine.
type JobStatus string

const (
	StatusStarted      JobStatus = "STARTED"
	StatusTranscribing JobStatus = "TRANSCRIBING"
	StatusTranscribed  JobStatus = "TRANSCRIBED"
	StatusAnalyzing    JobStatus = "ANALYZING"
	StatusClassified   JobStatus = "CLASSIFIED"
	StatusSummarized   JobStatus = "SUMMARIZED"
	StatusPersisted    JobStatus = "PERSISTED"
	StatusFailed       JobStatus = "FAILED"
)

// ErrInvalidTransition is returned when a job is moved out of order.
var ErrInvalidTransition = errors.New("invalid job status transition")

// transitions lists the allowed next states for every status.
//
//	STARTED → TRANSCRIBING ⟲ → TRANSCRIBED → ANALYZING → CLASSIFIED → SUMMARIZED → PERSISTED
//	   │            └──→ FAILED                  ↑
//	   └──── test mode ──────────────────────────┘
var transitions = map[JobStatus][]JobStatus{
	StatusStarted:      {StatusTranscribing, StatusAnalyzing},
	StatusTranscribing: {StatusTranscribing, StatusTranscribed, StatusFailed},
	StatusTranscribed:  {StatusAnalyzing},
	StatusAnalyzing:    {StatusClassified},
	StatusClassified:   {StatusSummarized},
	StatusSummarized:   {StatusPersisted},
}

// CanTransitionTo reports whether next may follow s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for PERSISTED and FAILED.
func (s JobStatus) IsTerminal() bool {
	return s == StatusPersisted || s == StatusFailed
}

// Sentiment is the caller's overall sentiment as judged by inference.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Severity is the triage tier handed to the ticketing system.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// MaxJobIDLength bounds job ids, caller-supplied or derived from object keys.
const MaxJobIDLength = 255

// Trigger starts one CallJob. It arrives from a storage upload event or the HTTP API.
type Trigger struct {
	JobID        string `json:"jobId,omitempty" validate:"omitempty,max=255"`
	AudioLocator string `json:"audioLocator,omitempty" validate:"required_unless=TestMode true,omitempty,uri"`
	Transcript   string `json:"transcript,omitempty" validate:"required_if=TestMode true"`
	TestMode     bool   `json:"testMode,omitempty"`
	CustomerID   string `json:"customerId,omitempty" validate:"omitempty,max=128"`
}

// CallJob is one voice call's journey through transcription, analysis and ticketing.
type CallJob struct {
	JobID        string     `json:"jobId"`
	AudioLocator string     `json:"audioLocator,omitempty"`
	TestMode     bool       `json:"testMode"`
	CustomerID   string     `json:"customerId,omitempty"`
	Transcript   string     `json:"transcript,omitempty"`
	Sentiment    Sentiment  `json:"sentiment,omitempty"`
	Intensity    int        `json:"intensity,omitempty"`
	Severity     Severity   `json:"severity,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	IncidentID   string     `json:"incidentId,omitempty"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

// NewCallJob creates a job in STARTED state from a trigger whose JobID is already resolved.
func NewCallJob(t Trigger, now time.Time) *CallJob {
	return &CallJob{
		JobID:        t.JobID,
		AudioLocator: t.AudioLocator,
		TestMode:     t.TestMode,
		CustomerID:   t.CustomerID,
		Status:       StatusStarted,
		CreatedAt:    now.UTC(),
	}
}

// Advance moves the job to next, rejecting transitions the state machine does not allow.
func (j *CallJob) Advance(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// SetAnalysis records sentiment, intensity and the severity derived from them in one step.
func (j *CallJob) SetAnalysis(sentiment Sentiment, intensity int, severity Severity) {
	j.Sentiment = sentiment
	j.Intensity = intensity
	j.Severity = severity
}

// SetSummary records the summary. Severity must already be known.
func (j *CallJob) SetSummary(summary string) error {
	if j.Severity == "" {
		return errors.New("summary requires severity")
	}
	j.Summary = summary
	return nil
}
