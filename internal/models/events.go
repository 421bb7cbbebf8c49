package models

// JobStatusChanged is published on every state transition.
type JobStatusChanged struct {
	EventType string    `json:"eventType"`
	EventID   string    `json:"eventId"`
	JobID     string    `json:"jobId"`
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp int64     `json:"timestamp"`
}

// JobOutcome is published once per job when it reaches a terminal outcome.
type JobOutcome struct {
	EventType  string    `json:"eventType"`
	EventID    string    `json:"eventId"`
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	Succeeded  bool      `json:"succeeded"`
	Severity   Severity  `json:"severity,omitempty"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
	IncidentID string    `json:"incidentId,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  int64     `json:"timestamp"`
}

const (
	EventTypeStatusChanged = "calljob.status.changed"
	EventTypeSucceeded     = "calljob.succeeded"
	EventTypeFailed        = "calljob.failed"
)
