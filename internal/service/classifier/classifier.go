// Package classifier assigns a severity tier to a call from its sentiment,
// emotional intensity and transcript keywords.
package classifier

import (
	"strings"

	"ai-call-triage-service/internal/models"
)

// UrgentKeywords mark calls about outages or broken service.
var UrgentKeywords = []string{
	"urgent", "critical", "emergency", "broken", "down", "not working", "outage",
}

// ComplaintKeywords mark dissatisfied callers.
var ComplaintKeywords = []string{
	"complaint", "angry", "frustrated", "disappointed", "terrible", "awful",
}

// Signals holds the keyword scan of a transcript.
type Signals struct {
	Urgent    bool
	Complaint bool
}

// Scan looks for urgent and complaint keywords, ignoring case.
func Scan(transcript string) Signals {
	lower := strings.ToLower(transcript)
	return Signals{
		Urgent:    containsAny(lower, UrgentKeywords),
		Complaint: containsAny(lower, ComplaintKeywords),
	}
}

// Classify returns the severity for a call. It is total and deterministic:
// unknown sentiments are treated as neutral and an empty transcript has no keywords.
//
// Rules, first match wins:
//
//	negative: intensity >= 8 or urgent  → HIGH
//	          intensity >= 6 or complaint → MEDIUM
//	          otherwise                 → LOW
//	neutral:  urgent → MEDIUM, otherwise LOW
//	positive: LOW
func Classify(sentiment models.Sentiment, intensity int, transcript string) models.Severity {
	sig := Scan(transcript)

	switch sentiment {
	case models.SentimentPositive:
		return models.SeverityLow
	case models.SentimentNegative:
		switch {
		case intensity >= 8 || sig.Urgent:
			return models.SeverityHigh
		case intensity >= 6 || sig.Complaint:
			return models.SeverityMedium
		default:
			return models.SeverityLow
		}
	default:
		if sig.Urgent {
			return models.SeverityMedium
		}
		return models.SeverityLow
	}
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
