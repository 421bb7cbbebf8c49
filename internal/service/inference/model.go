// Package inference wraps the LLM providers used for sentiment extraction and summaries.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-call-triage-service/internal/models"
)

// Token budgets for the two prompts.
const (
	SentimentMaxTokens = 1000
	SummaryMaxTokens   = 500
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("inference: empty completion")

// Model turns a prompt into free text.
type Model interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// SentimentPrompt asks for sentiment and intensity of a transcript.
func SentimentPrompt(transcript string) string {
	return "Analyze sentiment of this transcript and provide sentiment (positive/negative/neutral) " +
		"and intensity (1-10). Answer in the form \"Sentiment: <value>, Intensity: <value>\".\n\n" +
		"Transcript:\n" + transcript
}

// PastInteraction is a previous customer contact included in the summary prompt.
type PastInteraction struct {
	Date      time.Time
	Type      string
	Sentiment string
	Summary   string
}

// SummaryPrompt asks for a ticket-ready summary of the call.
func SummaryPrompt(sentiment models.Sentiment, severity models.Severity, transcript string, history []PastInteraction) string {
	var b strings.Builder
	b.WriteString("Create a concise summary for incident ingestion with key issues, sentiment, and severity.\n")
	fmt.Fprintf(&b, "Sentiment: %s\nSeverity: %s\n", sentiment, severity)
	if len(history) > 0 {
		b.WriteString("\nPrevious interactions with this customer:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s %s (%s): %s\n", h.Date.Format("2006-01-02"), h.Type, h.Sentiment, h.Summary)
		}
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}
