package inference

import (
	"context"
	"fmt"
	"strings"

	"ai-call-triage-service/internal/service/classifier"
)

var positiveWords = []string{"thank", "great", "helpful", "appreciate", "perfect"}

// Mock is a deterministic offline model. It answers the sentiment prompt from
// keyword signals and echoes the first sentence of the transcript as a summary.
type Mock struct{}

// Complete implements Model.
func (Mock) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	transcript := prompt
	if i := strings.LastIndex(prompt, "Transcript:\n"); i >= 0 {
		transcript = prompt[i+len("Transcript:\n"):]
	}

	if strings.HasPrefix(prompt, "Analyze sentiment") {
		return mockSentiment(transcript), nil
	}
	return mockSummary(transcript), nil
}

func mockSentiment(transcript string) string {
	signals := classifier.Scan(transcript)
	lower := strings.ToLower(transcript)

	switch {
	case signals.Urgent:
		return "Sentiment: negative, Intensity: 9"
	case signals.Complaint:
		return "Sentiment: negative, Intensity: 6"
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			return "Sentiment: positive, Intensity: 7"
		}
	}
	return "Sentiment: neutral, Intensity: 3"
}

func mockSummary(transcript string) string {
	first := strings.TrimSpace(transcript)
	if i := strings.IndexAny(first, ".?!"); i >= 0 {
		first = first[:i+1]
	}
	if first == "" {
		first = "No transcript content."
	}
	return fmt.Sprintf("Caller summary: %s", first)
}
