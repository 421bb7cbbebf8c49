package classifier

import (
	"testing"

	"ai-call-triage-service/internal/models"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantSent     models.Sentiment
		wantInt      int
		wantFallback bool
	}{
		{"plain", "Sentiment: negative, Intensity: 9", models.SentimentNegative, 9, false},
		{"markdown", "**Sentiment:** Positive\n**Intensity:** 2", models.SentimentPositive, 2, false},
		{"numbered answer", "1) Sentiment neutral\n2) Intensity 4", models.SentimentNeutral, 4, false},
		{"empty", "", models.SentimentNeutral, 5, true},
		{"gibberish", "I cannot help with that.", models.SentimentNeutral, 5, true},
		{"sentiment only", "sentiment: negative", models.SentimentNegative, 5, true},
		{"intensity only", "intensity: 7", models.SentimentNeutral, 7, true},
		{"intensity out of range", "Sentiment: negative, Intensity: 42", models.SentimentNegative, 5, true},
		{"intensity zero", "Sentiment: positive, Intensity: 0", models.SentimentPositive, 5, true},
		{"intensity ten", "Sentiment: negative. Intensity: 10/10", models.SentimentNegative, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAnalysis(tt.text)
			if got.Sentiment != tt.wantSent {
				t.Errorf("sentiment = %q, want %q", got.Sentiment, tt.wantSent)
			}
			if got.Intensity != tt.wantInt {
				t.Errorf("intensity = %d, want %d", got.Intensity, tt.wantInt)
			}
			if got.Fallback != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", got.Fallback, tt.wantFallback)
			}
		})
	}
}
