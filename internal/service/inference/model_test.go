package inference

import (
	"context"
	"strings"
	"testing"
	"time"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/service/classifier"
)

func TestSentimentPrompt(t *testing.T) {
	p := SentimentPrompt("my line is dead")
	if !strings.HasPrefix(p, "Analyze sentiment") {
		t.Errorf("prompt should start with the instruction, got %q", p)
	}
	if !strings.HasSuffix(p, "my line is dead") {
		t.Errorf("prompt should end with the transcript, got %q", p)
	}
}

func TestSummaryPrompt(t *testing.T) {
	history := []PastInteraction{{
		Date:      time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		Type:      "call",
		Sentiment: "negative",
		Summary:   "billing dispute",
	}}
	p := SummaryPrompt(models.SentimentNegative, models.SeverityHigh, "the site is down", history)

	for _, want := range []string{
		"Sentiment: negative",
		"Severity: HIGH",
		"- 2024-04-02 call (negative): billing dispute",
		"Transcript:\nthe site is down",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}

	if strings.Contains(SummaryPrompt(models.SentimentNeutral, models.SeverityLow, "hi", nil), "Previous interactions") {
		t.Error("prompt without history should not mention previous interactions")
	}
}

func TestMock_SentimentRoundTripsThroughParser(t *testing.T) {
	tests := []struct {
		transcript string
		want       models.Severity
	}{
		{"Our production environment is down, this is urgent.", models.SeverityHigh},
		{"I am frustrated with my bill.", models.SeverityMedium},
		{"Thank you, the technician was helpful.", models.SeverityLow},
		{"Can you send pricing information?", models.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			text, err := Mock{}.Complete(context.Background(), SentimentPrompt(tt.transcript), SentimentMaxTokens)
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			a := classifier.ParseAnalysis(text)
			if a.Fallback {
				t.Fatalf("mock answer %q needed fallback", text)
			}
			if got := classifier.Classify(a.Sentiment, a.Intensity, tt.transcript); got != tt.want {
				t.Errorf("severity = %s, want %s (answer %q)", got, tt.want, text)
			}
		})
	}
}

func TestMock_Summary(t *testing.T) {
	prompt := SummaryPrompt(models.SentimentNegative, models.SeverityHigh, "Everything is broken. Please help.", nil)
	text, err := Mock{}.Complete(context.Background(), prompt, SummaryMaxTokens)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Caller summary: Everything is broken." {
		t.Errorf("summary = %q", text)
	}
}

func TestMock_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Mock{}).Complete(ctx, "anything", 10); err == nil {
		t.Error("expected context error")
	}
}

func TestNewProviders_RequireAPIKey(t *testing.T) {
	if _, err := NewOpenAI("", "", ""); err == nil {
		t.Error("NewOpenAI without key: expected error")
	}
	if _, err := NewGemini(context.Background(), "", ""); err == nil {
		t.Error("NewGemini without key: expected error")
	}
}
