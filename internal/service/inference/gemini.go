package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// Gemini completes prompts with the Google Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a client for apiKey.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &Gemini{client: c, model: model}, nil
}

// Complete sends a single-turn prompt and joins the text parts of the first candidate.
func (g *Gemini) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetMaxOutputTokens(int32(maxTokens))

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyCompletion
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(b.String()), nil
}

// Close releases the client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
