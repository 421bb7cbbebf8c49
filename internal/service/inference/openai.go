package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model name is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI completes prompts with the chat completions API.
type OpenAI struct {
	create func(ctx context.Context, params openai.ChatCompletionNewParams, opts ...openaiOption.RequestOption) (*openai.ChatCompletion, error)
	model  string
}

// NewOpenAI creates a client for apiKey. baseURL may point at a compatible endpoint.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []openaiOption.RequestOption{openaiOption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiOption.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{create: client.Chat.Completions.New, model: model}, nil
}

// Complete sends prompt as a single user message.
func (o *OpenAI) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := o.create(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:     openai.ChatModel(o.model),
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
