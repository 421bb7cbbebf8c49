// Package gateway invokes named external tools over an authenticated HTTP channel.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/observability/metrics"
	"ai-call-triage-service/internal/schema"
)

// maxResponseBytes caps how much of a tool response is read.
const maxResponseBytes = 4 << 20

// TokenSource supplies the bearer credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

// ToolInvocationError is returned on transport failure, a non-2xx status or a malformed body.
type ToolInvocationError struct {
	Tool       string
	StatusCode int
	Err        error
}

func (e *ToolInvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tool %s: status %d: %v", e.Tool, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// IsToolInvocationError reports whether err came from a tool call.
func IsToolInvocationError(err error) bool {
	var te *ToolInvocationError
	return errors.As(err, &te)
}

// ToolRequest is the envelope sent to the tool endpoint.
type ToolRequest struct {
	Tool       string `json:"tool"`
	Parameters any    `json:"parameters"`
}

// ToolResponse is the tool's response body, returned unmodified.
type ToolResponse struct {
	Body json.RawMessage
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r ToolResponse) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Gateway sends tool invocations with a bearer token. It holds no state besides the token source.
type Gateway struct {
	endpoint   string
	tokens     TokenSource
	httpClient *http.Client
	validator  *schema.Validator
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the client used for tool calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway for the tool endpoint.
func New(endpoint string, tokens TokenSource, opts ...Option) *Gateway {
	g := &Gateway{
		endpoint:   endpoint,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		validator:  schema.New(),
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke calls tool with params and returns the decoded response body.
// Token failures are returned as-is and no request is sent. There are no retries.
func (g *Gateway) Invoke(ctx context.Context, tool string, params any) (ToolResponse, error) {
	start := time.Now()
	resp, err := g.invoke(ctx, tool, params)
	g.metrics.RecordToolInvocation(tool, err, time.Since(start).Seconds())

	logger := logging.WithTool(tool)
	if err != nil {
		logger.Error().Err(err).Dur("latency", time.Since(start)).Msg("Tool invocation failed")
		return ToolResponse{}, err
	}
	logger.Debug().Dur("latency", time.Since(start)).Int("bytes", len(resp.Body)).Msg("Tool invoked")
	return resp, nil
}

func (g *Gateway) invoke(ctx context.Context, tool string, params any) (ToolResponse, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return ToolResponse{}, err
	}

	payload, err := json.Marshal(ToolRequest{Tool: tool, Parameters: params})
	if err != nil {
		return ToolResponse{}, &ToolInvocationError{Tool: tool, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ToolResponse{}, &ToolInvocationError{Tool: tool, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ToolResponse{}, &ToolInvocationError{Tool: tool, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ToolResponse{}, &ToolInvocationError{Tool: tool, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := g.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return ToolResponse{}, &ToolInvocationError{
			Tool:       tool,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncate(body, 256)),
		}
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && !json.Valid(body) {
		return ToolResponse{}, &ToolInvocationError{
			Tool:       tool,
			StatusCode: resp.StatusCode,
			Err:        errors.New("malformed response body"),
		}
	}
	return ToolResponse{Body: json.RawMessage(body)}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
