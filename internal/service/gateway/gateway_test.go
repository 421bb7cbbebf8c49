package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/metrics"
	"ai-call-triage-service/internal/schema"
	"ai-call-triage-service/internal/service/tokencache"
)

type fakeTokens struct {
	token       string
	err         error
	calls       atomic.Int32
	invalidated atomic.Int32
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

func (f *fakeTokens) Invalidate() {
	f.invalidated.Add(1)
}

type recordedRequest struct {
	auth string
	body ToolRequest
	raw  map[string]json.RawMessage
}

func newToolServer(t *testing.T, status int, respBody string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		rec := recordedRequest{auth: r.Header.Get("Authorization")}
		if err := json.Unmarshal(data, &rec.body); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}
		var envelope struct {
			Parameters map[string]json.RawMessage `json:"parameters"`
		}
		_ = json.Unmarshal(data, &envelope)
		rec.raw = envelope.Parameters
		reqs = append(reqs, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func newTestGateway(srv *httptest.Server, tokens TokenSource) *Gateway {
	return New(srv.URL, tokens, WithHTTPClient(srv.Client()), WithMetrics(metrics.DefaultMetrics))
}

func TestInvoke_AttachesBearerAndEnvelope(t *testing.T) {
	srv, reqs := newToolServer(t, http.StatusOK, `{"ok":true,"items":[1,2]}`)
	tokens := &fakeTokens{token: "abc123"}
	gw := newTestGateway(srv, tokens)

	resp, err := gw.Invoke(context.Background(), "lookup", map[string]any{"id": "42"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if len(*reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(*reqs))
	}
	got := (*reqs)[0]
	if got.auth != "Bearer abc123" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.body.Tool != "lookup" {
		t.Errorf("tool = %q, want lookup", got.body.Tool)
	}
	if string(got.raw["id"]) != `"42"` {
		t.Errorf("parameters.id = %s", got.raw["id"])
	}

	// Body is returned unmodified.
	if string(resp.Body) != `{"ok":true,"items":[1,2]}` {
		t.Errorf("body = %s", resp.Body)
	}
	var decoded struct {
		OK    bool  `json:"ok"`
		Items []int `json:"items"`
	}
	if err := resp.Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.OK || len(decoded.Items) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestInvoke_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, 500},
		{"bad request", http.StatusBadRequest, `bad`, 400},
		{"malformed body", http.StatusOK, `{not json`, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newToolServer(t, tt.status, tt.body)
			gw := newTestGateway(srv, &fakeTokens{token: "t"})

			_, err := gw.Invoke(context.Background(), "create-incident", map[string]any{})
			var te *ToolInvocationError
			if !errors.As(err, &te) {
				t.Fatalf("expected ToolInvocationError, got %v", err)
			}
			if te.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", te.StatusCode, tt.wantStatus)
			}
			if te.Tool != "create-incident" {
				t.Errorf("tool = %q", te.Tool)
			}
		})
	}
}

func TestInvoke_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	gw := New(url, &fakeTokens{token: "t"}, WithMetrics(metrics.DefaultMetrics))
	_, err := gw.Invoke(context.Background(), "lookup", nil)
	if !IsToolInvocationError(err) {
		t.Fatalf("expected ToolInvocationError, got %v", err)
	}
}

func TestInvoke_TokenFailureSendsNothing(t *testing.T) {
	srv, reqs := newToolServer(t, http.StatusOK, `{}`)
	authErr := &tokencache.AuthError{Err: errors.New("denied")}
	gw := newTestGateway(srv, &fakeTokens{err: authErr})

	_, err := gw.Invoke(context.Background(), "lookup", nil)
	if !tokencache.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if IsToolInvocationError(err) {
		t.Error("auth failure must not be reported as a tool error")
	}
	if len(*reqs) != 0 {
		t.Errorf("requests = %d, want 0", len(*reqs))
	}
}

func TestInvoke_UnauthorizedInvalidatesToken(t *testing.T) {
	srv, _ := newToolServer(t, http.StatusUnauthorized, `{"error":"expired"}`)
	tokens := &fakeTokens{token: "stale"}
	gw := newTestGateway(srv, tokens)

	if _, err := gw.Invoke(context.Background(), "lookup", nil); err == nil {
		t.Fatal("expected error")
	}
	if got := tokens.invalidated.Load(); got != 1 {
		t.Errorf("invalidations = %d, want 1", got)
	}
	if got := tokens.calls.Load(); got != 1 {
		t.Errorf("token calls = %d, want 1 (no retry)", got)
	}
}

func TestInvoke_EmptyBody(t *testing.T) {
	srv, _ := newToolServer(t, http.StatusOK, "")
	gw := newTestGateway(srv, &fakeTokens{token: "t"})

	resp, err := gw.Invoke(context.Background(), "update-customer", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var v map[string]any
	if err := resp.Decode(&v); err != nil {
		t.Errorf("Decode on empty body: %v", err)
	}
}

func TestCreateIncident(t *testing.T) {
	srv, reqs := newToolServer(t, http.StatusOK, `{"incidentId":"INC-7","status":"CREATED","message":"ok"}`)
	gw := newTestGateway(srv, &fakeTokens{token: "t"})

	job := &models.CallJob{
		JobID:      "call-1",
		CustomerID: "C-9",
		Transcript: "my internet is down",
		Sentiment:  models.SentimentNegative,
		Intensity:  9,
		Severity:   models.SeverityHigh,
		Summary:    "Customer reports outage",
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	resp, err := gw.CreateIncident(context.Background(), IncidentFromJob(job))
	if err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if resp.IncidentID != "INC-7" {
		t.Errorf("incidentId = %q", resp.IncidentID)
	}

	params := (*reqs)[0].raw
	checks := map[string]string{
		"severity":      `"HIGH"`,
		"sentiment":     `"negative"`,
		"category":      `"VOICE_CALL"`,
		"customerId":    `"C-9"`,
		"description":   `"Customer reports outage"`,
		"callTimestamp": `"2024-05-01T10:00:00Z"`,
	}
	for k, want := range checks {
		if got := string(params[k]); got != want {
			t.Errorf("parameters.%s = %s, want %s", k, got, want)
		}
	}
	if (*reqs)[0].body.Tool != ToolCreateIncident {
		t.Errorf("tool = %q", (*reqs)[0].body.Tool)
	}
}

func TestIncidentFromJob_LongJobID(t *testing.T) {
	job := &models.CallJob{
		JobID:     strings.Repeat("a", 250),
		Sentiment: models.SentimentNegative,
		Intensity: 9,
		Severity:  models.SeverityHigh,
		Summary:   "Customer reports outage",
	}

	req := IncidentFromJob(job)
	if n := utf8.RuneCountInString(req.Title); n != maxTitleLength {
		t.Errorf("title length = %d, want %d", n, maxTitleLength)
	}
	if !strings.HasPrefix(req.Title, "[HIGH] Voice call aaa") || !strings.HasSuffix(req.Title, "...") {
		t.Errorf("title = %q", req.Title)
	}
	if err := schema.New().Validate(req); err != nil {
		t.Errorf("Validate: %v", err)
	}

	short := IncidentFromJob(&models.CallJob{JobID: "call-1", Severity: models.SeverityLow})
	if short.Title != "[LOW] Voice call call-1" {
		t.Errorf("title = %q", short.Title)
	}
}

func TestCreateIncident_ValidationRejectsBeforeSending(t *testing.T) {
	srv, reqs := newToolServer(t, http.StatusOK, `{}`)
	gw := newTestGateway(srv, &fakeTokens{token: "t"})

	tests := []struct {
		name string
		req  IncidentRequest
	}{
		{"missing title", IncidentRequest{Description: "d", Severity: "HIGH", Sentiment: "negative"}},
		{"unknown severity", IncidentRequest{Title: "t", Description: "d", Severity: "CRITICAL", Sentiment: "negative"}},
		{"unknown sentiment", IncidentRequest{Title: "t", Description: "d", Severity: "LOW", Sentiment: "mixed"}},
		{"intensity out of range", IncidentRequest{Title: "t", Description: "d", Severity: "LOW", Sentiment: "neutral", EmotionalIntensity: 11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.CreateIncident(context.Background(), tt.req)
			if !schema.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if len(*reqs) != 0 {
		t.Errorf("requests = %d, want 0", len(*reqs))
	}
}

func TestGetCustomerHistory(t *testing.T) {
	srv, reqs := newToolServer(t, http.StatusOK,
		`{"customerId":"C-1","interactions":[{"date":"2024-04-01T09:00:00Z","type":"call","sentiment":"negative","summary":"billing dispute"}]}`)
	gw := newTestGateway(srv, &fakeTokens{token: "t"})

	hist, err := gw.GetCustomerHistory(context.Background(), "C-1")
	if err != nil {
		t.Fatalf("GetCustomerHistory: %v", err)
	}
	if len(hist.Interactions) != 1 || hist.Interactions[0].Summary != "billing dispute" {
		t.Errorf("history = %+v", hist)
	}
	if string((*reqs)[0].raw["customerId"]) != `"C-1"` {
		t.Errorf("customerId param = %s", (*reqs)[0].raw["customerId"])
	}

	if _, err := gw.GetCustomerHistory(context.Background(), ""); !schema.IsValidationError(err) {
		t.Errorf("empty customer id: expected validation error, got %v", err)
	}
}

func TestUpdateCustomer(t *testing.T) {
	srv, reqs := newToolServer(t, http.StatusOK, "")
	gw := newTestGateway(srv, &fakeTokens{token: "t"})

	job := &models.CallJob{
		JobID:      "call-2",
		CustomerID: "C-2",
		Sentiment:  models.SentimentNeutral,
		Intensity:  4,
		Severity:   models.SeverityLow,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	now := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)

	if err := gw.UpdateCustomer(context.Background(), CustomerUpdateFromJob(job, "INC-1", now)); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}
	params := (*reqs)[0].raw
	if string(params["lastInteraction"]) != `"2024-05-01T10:05:00Z"` {
		t.Errorf("lastInteraction = %s", params["lastInteraction"])
	}
	if string(params["notes"]) != `"Voice call call-2 triaged as LOW, incident INC-1"` {
		t.Errorf("notes = %s", params["notes"])
	}

	if err := gw.UpdateCustomer(context.Background(), CustomerUpdate{LastInteraction: now}); !schema.IsValidationError(err) {
		t.Errorf("missing customer id: expected validation error, got %v", err)
	}
}
