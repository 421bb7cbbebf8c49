package tokencache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-call-triage-service/internal/observability/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type tokenServer struct {
	*httptest.Server
	requests  atomic.Int32
	expiresIn string
	status    int
	delay     time.Duration
}

func newTokenServer(t *testing.T, expiresIn string) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: expiresIn, status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.requests.Add(1)

		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("basic auth = %q/%q (ok=%v)", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}

		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		if ts.status != http.StatusOK {
			http.Error(w, `{"error":"server_error"}`, ts.status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		body := fmt.Sprintf(`{"access_token":"tok-%d","token_type":"Bearer"`, n)
		if ts.expiresIn != "" {
			body += `,"expires_in":` + ts.expiresIn
		}
		body += "}"
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestCache(ts *tokenServer, clock *fakeClock) *Cache {
	return New(Config{
		TokenURL:     ts.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Timeout:      2 * time.Second,
	}, WithClock(clock.Now), WithMetrics(metrics.DefaultMetrics), WithHTTPClient(ts.Client()))
}

func TestCache_ReusesTokenWithinValidity(t *testing.T) {
	ts := newTokenServer(t, "3600")
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(ts, clock)

	first, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first != "tok-1" {
		t.Errorf("first token = %q, want tok-1", first)
	}

	clock.Advance(3539 * time.Second)
	second, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if second != first {
		t.Errorf("second token = %q, want cached %q", second, first)
	}
	if got := ts.requests.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
}

func TestCache_RefreshesAfterSafetyMargin(t *testing.T) {
	ts := newTokenServer(t, "3600")
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(ts, clock)

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	// 3600s TTL minus the 60s margin.
	clock.Advance(3541 * time.Second)
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2", tok)
	}
	if got := ts.requests.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestCache_ConcurrentCallersShareOneExchange(t *testing.T) {
	ts := newTokenServer(t, "3600")
	ts.delay = 50 * time.Millisecond
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(ts, clock)

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "tok-1" {
			t.Errorf("caller %d token = %q, want tok-1", i, tokens[i])
		}
	}
	if got := ts.requests.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
}

func TestCache_ExchangeFailure(t *testing.T) {
	ts := newTokenServer(t, "3600")
	ts.status = http.StatusInternalServerError
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(ts, clock)

	_, err := cache.Token(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthError(err) {
		t.Errorf("expected AuthError, got %T: %v", err, err)
	}

	// A failed exchange leaves nothing cached.
	ts.status = http.StatusOK
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token after recovery: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2", tok)
	}
}

func TestCache_ShortTTLNotCached(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn string
	}{
		{"missing expires_in", ""},
		{"ttl equal to margin", "60"},
		{"ttl below margin", "30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.expiresIn)
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			cache := newTestCache(ts, clock)

			for i := 1; i <= 2; i++ {
				tok, err := cache.Token(context.Background())
				if err != nil {
					t.Fatalf("Token: %v", err)
				}
				if want := fmt.Sprintf("tok-%d", i); tok != want {
					t.Errorf("call %d token = %q, want %q", i, tok, want)
				}
			}
			if got := ts.requests.Load(); got != 2 {
				t.Errorf("exchanges = %d, want 2", got)
			}
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	ts := newTokenServer(t, "3600")
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(ts, clock)

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	cache.Invalidate()
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2", tok)
	}
}

func TestCache_CallerContextCanceled(t *testing.T) {
	ts := newTokenServer(t, "3600")
	ts.delay = 200 * time.Millisecond
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(ts, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cache.Token(ctx)
	if !IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	// The shared exchange keeps running and fills the cache.
	time.Sleep(400 * time.Millisecond)
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q, want tok-1", tok)
	}
	if got := ts.requests.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
}
