// Package tokencache holds the bearer credential used for external tool calls.
// The token is fetched with an OAuth2 client-credentials exchange, cached until
// shortly before it expires, and refreshed by at most one exchange at a time.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/observability/metrics"
)

// SafetyMargin is subtracted from the server TTL so a token is never used right at expiry.
const SafetyMargin = 60 * time.Second

// DefaultTimeout bounds a single credential exchange.
const DefaultTimeout = 10 * time.Second

// AuthError is returned when the credential exchange fails or times out.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: credential exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Config describes the client-credentials exchange.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// accessToken is never handed out beyond its value.
type accessToken struct {
	value     string
	expiresAt time.Time
}

// Cache is a process-wide token holder shared by all jobs.
type Cache struct {
	exchange   clientcredentials.Config
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu    sync.RWMutex
	token accessToken
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the client used for the exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(tc *Cache) { tc.httpClient = c }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(tc *Cache) { tc.now = now }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(tc *Cache) { tc.metrics = m }
}

// New creates a token cache. Client id and secret are sent as HTTP basic auth.
func New(cfg Config, opts ...Option) *Cache {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Cache{
		exchange: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: http.DefaultClient,
		timeout:    timeout,
		now:        time.Now,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("tokencache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid bearer token, exchanging credentials if the cached one is stale.
// Concurrent callers during a refresh wait for the same exchange.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if v, ok := c.cached(); ok {
		return v, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// A caller that queued behind a finished refresh must not start another.
		if v, ok := c.cached(); ok {
			return v, nil
		}
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", &AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call performs an exchange.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = accessToken{}
	c.mu.Unlock()
}

func (c *Cache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.value != "" && c.now().Before(c.token.expiresAt) {
		return c.token.value, true
	}
	return "", false
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	// The exchange is shared, so it must outlive the caller that happened to start it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := c.now()
	tok, err := c.exchange.Token(ctx)
	c.metrics.RecordTokenRefresh(err)
	if err != nil {
		c.logger.Error().Err(err).Str("tokenUrl", c.exchange.TokenURL).Msg("Credential exchange failed")
		return "", &AuthError{Err: err}
	}

	ttl := expiresIn(tok, start)
	expiresAt := start.Add(ttl - SafetyMargin)

	c.mu.Lock()
	if ttl > SafetyMargin {
		c.token = accessToken{value: tok.AccessToken, expiresAt: expiresAt}
	} else {
		c.token = accessToken{}
	}
	c.mu.Unlock()

	c.logger.Debug().
		Dur("ttl", ttl).
		Time("expiresAt", expiresAt).
		Msg("Access token refreshed")

	return tok.AccessToken, nil
}

// expiresIn reads the server TTL from the raw "expires_in" field, falling back to Expiry.
func expiresIn(tok *oauth2.Token, start time.Time) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Sub(start)
	}
	return 0
}

// IsAuthError reports whether err came from the credential exchange.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
