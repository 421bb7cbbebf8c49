// Package storage reads transcript payloads and persists call job snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned when no object exists at a key.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Key prefixes for objects the service writes itself.
const (
	ProcessedPrefix  = "processed/"
	TranscriptPrefix = "transcripts/"
)

// ProcessedKey is where the final snapshot of a job is stored.
func ProcessedKey(jobID string) string {
	return ProcessedPrefix + jobID + ".json"
}

// TranscriptKey is where transcript payloads are written by providers that let us choose.
func TranscriptKey(jobID string) string {
	return TranscriptPrefix + jobID + ".json"
}

// ParseLocator splits a "{scheme}://{bucket}/{key}" URI.
func ParseLocator(locator string) (scheme, bucket, key string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", "", fmt.Errorf("parse locator %q: %w", locator, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "" || u.Host == "" || key == "" {
		return "", "", "", fmt.Errorf("locator %q must look like scheme://bucket/key", locator)
	}
	return u.Scheme, u.Host, key, nil
}

// validKey rejects keys that could escape a store's root.
func validKey(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key %q must be relative", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("key %q must not contain '..'", key)
		}
	}
	return nil
}
