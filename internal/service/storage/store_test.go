package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ai-call-triage-service/internal/models"
)

func TestKeys(t *testing.T) {
	if got := ProcessedKey("call-1"); got != "processed/call-1.json" {
		t.Errorf("ProcessedKey = %s", got)
	}
	if got := TranscriptKey("call-1"); got != "transcripts/call-1.json" {
		t.Errorf("TranscriptKey = %s", got)
	}
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		locator    string
		wantScheme string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"gs://audio/2024/call-1.wav", "gs", "audio", "2024/call-1.wav", false},
		{"s3://voice-input/call.mp3", "s3", "voice-input", "call.mp3", false},
		{"gs://bucket-only", "", "", "", true},
		{"/local/path.wav", "", "", "", true},
		{"", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			scheme, bucket, key, err := ParseLocator(tt.locator)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if scheme != tt.wantScheme || bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("ParseLocator(%q) = (%q, %q, %q)", tt.locator, scheme, bucket, key)
			}
		})
	}
}

func TestFSStore_SnapshotRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	processed := time.Date(2024, 5, 1, 10, 3, 0, 0, time.UTC)
	job := &models.CallJob{
		JobID:       "call-7",
		Transcript:  "the service is down, this is urgent",
		Sentiment:   models.SentimentNegative,
		Intensity:   9,
		Severity:    models.SeverityHigh,
		Summary:     "Outage report",
		Status:      models.StatusPersisted,
		CreatedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		ProcessedAt: &processed,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, ProcessedKey(job.JobID), payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, ProcessedKey(job.JobID))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip differs:\n got %s\nwant %s", got, payload)
	}
}

func TestFSStore_Overwrite(t *testing.T) {
	store, _ := NewFSStore(t.TempDir())
	ctx := context.Background()

	_ = store.Put(ctx, "a/b.json", []byte("first"))
	if err := store.Put(ctx, "a/b.json", []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _ := store.Get(ctx, "a/b.json")
	if string(got) != "second" {
		t.Errorf("got %q, want second", got)
	}
}

func TestFSStore_NotFound(t *testing.T) {
	store, _ := NewFSStore(t.TempDir())

	_, err := store.Get(context.Background(), "processed/missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	store, _ := NewFSStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside.json", "a/../../b"} {
		if err := store.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) expected error", key)
		}
		if _, err := store.Get(ctx, key); err == nil {
			t.Errorf("Get(%q) expected error", key)
		}
	}
}
