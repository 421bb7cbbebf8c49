package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a single Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a client for bucket.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Get reads the object at key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("gcs: %w", err)
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("gcs: read %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs: read %s: %w", key, err)
	}
	return data, nil
}

// Put writes data at key, replacing any existing object.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return fmt.Errorf("gcs: %w", err)
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", key, err)
	}
	// The object is only committed on Close.
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: commit %s: %w", key, err)
	}
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
