// Package gcs provides an upload store backed by Google Cloud Storage so several API replicas
// and workers can share intake.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// DefaultPrefix is the object prefix used when none is configured.
const DefaultPrefix = "uploads"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// IDGenerator names uploaded objects.
type IDGenerator interface {
	NewID() (string, error)
}

// UploadStore writes uploads to a configured GCS bucket.
type UploadStore struct {
	client *storage.Client
	bucket string
	prefix string
	ids    IDGenerator
}

// NewUploadStore creates a GCS-backed upload store.
func NewUploadStore(client *storage.Client, cfg Config, ids IDGenerator) (*UploadStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &UploadStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		ids:    ids,
	}, nil
}

// Save uploads r as <prefix>/<id>.csv and returns the object name as the handle.
func (s *UploadStore) Save(ctx context.Context, _ string, r io.Reader) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("name upload object: %w", err)
	}
	name := path.Join(s.prefix, id+".csv")
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "text/csv"
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return name, nil
}

// Open streams the uploaded object or returns catalog.ErrNotFound.
func (s *UploadStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := s.check(handle); err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(s.bucket).Object(handle).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("upload %s: %w", handle, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return rc, nil
}

// Remove deletes the uploaded object. A missing object is not an error.
func (s *UploadStore) Remove(ctx context.Context, handle string) error {
	if err := s.check(handle); err != nil {
		return err
	}
	err := s.client.Bucket(s.bucket).Object(handle).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *UploadStore) check(handle string) error {
	if path.Dir(handle) != s.prefix || path.Clean(handle) != handle {
		return fmt.Errorf("%w: handle %q is outside the upload prefix", catalog.ErrInvalidInput, handle)
	}
	return nil
}
