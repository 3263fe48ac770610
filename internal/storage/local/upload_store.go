// Package local implements upload intake on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// FilePrefix marks files created by the upload store so the janitor never touches anything else.
const FilePrefix = "upload-"

// Config captures the parameters for the local upload store.
type Config struct {
	// Dir is the directory uploads are spooled into.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// UploadStore spools uploaded files into a directory until a worker has consumed them.
type UploadStore struct {
	dir string
}

// NewUploadStore creates the directory if needed and verifies it is writable.
func NewUploadStore(cfg Config) (*UploadStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("upload directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create upload directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat upload directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("upload directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.Dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("upload directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &UploadStore{dir: filepath.Clean(cfg.Dir)}, nil
}

// Dir returns the spool directory.
func (s *UploadStore) Dir() string {
	return s.dir
}

// Save copies r into a fresh temp file and returns its handle (the base file name).
func (s *UploadStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if strings.ContainsAny(ext, `/\*`) {
		ext = ""
	}
	f, err := os.CreateTemp(s.dir, FilePrefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return filepath.Base(f.Name()), nil
}

// Open returns the uploaded content or catalog.ErrNotFound.
func (s *UploadStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	path, err := s.resolve(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) // #nosec G304 -- path is confined to the upload directory by resolve.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("upload %s: %w", handle, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return f, nil
}

// Remove deletes the upload. Removing a missing upload is not an error.
func (s *UploadStore) Remove(_ context.Context, handle string) error {
	path, err := s.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func (s *UploadStore) resolve(handle string) (string, error) {
	if strings.TrimSpace(handle) == "" {
		return "", fmt.Errorf("%w: upload handle is required", catalog.ErrInvalidInput)
	}
	full := filepath.Clean(filepath.Join(s.dir, handle))
	if filepath.Dir(full) != s.dir || !strings.HasPrefix(filepath.Base(full), FilePrefix) {
		return "", fmt.Errorf("%w: path traversal detected", catalog.ErrInvalidInput)
	}
	return full, nil
}
