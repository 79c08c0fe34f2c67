package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient stores objects as plain files under a base directory. It is
// the default backend: uploads land next to the process and the returned
// keys double as relative URLs.
type LocalClient struct {
	baseDir string
}

// NewLocalClient constructs a local-disk backend rooted at baseDir.
func NewLocalClient(baseDir string) (*LocalClient, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("upload directory is required")
	}
	return &LocalClient{baseDir: baseDir}, nil
}

// EnsureBucket creates the base directory if it does not exist.
func (l *LocalClient) EnsureBucket(ctx context.Context) error {
	return os.MkdirAll(l.baseDir, 0o755)
}

// Put writes an object to disk, creating parent directories as needed.
// Keys are sanitized against path traversal.
func (l *LocalClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// Get opens a previously stored object.
func (l *LocalClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes an object from disk.
func (l *LocalClient) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Bucket returns the base directory.
func (l *LocalClient) Bucket() string {
	return l.baseDir
}

func (l *LocalClient) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.baseDir, cleaned), nil
}
