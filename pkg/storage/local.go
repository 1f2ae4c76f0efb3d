package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage stores blobs on the local filesystem under a base directory.
// Suitable for single-replica deployments and tests.
type LocalStorage struct {
	baseDir string
	baseURL string
}

// NewLocalStorage creates a disk-backed blob store rooted at baseDir.
// baseURL is prepended to keys when building client-reachable URLs.
func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// safeKey strips path traversal from a key before joining with the base dir.
func safeKey(key string) string {
	key = strings.TrimLeft(key, "/")
	key = strings.ReplaceAll(key, "..", "")
	return filepath.Clean(key)
}

// Put implements BlobStorage.
func (s *LocalStorage) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(s.baseDir, safeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob subdirectory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return s.URLFor(key), nil
}

// Get implements BlobStorage.
func (s *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, safeKey(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete implements BlobStorage.
func (s *LocalStorage) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(filepath.Join(s.baseDir, safeKey(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return true, nil
}

// URLFor implements BlobStorage.
func (s *LocalStorage) URLFor(key string) string {
	return s.baseURL + "/" + safeKey(key)
}
