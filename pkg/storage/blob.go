// Package storage provides key-addressed blob storage for media artifacts.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlobStorage is the narrow contract the core needs from a blob backend.
// Keys are namespaced per artifact type.
type BlobStorage interface {
	// Put stores bytes under key and returns a client-reachable URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns the stored bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes a blob; it reports whether the blob existed.
	Delete(ctx context.Context, key string) (bool, error)
	// URLFor returns the client-reachable URL for a key without touching
	// the backend.
	URLFor(key string) string
}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = fmt.Errorf("blob not found")

// GenerateKey builds a namespaced, collision-free storage key.
func GenerateKey(namespace, suffix string) string {
	ts := time.Now().UTC().Format("20060102")
	return fmt.Sprintf("%s/%s/%s%s", strings.Trim(namespace, "/"), ts, uuid.New().String(), suffix)
}
