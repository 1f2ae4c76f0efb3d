// Package cache provides the content-generation result cache.
//
// A full hit lets the runner skip agent execution entirely; a partial hit
// covers some requested formats and generation proceeds for the remainder.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contentforge/contentforge/pkg/models"
)

// ContentCache stores generated text per (topic, formats, versions, model).
type ContentCache interface {
	// Get returns cached text per format. Missing keys return an empty map.
	Get(ctx context.Context, key string) (map[models.ContentKind]string, error)
	// Put merges formats into the cached entry and refreshes its TTL.
	Put(ctx context.Context, key string, formats map[models.ContentKind]string) error
}

// Key derives the cache key from everything that changes generated output.
func Key(topic string, formats models.KindList, promptVersion, model, moderationVersion string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(topic), " "))))
	h.Write([]byte("|"))
	for _, k := range formats.Sorted() {
		h.Write([]byte(k))
		h.Write([]byte(","))
	}
	fmt.Fprintf(h, "|%s|%s|%s", promptVersion, model, moderationVersion)
	return "content:cache:" + hex.EncodeToString(h.Sum(nil))
}

// RedisContentCache is the production cache backend: one hash per key.
type RedisContentCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisContentCache creates a redis-backed content cache.
func NewRedisContentCache(client *redis.Client, ttl time.Duration) *RedisContentCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisContentCache{client: client, ttl: ttl}
}

// Get implements ContentCache.
func (c *RedisContentCache) Get(ctx context.Context, key string) (map[models.ContentKind]string, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return map[models.ContentKind]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content cache: %w", err)
	}
	var out map[models.ContentKind]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode content cache entry: %w", err)
	}
	return out, nil
}

// Put implements ContentCache.
func (c *RedisContentCache) Put(ctx context.Context, key string, formats map[models.ContentKind]string) error {
	existing, err := c.Get(ctx, key)
	if err != nil {
		existing = map[models.ContentKind]string{}
	}
	for k, v := range formats {
		existing[k] = v
	}
	payload, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode content cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write content cache: %w", err)
	}
	return nil
}

// NoopContentCache disables caching; every lookup misses.
type NoopContentCache struct{}

// Get implements ContentCache.
func (NoopContentCache) Get(context.Context, string) (map[models.ContentKind]string, error) {
	return map[models.ContentKind]string{}, nil
}

// Put implements ContentCache.
func (NoopContentCache) Put(context.Context, string, map[models.ContentKind]string) error {
	return nil
}
