package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the primary event log backend: one redis list per job,
// newest first (LPUSH), trimmed to the window and expiring after the TTL.
// The append path is lock-free — LPUSH is atomic on the server.
type RedisStore struct {
	client *redis.Client
	window int
	ttl    time.Duration
	ids    *idGenerator
}

// NewRedisStore creates a redis-backed event store. Zero window/ttl select
// the defaults.
func NewRedisStore(client *redis.Client, window int, ttl time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, window: window, ttl: ttl, ids: &idGenerator{}}
}

func (s *RedisStore) shareIDs(g *idGenerator) { s.ids = g }

func eventKey(jobID string) string {
	return "job:events:" + jobID
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, jobID, eventType string, data map[string]any) (int64, error) {
	evt := Event{
		ID:        s.ids.next(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	key := eventKey(jobID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.window-1))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return evt.ID, nil
}

// Since implements Store.
func (s *RedisStore) Since(ctx context.Context, jobID string, lastID int64) ([]Event, error) {
	raw, err := s.client.LRange(ctx, eventKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	// The list is newest-first; walk it backwards to restore append order.
	var out []Event
	for i := len(raw) - 1; i >= 0; i-- {
		var evt Event
		if err := json.Unmarshal([]byte(raw[i]), &evt); err != nil {
			continue // skip corrupt entries rather than failing the read
		}
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// LatestID implements Store.
func (s *RedisStore) LatestID(ctx context.Context, jobID string) (int64, error) {
	raw, err := s.client.LIndex(ctx, eventKey(jobID), 0).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest event: %w", err)
	}
	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return 0, fmt.Errorf("failed to unmarshal latest event: %w", err)
	}
	return evt.ID, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, eventKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	return nil
}
