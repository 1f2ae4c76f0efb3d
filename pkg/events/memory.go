package events

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local fallback backend: a bounded ring of
// events per job, guarded by a per-job mutex. Best-effort only — it does
// not survive restart and is not shared across replicas.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*jobLog
	window int
	ttl    time.Duration
	ids    *idGenerator
}

type jobLog struct {
	mu      sync.Mutex
	events  []Event
	touched time.Time
}

// NewMemoryStore creates a fallback store with the given per-job window and
// TTL. Zero values select the defaults.
func NewMemoryStore(window int, ttl time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		jobs:   make(map[string]*jobLog),
		window: window,
		ttl:    ttl,
		ids:    &idGenerator{},
	}
}

func (s *MemoryStore) shareIDs(g *idGenerator) { s.ids = g }

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, jobID, eventType string, data map[string]any) (int64, error) {
	log := s.logFor(jobID, true)

	evt := Event{
		ID:        s.ids.next(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	log.mu.Lock()
	log.events = append(log.events, evt)
	if len(log.events) > s.window {
		log.events = log.events[len(log.events)-s.window:]
	}
	log.touched = time.Now()
	log.mu.Unlock()

	s.pruneExpired()
	return evt.ID, nil
}

// Since implements Store.
func (s *MemoryStore) Since(_ context.Context, jobID string, lastID int64) ([]Event, error) {
	log := s.logFor(jobID, false)
	if log == nil {
		return nil, nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	var out []Event
	for _, evt := range log.events {
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// LatestID implements Store.
func (s *MemoryStore) LatestID(_ context.Context, jobID string) (int64, error) {
	log := s.logFor(jobID, false)
	if log == nil {
		return 0, nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.events) == 0 {
		return 0, nil
	}
	return log.events[len(log.events)-1].ID, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) logFor(jobID string, create bool) *jobLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.jobs[jobID]
	if !ok && create {
		log = &jobLog{touched: time.Now()}
		s.jobs[jobID] = log
	}
	return log
}

// pruneExpired drops job logs untouched for longer than the TTL.
func (s *MemoryStore) pruneExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, log := range s.jobs {
		log.mu.Lock()
		stale := log.touched.Before(cutoff)
		log.mu.Unlock()
		if stale {
			delete(s.jobs, id)
		}
	}
}
