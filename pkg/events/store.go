package events

import (
	"context"
	"sync"
	"time"
)

// Store is the per-job append log contract.
type Store interface {
	// Append records an event and returns its ID. IDs are strictly
	// increasing per job.
	Append(ctx context.Context, jobID, eventType string, data map[string]any) (int64, error)
	// Since returns events with ID > lastID in append order. lastID 0
	// returns the full window.
	Since(ctx context.Context, jobID string, lastID int64) ([]Event, error)
	// LatestID returns the highest event ID for a job, or 0 when the log
	// is empty.
	LatestID(ctx context.Context, jobID string) (int64, error)
	// Clear drops a job's log.
	Clear(ctx context.Context, jobID string) error
}

// idGenerator produces strictly increasing event IDs. IDs are millisecond
// timestamps; same-millisecond appends break ties with a +1 step so readers
// can still order them.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

// sharesIDs is implemented by backends whose ID sequence can be replaced,
// so a composite store can issue IDs from a single sequence and keep the
// strictly-increasing-per-job guarantee across backends.
type sharesIDs interface {
	shareIDs(*idGenerator)
}

func (g *idGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := time.Now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
