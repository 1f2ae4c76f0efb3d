package events

import (
	"context"
	"log/slog"
)

// FallbackStore degrades from the primary (redis) backend to the in-process
// fallback when the primary errors. Once a job has fallen back, its reads
// merge both backends so events written before the outage are not lost to
// the reader.
type FallbackStore struct {
	primary  Store
	fallback Store
}

// NewFallbackStore wraps a primary store with a best-effort fallback. Both
// backends are rewired onto one ID sequence: appends landing in different
// backends within the same millisecond must still get distinct, increasing
// IDs, or the merged read would drop one of them.
func NewFallbackStore(primary, fallback Store) *FallbackStore {
	ids := &idGenerator{}
	if p, ok := primary.(sharesIDs); ok {
		p.shareIDs(ids)
	}
	if f, ok := fallback.(sharesIDs); ok {
		f.shareIDs(ids)
	}
	return &FallbackStore{primary: primary, fallback: fallback}
}

// Append implements Store. A primary failure routes the event to the
// fallback; a failure there too is logged and reported to the caller, who
// is expected to swallow it (progress events are best-effort).
func (s *FallbackStore) Append(ctx context.Context, jobID, eventType string, data map[string]any) (int64, error) {
	id, err := s.primary.Append(ctx, jobID, eventType, data)
	if err == nil {
		return id, nil
	}
	slog.Warn("Primary event store append failed, using fallback",
		"job_id", jobID, "event_type", eventType, "error", err)
	return s.fallback.Append(ctx, jobID, eventType, data)
}

// Since implements Store, merging both backends in ID order.
func (s *FallbackStore) Since(ctx context.Context, jobID string, lastID int64) ([]Event, error) {
	primaryEvents, perr := s.primary.Since(ctx, jobID, lastID)
	fallbackEvents, ferr := s.fallback.Since(ctx, jobID, lastID)
	if perr != nil && ferr != nil {
		return nil, perr
	}
	if perr != nil {
		slog.Warn("Primary event store read failed, serving fallback only",
			"job_id", jobID, "error", perr)
		return fallbackEvents, nil
	}
	if len(fallbackEvents) == 0 {
		return primaryEvents, nil
	}
	return mergeByID(primaryEvents, fallbackEvents), nil
}

// LatestID implements Store.
func (s *FallbackStore) LatestID(ctx context.Context, jobID string) (int64, error) {
	pid, perr := s.primary.LatestID(ctx, jobID)
	fid, ferr := s.fallback.LatestID(ctx, jobID)
	if perr != nil && ferr != nil {
		return 0, perr
	}
	if fid > pid {
		return fid, nil
	}
	return pid, nil
}

// Clear implements Store.
func (s *FallbackStore) Clear(ctx context.Context, jobID string) error {
	perr := s.primary.Clear(ctx, jobID)
	_ = s.fallback.Clear(ctx, jobID)
	return perr
}

// mergeByID merges two ID-ordered event slices, dropping duplicates.
func mergeByID(a, b []Event) []Event {
	out := make([]Event, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].ID < b[j].ID:
			out = append(out, a[i])
			i++
		case a[i].ID > b[j].ID:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
