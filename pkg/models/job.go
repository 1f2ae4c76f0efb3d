// Package models defines the persistent entities and shared request/filter
// types of the content-generation service.
package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a content job.
type JobStatus string

// Job lifecycle states. pending → running → {completed, failed, cancelled}.
// Terminal states are sinks.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a sink state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ContentKind identifies a billable content format.
type ContentKind string

// Content kinds. The first four are generation formats a job can request;
// voiceover and video_render are metered separately by their sub-runners.
const (
	KindBlog        ContentKind = "blog"
	KindSocial      ContentKind = "social"
	KindAudio       ContentKind = "audio"
	KindVideo       ContentKind = "video"
	KindVoiceover   ContentKind = "voiceover"
	KindVideoRender ContentKind = "video_render"
)

// GenerationKinds are the formats acceptable in a generate request.
var GenerationKinds = []ContentKind{KindBlog, KindSocial, KindAudio, KindVideo}

// Valid reports whether k is a format a job may request.
func (k ContentKind) Valid() bool {
	for _, g := range GenerationKinds {
		if k == g {
			return true
		}
	}
	return false
}

// KindList is a set of content kinds stored as a JSON array column.
type KindList []ContentKind

// Value implements driver.Valuer.
func (l KindList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *KindList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	}
	return fmt.Errorf("cannot scan %T into KindList", src)
}

// Contains reports whether the list includes kind.
func (l KindList) Contains(kind ContentKind) bool {
	for _, k := range l {
		if k == kind {
			return true
		}
	}
	return false
}

// Sorted returns a sorted copy, used for deterministic hashing.
func (l KindList) Sorted() KindList {
	out := make(KindList, len(l))
	copy(out, l)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Job is one end-to-end generation request.
type Job struct {
	ID             string     `db:"id" json:"id"`
	OrgID          string     `db:"org_id" json:"org_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Topic          string     `db:"topic" json:"topic"`
	Formats        KindList   `db:"formats_requested" json:"formats_requested"`
	Status         JobStatus  `db:"status" json:"status"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// DeriveIdempotencyKey computes the default idempotency key for a request:
// sha256(user_id || normalized topic || sorted formats).
func DeriveIdempotencyKey(userID, topic string, formats KindList) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte("|"))
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(topic), " "))))
	h.Write([]byte("|"))
	for _, k := range formats.Sorted() {
		h.Write([]byte(k))
		h.Write([]byte(","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// JobFilters narrows ListJobs results. Listing is always viewer-scoped.
type JobFilters struct {
	Status string
	Limit  int
	Offset int
}

// JobList is a paginated job listing.
type JobList struct {
	Jobs       []*Job `json:"jobs"`
	TotalCount int    `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}
