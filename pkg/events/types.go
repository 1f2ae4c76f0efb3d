// Package events provides the per-job append-only progress log that backs
// SSE replay.
//
// Events carry strictly increasing IDs within a job. The primary backend is
// a redis list per job with a bounded window and TTL; a process-local ring
// fallback keeps progress flowing when redis is unreachable (best-effort,
// does not survive restart). Append failures are logged and swallowed — a
// dropped progress event must never fail the runner; the SSE protocol is
// at-least-once and clients resync from the database when they observe an
// unexplained gap.
package events

import "time"

// Event type constants, in rough lifecycle order.
const (
	TypeJobStarted     = "job_started"
	TypeStatusUpdate   = "status_update"
	TypeAgentProgress  = "agent_progress"
	TypeContentPreview = "content_preview"
	TypeContent        = "content"
	TypeArtifactReady  = "artifact_ready"

	TypeModerationPassed  = "moderation_passed"
	TypeModerationBlocked = "moderation_blocked"

	TypeTTSStarted   = "tts_started"
	TypeTTSProgress  = "tts_progress"
	TypeTTSCompleted = "tts_completed"
	TypeTTSFailed    = "tts_failed"

	TypeVideoRenderStarted   = "video_render_started"
	TypeSceneStarted         = "scene_started"
	TypeSceneCompleted       = "scene_completed"
	TypeVideoRenderCompleted = "video_render_completed"
	TypeVideoRenderFailed    = "video_render_failed"

	TypeWarning   = "warning"
	TypeCancelled = "cancelled"
	TypeComplete  = "complete"
	TypeError     = "error"
)

// Event is one progress record in a job's log.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Defaults for the per-job window and TTL.
const (
	DefaultWindow = 100
	DefaultTTL    = 24 * time.Hour
)
