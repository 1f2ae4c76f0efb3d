package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/services"
)

const (
	keepAliveInterval = 5 * time.Second
	maxTransientPolls = 10
)

// streamState is the per-connection bookkeeping of the SSE loop.
type streamState struct {
	lastSent       int64
	lastStatus     models.JobStatus
	knownArtifacts map[string]bool
	chunks         map[string][]string
	completeSent   bool
	errorSent      bool
	cancelledSent  bool
	lastWrite      time.Time
}

// StreamJob serves the SSE progress stream for one job. It joins the event
// store (runner-emitted progress) with DB polling (authoritative state),
// deduplicating by event id, and honors Last-Event-ID replay.
func (s *Server) StreamJob(c *gin.Context) {
	user := currentUser(c)
	jobID := c.Param("id")

	job, err := s.resolveJobWithRetry(c, jobID, user.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	lastID := parseLastEventID(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	st := &streamState{
		lastSent:       lastID,
		lastStatus:     job.Status,
		knownArtifacts: make(map[string]bool),
		chunks:         make(map[string][]string),
		lastWrite:      time.Now(),
	}

	log := slog.With("job_id", jobID, "request_id", requestID(c))

	// A fresh connection gets a synthetic job_started before anything else.
	// Synthetic frames carry id 0 and are excluded from replay bookkeeping.
	if lastID == 0 {
		s.writeFrame(c, st, events.Event{Type: events.TypeJobStarted, Data: map[string]any{
			"job_id": job.ID, "topic": job.Topic, "status": job.Status,
		}})
	}

	// Drain events produced between job creation and this connection; the
	// usual race for voiceover runs.
	s.drainStore(c, st, jobID)

	isMedia := job.Formats.Contains(models.KindVoiceover) || job.Formats.Contains(models.KindVideoRender)
	isBlogOnly := len(job.Formats) == 1 && job.Formats[0] == models.KindBlog
	startedAt := job.CreatedAt

	faults := 0
	for {
		elapsed := time.Since(startedAt)
		interval := pollInterval(st.lastStatus, elapsed, isMedia, isBlogOnly)

		select {
		case <-c.Request.Context().Done():
			log.Info("SSE client disconnected")
			return
		case <-time.After(interval):
		}

		s.drainStore(c, st, jobID)

		job, artifacts, err := s.deps.Jobs.GetJobWithArtifacts(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				log.Warn("Job vanished mid-stream")
				return
			}
			faults++
			if faults >= maxTransientPolls {
				s.writeFrame(c, st, events.Event{Type: events.TypeError, Data: map[string]any{
					"job_id": jobID, "message": "the service is temporarily unavailable", "error_type": "service_unavailable",
				}})
				return
			}
			continue
		}
		faults = 0
		if job.StartedAt != nil {
			startedAt = *job.StartedAt
		}

		if job.Status != st.lastStatus {
			// A completed transition whose full-content complete event was
			// already forwarded needs no bare status update on top.
			if !(job.Status == models.JobStatusCompleted && st.completeSent) {
				s.writeFrame(c, st, events.Event{Type: events.TypeStatusUpdate, Data: map[string]any{
					"job_id": job.ID, "status": job.Status,
				}})
			}
			st.lastStatus = job.Status
		}

		s.emitNewArtifacts(c, st, artifacts)
		s.drainStore(c, st, jobID)

		if job.Status.Terminal() {
			s.finishStream(c, st, job, artifacts)
			return
		}

		if time.Since(st.lastWrite) >= keepAliveInterval {
			_, _ = c.Writer.WriteString(": keep-alive\n\n")
			c.Writer.Flush()
			st.lastWrite = time.Now()
		}
	}
}

// resolveJobWithRetry loads the job, distinguishing the permanent
// not-found from transient faults. Ten consecutive transient faults
// surface as 503.
func (s *Server) resolveJobWithRetry(c *gin.Context, jobID, userID string) (*models.Job, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransientPolls; attempt++ {
		job, err := s.deps.Jobs.GetJob(c.Request.Context(), jobID, userID)
		if err == nil {
			return job, nil
		}
		if errors.Is(err, services.ErrNotFound) || !database.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		select {
		case <-c.Request.Context().Done():
			return nil, c.Request.Context().Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, newAPIError(http.StatusServiceUnavailable, CodeUnavailable,
		"the service is temporarily unavailable: "+lastErr.Error())
}

// drainStore forwards store events with id > lastSent, tracking chunks and
// terminal markers for the fallback payload assembly.
func (s *Server) drainStore(c *gin.Context, st *streamState, jobID string) {
	evs, err := s.deps.Events.Since(c.Request.Context(), jobID, st.lastSent)
	if err != nil {
		slog.Warn("Failed to drain event store", "job_id", jobID, "error", err)
		return
	}
	for _, ev := range evs {
		s.writeFrame(c, st, ev)
	}
}

// emitNewArtifacts synthesizes artifact_ready plus a full-text content
// event for DB artifacts not yet announced on this connection.
func (s *Server) emitNewArtifacts(c *gin.Context, st *streamState, artifacts []*models.Artifact) {
	for _, a := range artifacts {
		if st.knownArtifacts[a.ID] {
			continue
		}
		st.knownArtifacts[a.ID] = true

		ready := map[string]any{
			"job_id": a.JobID, "artifact_id": a.ID, "content_type": a.Type,
		}
		if key := a.StorageKey(); key != "" {
			ready["url"] = s.deps.Storage.URLFor(key)
		}
		s.writeFrame(c, st, events.Event{Type: events.TypeArtifactReady, Data: ready})

		if a.Text() != "" {
			s.writeFrame(c, st, events.Event{Type: events.TypeContent, Data: map[string]any{
				"job_id": a.JobID, "content_type": a.Type, "content": a.Text(),
				"progress": 100, "partial": false, "saved": true,
			}})
		}
	}
}

// finishStream emits the terminal payload. Priority for complete content:
// a store complete event already forwarded, then DB artifacts, then
// chunks reassembled from the store.
func (s *Server) finishStream(c *gin.Context, st *streamState, job *models.Job, artifacts []*models.Artifact) {
	switch job.Status {
	case models.JobStatusCompleted:
		if st.completeSent {
			return
		}
		content := map[string]any{}
		for _, a := range artifacts {
			if a.Text() != "" {
				content[string(a.Type)] = a.Text()
			} else if key := a.StorageKey(); key != "" {
				content[string(a.Type)] = s.deps.Storage.URLFor(key)
			}
		}
		if len(content) == 0 {
			for kind, chunks := range st.chunks {
				joined := ""
				for _, ch := range chunks {
					joined += ch
				}
				content[kind] = joined
			}
		}
		s.writeFrame(c, st, events.Event{Type: events.TypeComplete, Data: map[string]any{
			"job_id": job.ID, "status": job.Status, "content": content,
		}})

	case models.JobStatusFailed:
		if st.errorSent {
			return
		}
		message := "generation failed"
		if job.ErrorMessage != nil {
			message = *job.ErrorMessage
		}
		s.writeFrame(c, st, events.Event{Type: events.TypeError, Data: map[string]any{
			"job_id": job.ID, "message": message, "error_type": "generation_failed",
		}})

	case models.JobStatusCancelled:
		if st.cancelledSent {
			return
		}
		s.writeFrame(c, st, events.Event{Type: events.TypeCancelled, Data: map[string]any{
			"job_id": job.ID, "cancelled_at": time.Now().UTC().Format(time.RFC3339),
		}})
	}
}

// writeFrame emits one SSE frame and flushes. Store-backed events advance
// the replay cursor; synthesized frames (id 0) do not.
func (s *Server) writeFrame(c *gin.Context, st *streamState, ev events.Event) {
	frame := sse.Event{Event: ev.Type, Data: ev.Data}
	if ev.ID > 0 {
		frame.Id = strconv.FormatInt(ev.ID, 10)
		if ev.ID > st.lastSent {
			st.lastSent = ev.ID
		}
	}
	if err := sse.Encode(c.Writer, frame); err != nil {
		return
	}
	c.Writer.Flush()
	st.lastWrite = time.Now()

	switch ev.Type {
	case events.TypeContent:
		kind := stringValue(ev.Data["content_type"])
		if chunk, ok := ev.Data["chunk"].(string); ok && kind != "" {
			st.chunks[kind] = append(st.chunks[kind], chunk)
		}
	case events.TypeComplete:
		if content, ok := ev.Data["content"]; ok && content != nil {
			st.completeSent = true
		}
		if _, ok := ev.Data["audio_url"]; ok {
			st.completeSent = true
		}
		if _, ok := ev.Data["video_url"]; ok {
			st.completeSent = true
		}
	case events.TypeError:
		st.errorSent = true
	case events.TypeCancelled:
		st.cancelledSent = true
	}
}

// stringValue tolerates typed string kinds surviving the in-memory store
// (redis-backed events round-trip through JSON and arrive as plain strings).
func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case models.ContentKind:
		return string(s)
	case models.ArtifactType:
		return string(s)
	}
	return ""
}

// parseLastEventID reads Last-Event-ID from the header or query; malformed
// values read as absent.
func parseLastEventID(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// pollInterval derives the adaptive DB polling cadence from the job shape
// and elapsed runtime.
func pollInterval(status models.JobStatus, elapsed time.Duration, isMedia, isBlogOnly bool) time.Duration {
	switch {
	case status.Terminal():
		return 500 * time.Millisecond
	case isMedia:
		return 200 * time.Millisecond
	case status == models.JobStatusPending:
		return time.Second
	case isBlogOnly && elapsed > 60*time.Second:
		return 200 * time.Millisecond
	case elapsed < 30*time.Second:
		return 300 * time.Millisecond
	case elapsed < 120*time.Second:
		return 500 * time.Millisecond
	default:
		return time.Second
	}
}
