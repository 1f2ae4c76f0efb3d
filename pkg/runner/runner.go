package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/contentforge/contentforge/pkg/cache"
	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

// Deps wires the runner's collaborators. Constructed once at startup and
// shared by all spawned tasks.
type Deps struct {
	Jobs      *services.JobService
	Plans     *services.PlanService
	Usage     *services.UsageService
	Accounts  *services.AccountService
	Events    events.Store
	Cache     cache.ContentCache
	LLM       providers.LLMRuntime
	TTS       providers.TTSProvider
	Video     providers.VideoRenderer
	Moderator providers.Moderator
	Storage   storage.BlobStorage
	Registry  *Registry
	Config    config.RunnerConfig
}

// Runner orchestrates one content job end-to-end: cache lookup, agent
// execution, per-format extraction, artifact persistence and event
// emission. Each job runs on its own goroutine; the registry holds its
// cancel handle for the job's lifetime.
//
// No database work ever spans a call to the LLM runtime, TTS or blob
// storage: every persistence step acquires a pooled connection, commits
// and releases before external I/O resumes.
type Runner struct {
	deps Deps
}

// New creates a Runner.
func New(deps Deps) *Runner {
	return &Runner{deps: deps}
}

// Spawn starts the job on a background goroutine and registers its cancel
// handle. Returns immediately; the HTTP request that created the job has
// already been answered with 201.
func (r *Runner) Spawn(job *models.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	r.deps.Registry.Register(job.ID, cancel)
	go func() {
		defer cancel()
		defer r.deps.Registry.Unregister(job.ID)
		r.run(ctx, job)
	}()
}

func (r *Runner) run(ctx context.Context, job *models.Job) {
	log := slog.With("job_id", job.ID, "topic", job.Topic)

	if err := r.deps.Jobs.MarkRunning(ctx, job.ID); err != nil {
		log.Error("Failed to mark job running", "error", err)
		r.fail(ctx, job, "internal", "Could not start generation.", "job start transition failed: "+err.Error(), 0)
		return
	}

	user, err := r.deps.Accounts.GetUser(ctx, job.UserID)
	if err != nil {
		r.fail(ctx, job, "internal", "Could not resolve the requesting account.", "user lookup failed", 0)
		return
	}
	plan, err := r.deps.Plans.PlanOf(ctx, user, job.OrgID)
	if err != nil {
		r.fail(ctx, job, "internal", "Could not resolve the subscription tier.", "plan lookup failed", 0)
		return
	}
	model := plan.ModelName
	if len(job.Formats) > 0 {
		if m, err := r.deps.Plans.ModelFor(ctx, user, plan, job.Formats[0]); err == nil {
			model = m
		}
	}

	r.emit(ctx, job.ID, events.TypeJobStarted, map[string]any{
		"job_id": job.ID, "topic": job.Topic, "formats": job.Formats,
	})
	r.emit(ctx, job.ID, events.TypeStatusUpdate, map[string]any{
		"job_id": job.ID, "status": models.JobStatusRunning,
		"message": "Generating " + formatList(job.Formats) + " content...",
	})

	if r.cancelled(ctx, job) {
		return
	}

	// Cache lookup. A full hit skips agent execution entirely; a partial
	// hit narrows the formats handed to the agent.
	cacheKey := cache.Key(job.Topic, job.Formats, r.deps.Config.PromptVersion, model, r.deps.Config.ModerationVersion)
	cached, err := r.deps.Cache.Get(ctx, cacheKey)
	if err != nil {
		log.Warn("Content cache lookup failed", "error", err)
		cached = map[models.ContentKind]string{}
	}

	saved := make(map[models.ContentKind]string)
	var remaining models.KindList
	for _, kind := range job.Formats {
		text, hit := cached[kind]
		if !hit || text == "" {
			remaining = append(remaining, kind)
			continue
		}
		if err := r.persistFormat(ctx, job, kind, text, model, true); err != nil {
			log.Warn("Failed to persist cached format, regenerating", "format", kind, "error", err)
			remaining = append(remaining, kind)
			continue
		}
		saved[kind] = text
	}

	var result *providers.AgentResult
	if len(remaining) > 0 {
		if !r.deps.LLM.Configured() {
			r.fail(ctx, job, "configuration_error",
				"Content generation is not configured on this server.",
				"set the LLM provider credentials in the environment", 0)
			return
		}

		result, err = r.executeAgent(ctx, job, remaining, plan, model)
		if err != nil {
			if r.cancelled(ctx, job) {
				return
			}
			errType, message, hint, retryAfter := classifyAgentError(err, job.Formats)
			log.Error("Agent execution failed", "error_type", errType, "error", err)
			r.fail(ctx, job, errType, message, hint, retryAfter)
			return
		}
	}

	if r.cancelled(ctx, job) {
		return
	}

	// Blog first: its text seeds everything else. Remaining formats extract
	// in parallel on independent sessions.
	var ordered models.KindList
	if remaining.Contains(models.KindBlog) {
		ordered = append(ordered, models.KindBlog)
	}
	for _, kind := range remaining {
		if kind != models.KindBlog {
			ordered = append(ordered, kind)
		}
	}

	for i, kind := range ordered {
		if kind == models.KindBlog {
			text, err := r.processFormat(ctx, job, result, kind, model)
			if err != nil {
				r.emitFormatError(ctx, job, kind, err)
			} else {
				saved[kind] = text
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		results := make([]string, len(ordered[i:]))
		kinds := ordered[i:]
		for j, k := range kinds {
			j, k := j, k
			g.Go(func() error {
				text, err := r.processFormat(gctx, job, result, k, model)
				if err != nil {
					r.emitFormatError(gctx, job, k, err)
					return nil
				}
				results[j] = text
				return nil
			})
		}
		_ = g.Wait()
		for j, k := range kinds {
			if results[j] != "" {
				saved[k] = results[j]
			}
		}
		break
	}

	if r.cancelled(ctx, job) {
		return
	}

	if len(saved) == 0 {
		r.fail(ctx, job, "no_result", "Generation produced no usable content.",
			"inspect agent output for this topic and prompt version", 0)
		return
	}

	if len(saved) > 0 {
		fresh := make(map[models.ContentKind]string, len(saved))
		for k, v := range saved {
			if _, wasCached := cached[k]; !wasCached {
				fresh[k] = v
			}
		}
		if len(fresh) > 0 {
			if err := r.deps.Cache.Put(ctx, cacheKey, fresh); err != nil {
				log.Warn("Failed to populate content cache", "error", err)
			}
		}
	}

	r.complete(ctx, job, saved)
}

// executeAgent runs the LLM pipeline on its own goroutine under the
// configured timeout, emitting agent_progress on a fixed cadence while it
// runs. The worker goroutine may outlive a cancellation; its output is
// discarded.
func (r *Runner) executeAgent(ctx context.Context, job *models.Job, formats models.KindList, plan *config.Plan, model string) (*providers.AgentResult, error) {
	agentCtx, cancel := context.WithTimeout(ctx, r.deps.Config.AgentTimeout)
	defer cancel()

	type outcome struct {
		result *providers.AgentResult
		err    error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	go func() {
		res, err := r.deps.LLM.Run(agentCtx, providers.AgentRequest{
			Topic:   job.Topic,
			Formats: formats,
			Tier:    plan.Name,
			Model:   model,
		})
		done <- outcome{result: res, err: err}
	}()

	interval := r.deps.Config.ProgressInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			if out.result == nil {
				return nil, &extractError{Code: "no_result", Message: "agent returned no result"}
			}
			return out.result, nil
		case <-ticker.C:
			percent, phase, etaSec := progressEstimate(time.Since(started), r.deps.Config.AgentTimeout)
			r.emit(ctx, job.ID, events.TypeAgentProgress, map[string]any{
				"job_id":      job.ID,
				"progress":    percent,
				"phase":       phase,
				"eta_seconds": etaSec,
				"message":     fmt.Sprintf("Agents %s (%d%%)", phase, percent),
			})
		case <-agentCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, context.DeadlineExceeded
		}
	}
}

// processFormat extracts, previews, validates, streams and persists one
// format. Returns the validated text on success.
func (r *Runner) processFormat(ctx context.Context, job *models.Job, result *providers.AgentResult, kind models.ContentKind, model string) (string, error) {
	if result == nil {
		return "", &extractError{Code: "no_result", Message: "no agent result to extract from"}
	}
	text, err := extractFormat(result, kind)
	if err != nil {
		return "", err
	}

	// Preview goes out before validation so the client sees something
	// promptly even when validation is slow.
	r.emit(ctx, job.ID, events.TypeContentPreview, map[string]any{
		"job_id": job.ID, "content_type": kind, "preview": previewOf(text),
	})

	chunks := chunkText(text)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		progress := (i + 1) * 95 / len(chunks)
		r.emit(ctx, job.ID, events.TypeContent, map[string]any{
			"job_id":       job.ID,
			"content_type": kind,
			"chunk":        chunk,
			"chunk_num":    i + 1,
			"total_chunks": len(chunks),
			"progress":     progress,
			"partial":      true,
			"pending_save": true,
		})
	}

	if err := r.persistFormat(ctx, job, kind, text, model, false); err != nil {
		return "", err
	}
	return text, nil
}

// persistFormat upserts the artifact on a fresh session, then emits
// artifact_ready and the terminal content event. fromCache skips the
// streaming preamble for cache hits.
func (r *Runner) persistFormat(ctx context.Context, job *models.Job, kind models.ContentKind, text, model string, fromCache bool) error {
	artifact, err := r.deps.Jobs.UpsertArtifact(ctx, services.ArtifactParams{
		JobID:         job.ID,
		Type:          models.ArtifactType(kind),
		ContentText:   &text,
		PromptVersion: &r.deps.Config.PromptVersion,
		ModelUsed:     &model,
	})
	if err != nil {
		return err
	}

	r.emit(ctx, job.ID, events.TypeArtifactReady, map[string]any{
		"job_id": job.ID, "artifact_id": artifact.ID, "content_type": kind, "cached": fromCache,
	})
	r.emit(ctx, job.ID, events.TypeContent, map[string]any{
		"job_id":       job.ID,
		"content_type": kind,
		"content":      text,
		"progress":     100,
		"partial":      false,
		"saved":        true,
		"cached":       fromCache,
	})

	if r.deps.Config.ModerationEnabled {
		go r.moderateArtifact(artifact, kind, text)
	}
	return nil
}

// moderateArtifact screens persisted output in the background so it never
// blocks the client stream. A block marks the artifact and emits
// moderation_blocked; the job's terminal status is untouched.
func (r *Runner) moderateArtifact(artifact *models.Artifact, kind models.ContentKind, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := r.deps.Moderator.CheckOutput(ctx, text)
	if err == nil {
		if err := r.deps.Jobs.SetArtifactModeration(ctx, artifact.ID, "passed"); err != nil {
			slog.Warn("Failed to record moderation pass", "artifact_id", artifact.ID, "error", err)
		}
		r.emit(ctx, artifact.JobID, events.TypeModerationPassed, map[string]any{
			"job_id": artifact.JobID, "artifact_id": artifact.ID, "content_type": kind,
		})
		return
	}

	reason := "policy_violation"
	var modErr *providers.ModerationError
	if errors.As(err, &modErr) {
		reason = modErr.Reason
	}
	if err := r.deps.Jobs.SetArtifactModeration(ctx, artifact.ID, "blocked"); err != nil {
		slog.Warn("Failed to record moderation block", "artifact_id", artifact.ID, "error", err)
	}
	r.emit(ctx, artifact.JobID, events.TypeModerationBlocked, map[string]any{
		"job_id": artifact.JobID, "artifact_id": artifact.ID,
		"content_type": kind, "reason": reason,
	})
}

// complete transitions the job to completed, emits the full-content
// complete event and increments usage per saved format.
func (r *Runner) complete(ctx context.Context, job *models.Job, saved map[models.ContentKind]string) {
	ctx = context.WithoutCancel(ctx)
	if err := r.deps.Jobs.Finish(ctx, job.ID, models.JobStatusCompleted, nil); err != nil {
		slog.Error("Failed to complete job", "job_id", job.ID, "error", err)
		r.fail(ctx, job, "internal", "Generation finished but the result could not be recorded.",
			"job completion transition failed: "+err.Error(), 0)
		return
	}

	content := r.assembleContent(ctx, job, saved)
	r.emit(ctx, job.ID, events.TypeComplete, map[string]any{
		"job_id": job.ID, "status": models.JobStatusCompleted, "content": content,
	})

	for kind := range saved {
		if err := r.deps.Usage.Increment(ctx, job.OrgID, kind); err != nil {
			slog.Error("Failed to increment usage counter",
				"job_id", job.ID, "org_id", job.OrgID, "kind", kind, "error", err)
		}
	}
}

// assembleContent builds the complete payload, preferring live artifacts
// and falling back to the in-memory text when the DB read fails.
func (r *Runner) assembleContent(ctx context.Context, job *models.Job, saved map[models.ContentKind]string) map[models.ContentKind]string {
	_, artifacts, err := r.deps.Jobs.GetJobWithArtifacts(ctx, job.ID)
	if err == nil && len(artifacts) > 0 {
		out := make(map[models.ContentKind]string, len(artifacts))
		for _, a := range artifacts {
			if a.Text() != "" {
				out[models.ContentKind(a.Type)] = a.Text()
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return saved
}

// fail transitions the job to failed and emits the final error event. Runs
// on a detached context so cancellation of the job does not abort cleanup.
func (r *Runner) fail(ctx context.Context, job *models.Job, errType, message, hint string, retryAfter int) {
	ctx = context.WithoutCancel(ctx)
	msg := message
	if err := r.deps.Jobs.Finish(ctx, job.ID, models.JobStatusFailed, &msg); err != nil &&
		!errors.Is(err, services.ErrIllegalTransition) {
		slog.Error("Failed to mark job failed", "job_id", job.ID, "error", err)
	}

	data := map[string]any{
		"job_id": job.ID, "message": message, "error_type": errType,
	}
	if hint != "" {
		data["hint"] = hint
	}
	if retryAfter > 0 {
		data["retry_after"] = retryAfter
	}
	r.emit(ctx, job.ID, events.TypeError, data)
}

// cancelled checks the task's cancellation signal; when set it finalizes
// the job as cancelled and reports true.
func (r *Runner) cancelled(ctx context.Context, job *models.Job) bool {
	if ctx.Err() == nil {
		return false
	}
	cleanup := context.WithoutCancel(ctx)
	err := r.deps.Jobs.Finish(cleanup, job.ID, models.JobStatusCancelled, nil)
	if err != nil && !errors.Is(err, services.ErrIllegalTransition) {
		slog.Error("Failed to mark job cancelled", "job_id", job.ID, "error", err)
	}
	r.emit(cleanup, job.ID, events.TypeCancelled, map[string]any{
		"job_id": job.ID, "cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
	return true
}

// emitFormatError surfaces one branch's failure without terminating the
// job; the job only fails when no branch produced content.
func (r *Runner) emitFormatError(ctx context.Context, job *models.Job, kind models.ContentKind, err error) {
	code := "extraction_failed"
	message := "Extraction failed for " + string(kind) + " content."
	var exErr *extractError
	if errors.As(err, &exErr) {
		code = exErr.Code
		message = exErr.Message
	}
	slog.Warn("Format processing failed", "job_id", job.ID, "format", kind, "error", err)
	r.emit(ctx, job.ID, events.TypeError, map[string]any{
		"job_id": job.ID, "content_type": kind,
		"message": message, "error_type": code, "fatal": false,
	})
}

// emit appends a progress event. Append failures are logged and swallowed;
// a dropped event never fails the runner.
func (r *Runner) emit(ctx context.Context, jobID, eventType string, data map[string]any) {
	if _, err := r.deps.Events.Append(context.WithoutCancel(ctx), jobID, eventType, data); err != nil {
		slog.Warn("Failed to append event", "job_id", jobID, "event_type", eventType, "error", err)
	}
}

// previewSize bounds the content_preview payload.
const previewSize = 500

// previewOf trims text to the preview size, backing up to a rune boundary
// so a multi-byte character is never split mid-sequence.
func previewOf(text string) string {
	if len(text) <= previewSize {
		return text
	}
	cut := previewSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// progressEstimate maps elapsed time onto the coarse agent phases:
// research 0-30, writing 30-70, editing 70-95, extraction 95-100.
func progressEstimate(elapsed, expected time.Duration) (percent int, phase string, etaSec int) {
	if expected <= 0 {
		expected = 300 * time.Second
	}
	frac := float64(elapsed) / float64(expected)
	if frac > 0.99 {
		frac = 0.99
	}
	percent = int(frac * 100)
	switch {
	case percent < 30:
		phase = "researching"
	case percent < 70:
		phase = "writing"
	case percent < 95:
		phase = "editing"
	default:
		phase = "extracting"
	}
	if remaining := expected - elapsed; remaining > 0 {
		etaSec = int(remaining / time.Second)
	}
	return percent, phase, etaSec
}

var retryAfterRe = regexp.MustCompile(`(?i)retry[-_ ]?after[:\s]*(\d+)`)

// classifyAgentError maps an execution failure to the SSE error taxonomy.
func classifyAgentError(err error, formats models.KindList) (errType, message, hint string, retryAfter int) {
	lower := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		hint = "increase CREWAI_TIMEOUT"
		if len(formats) > 1 {
			hint += " or request fewer formats per job"
		}
		return "timeout", "Generation timed out before the agents finished.", hint, 0

	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "tpm") || strings.Contains(lower, "rpm"):
		if m := retryAfterRe.FindStringSubmatch(err.Error()); m != nil {
			retryAfter, _ = strconv.Atoi(m[1])
		}
		return "rate_limit", "The model provider is rate limiting requests. Please retry shortly.",
			"consider a higher-throughput provider tier", retryAfter

	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication"):
		return "configuration_error", "The model provider rejected this server's credentials.",
			"verify the LLM provider API key", 0
	}
	return "generation_failed", "Content generation failed unexpectedly.", "", 0
}

func formatList(formats models.KindList) string {
	parts := make([]string, len(formats))
	for i, k := range formats {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
