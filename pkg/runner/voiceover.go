package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

// VoiceoverParams is one accepted voiceover request, after handler
// validation.
type VoiceoverParams struct {
	SourceJobID   string
	NarrationText string
	VoiceID       string
	Speed         float64
	Format        string
}

// ResolveNarration returns the narration text for a voiceover request:
// inline text when given, else the source job's audio artifact.
func (r *Runner) ResolveNarration(ctx context.Context, p VoiceoverParams, viewerUserID string) (string, error) {
	if p.NarrationText != "" {
		return p.NarrationText, nil
	}
	if _, err := r.deps.Jobs.GetJob(ctx, p.SourceJobID, viewerUserID); err != nil {
		return "", err
	}
	_, artifacts, err := r.deps.Jobs.GetJobWithArtifacts(ctx, p.SourceJobID)
	if err != nil {
		return "", err
	}
	for _, a := range artifacts {
		if a.Type == models.ArtifactAudio && a.Text() != "" {
			return a.Text(), nil
		}
	}
	return "", services.NewValidationError("job_id", "job has no audio script to narrate")
}

// StartVoiceover creates the synthetic job for a voiceover run and spawns
// it. The returned job's id is what the client streams.
func (r *Runner) StartVoiceover(ctx context.Context, orgID, userID, text string, p VoiceoverParams) (*models.Job, error) {
	topic := "Voiceover: " + truncate(text, 80)
	job, err := r.deps.Jobs.CreateSyntheticJob(ctx, orgID, userID, topic, models.KindVoiceover)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.deps.Registry.Register(job.ID, cancel)
	go func() {
		defer cancel()
		defer r.deps.Registry.Unregister(job.ID)
		r.runVoiceover(runCtx, job, text, p)
	}()
	return job, nil
}

// voiceoverMilestones are the mid-synthesis progress steps.
var voiceoverMilestones = []struct {
	Percent int
	Message string
}{
	{25, "Loading voice model"},
	{40, "Synthesizing speech"},
	{55, "Synthesizing speech"},
	{70, "Refining audio"},
	{80, "Encoding audio"},
	{90, "Uploading audio"},
}

func (r *Runner) runVoiceover(ctx context.Context, job *models.Job, text string, p VoiceoverParams) {
	log := slog.With("job_id", job.ID, "voice_id", p.VoiceID)

	// First progress beat goes out before any work so a client connecting
	// right after the 202 sees life immediately.
	r.emit(ctx, job.ID, events.TypeTTSProgress, map[string]any{
		"job_id": job.ID, "progress": 5, "message": "Preparing narration",
	})

	if err := r.deps.Jobs.MarkRunning(ctx, job.ID); err != nil {
		log.Error("Failed to mark voiceover job running", "error", err)
		r.failVoiceover(ctx, job, "internal", "Could not start voiceover generation.", 500)
		return
	}
	r.emit(ctx, job.ID, events.TypeTTSStarted, map[string]any{
		"job_id": job.ID, "voice_id": p.VoiceID, "speed": p.Speed, "format": p.Format,
	})

	if err := r.deps.Moderator.CheckInput(ctx, text); err != nil {
		var modErr *providers.ModerationError
		reason := "policy_violation"
		if errors.As(err, &modErr) {
			reason = modErr.Reason
		}
		log.Info("Voiceover input blocked", "reason", reason)
		r.emit(ctx, job.ID, events.TypeModerationBlocked, map[string]any{
			"job_id": job.ID, "reason": reason, "stage": "input",
		})
		r.failVoiceover(ctx, job, "input_blocked", "The narration text was blocked by moderation.", 403)
		return
	}
	if r.cancelled(ctx, job) {
		return
	}

	result, err := r.synthesize(ctx, job, text, p)
	if err != nil {
		if r.cancelled(ctx, job) {
			return
		}
		if errors.Is(err, providers.ErrModelUnavailable) {
			r.failVoiceover(ctx, job, "model_unavailable",
				"The requested voice model is unavailable. Please retry later.", 503)
			return
		}
		log.Error("TTS synthesis failed", "error", err)
		r.failVoiceover(ctx, job, "tts_failed", "Voiceover synthesis failed.", 500)
		return
	}

	// The blob put completes before any URL is emitted; emitting earlier
	// would let the client 404 on a file that does not exist yet.
	key := storage.GenerateKey("voiceover", "."+p.Format)
	url, err := r.deps.Storage.Put(ctx, key, result.Audio, result.ContentType)
	if err != nil {
		log.Error("Failed to store voiceover audio", "error", err)
		r.failVoiceover(ctx, job, "storage_failed", "Could not store the generated audio.", 500)
		return
	}

	// Events reach the store before the DB row so the streamer's next poll
	// observes both at once instead of an artifact with no events.
	r.emit(ctx, job.ID, events.TypeArtifactReady, map[string]any{
		"job_id": job.ID, "content_type": models.ArtifactVoiceoverAudio,
		"url": url, "storage_key": key,
	})
	r.emit(ctx, job.ID, events.TypeTTSCompleted, map[string]any{
		"job_id": job.ID, "url": url, "duration_sec": result.DurationSec, "format": p.Format,
	})

	_, err = r.deps.Jobs.UpsertArtifact(ctx, services.ArtifactParams{
		JobID: job.ID,
		Type:  models.ArtifactVoiceoverAudio,
		ContentJSON: models.JSONMap{
			"storage_key":  key,
			"url":          url,
			"voice_id":     p.VoiceID,
			"speed":        p.Speed,
			"format":       p.Format,
			"duration_sec": result.DurationSec,
		},
	})
	if err != nil {
		log.Error("Failed to persist voiceover artifact", "error", err)
		r.failVoiceover(ctx, job, "internal", "Generated audio could not be recorded.", 500)
		return
	}

	cleanup := context.WithoutCancel(ctx)
	if err := r.deps.Jobs.Finish(cleanup, job.ID, models.JobStatusCompleted, nil); err != nil {
		log.Error("Failed to complete voiceover job", "error", err)
	}
	r.emit(cleanup, job.ID, events.TypeComplete, map[string]any{
		"job_id": job.ID, "status": models.JobStatusCompleted,
		"audio_url": url, "duration_sec": result.DurationSec,
	})
	if err := r.deps.Usage.Increment(cleanup, job.OrgID, models.KindVoiceover); err != nil {
		log.Error("Failed to increment voiceover usage", "org_id", job.OrgID, "error", err)
	}
}

// synthesize runs the TTS call on its own goroutine, walking the progress
// milestones while it waits.
func (r *Runner) synthesize(ctx context.Context, job *models.Job, text string, p VoiceoverParams) (*providers.TTSResult, error) {
	ttsCtx, cancel := context.WithTimeout(ctx, r.deps.Config.AgentTimeout)
	defer cancel()

	type outcome struct {
		result *providers.TTSResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.deps.TTS.Synthesize(ttsCtx, providers.TTSRequest{
			Text: text, VoiceID: p.VoiceID, Speed: p.Speed, Format: p.Format,
		})
		done <- outcome{result: res, err: err}
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	milestone := 0

	for {
		select {
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			if out.result == nil || len(out.result.Audio) == 0 {
				return nil, fmt.Errorf("tts produced no audio")
			}
			return out.result, nil
		case <-ticker.C:
			if milestone < len(voiceoverMilestones) {
				m := voiceoverMilestones[milestone]
				milestone++
				r.emit(ctx, job.ID, events.TypeTTSProgress, map[string]any{
					"job_id": job.ID, "progress": m.Percent, "message": m.Message,
				})
			}
		case <-ttsCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, context.DeadlineExceeded
		}
	}
}

// failVoiceover finalizes a failed voiceover run: tts_failed plus the
// standard error event, then the failed transition.
func (r *Runner) failVoiceover(ctx context.Context, job *models.Job, errType, message string, statusCode int) {
	ctx = context.WithoutCancel(ctx)
	msg := message
	if err := r.deps.Jobs.Finish(ctx, job.ID, models.JobStatusFailed, &msg); err != nil &&
		!errors.Is(err, services.ErrIllegalTransition) {
		slog.Error("Failed to mark voiceover job failed", "job_id", job.ID, "error", err)
	}
	r.emit(ctx, job.ID, events.TypeTTSFailed, map[string]any{
		"job_id": job.ID, "message": message, "error_type": errType,
	})
	r.emit(ctx, job.ID, events.TypeError, map[string]any{
		"job_id": job.ID, "message": message, "error_type": errType, "error_code": statusCode,
	})
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
