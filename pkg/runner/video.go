package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

// VideoRenderParams is one accepted render request, after handler
// validation.
type VideoRenderParams struct {
	SourceJobID      string
	Resolution       string
	FPS              int
	BackgroundStyle  string
	BackgroundMusic  string
	IncludeNarration bool
	Renderer         string
}

// ResolveScript loads the source job's video artifact as the render script.
func (r *Runner) ResolveScript(ctx context.Context, sourceJobID, viewerUserID string) (map[string]any, error) {
	if _, err := r.deps.Jobs.GetJob(ctx, sourceJobID, viewerUserID); err != nil {
		return nil, err
	}
	_, artifacts, err := r.deps.Jobs.GetJobWithArtifacts(ctx, sourceJobID)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		if a.Type != models.ArtifactVideo {
			continue
		}
		if a.ContentJSON != nil {
			return a.ContentJSON, nil
		}
		if a.Text() != "" {
			var script map[string]any
			if err := json.Unmarshal([]byte(a.Text()), &script); err == nil {
				return script, nil
			}
			return map[string]any{"script": a.Text()}, nil
		}
	}
	return nil, services.NewValidationError("job_id", "job has no video script to render")
}

// StartVideoRender creates the synthetic job for a render run and spawns it.
func (r *Runner) StartVideoRender(ctx context.Context, orgID, userID string, script map[string]any, p VideoRenderParams) (*models.Job, error) {
	topic := "Video render of job " + p.SourceJobID
	job, err := r.deps.Jobs.CreateSyntheticJob(ctx, orgID, userID, topic, models.KindVideoRender)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.deps.Registry.Register(job.ID, cancel)
	go func() {
		defer cancel()
		defer r.deps.Registry.Unregister(job.ID)
		r.runVideoRender(runCtx, job, script, p)
	}()
	return job, nil
}

func (r *Runner) runVideoRender(ctx context.Context, job *models.Job, script map[string]any, p VideoRenderParams) {
	log := slog.With("job_id", job.ID, "renderer", p.Renderer)

	if err := r.deps.Jobs.MarkRunning(ctx, job.ID); err != nil {
		log.Error("Failed to mark render job running", "error", err)
		r.failVideoRender(ctx, job, "internal", "Could not start video rendering.")
		return
	}
	r.emit(ctx, job.ID, events.TypeVideoRenderStarted, map[string]any{
		"job_id": job.ID, "resolution": p.Resolution, "fps": p.FPS, "renderer": p.Renderer,
	})

	result, err := r.render(ctx, job, script, p)
	if err != nil {
		if r.cancelled(ctx, job) {
			return
		}
		log.Error("Video render failed", "error", err)
		r.failVideoRender(ctx, job, "render_failed", "Video rendering failed.")
		return
	}
	if r.cancelled(ctx, job) {
		return
	}

	key := storage.GenerateKey("video", ".mp4")
	url, err := r.deps.Storage.Put(ctx, key, result.Video, result.ContentType)
	if err != nil {
		log.Error("Failed to store rendered video", "error", err)
		r.failVideoRender(ctx, job, "storage_failed", "Could not store the rendered video.")
		return
	}

	sceneAssets := r.persistSceneAssets(ctx, job, result.Scenes)

	r.emit(ctx, job.ID, events.TypeArtifactReady, map[string]any{
		"job_id": job.ID, "content_type": models.ArtifactFinalVideo,
		"url": url, "storage_key": key,
	})
	r.emit(ctx, job.ID, events.TypeVideoRenderCompleted, map[string]any{
		"job_id": job.ID, "url": url, "scenes": len(result.Scenes),
	})

	_, err = r.deps.Jobs.UpsertArtifact(ctx, services.ArtifactParams{
		JobID: job.ID,
		Type:  models.ArtifactFinalVideo,
		ContentJSON: models.JSONMap{
			"storage_key": key,
			"url":         url,
			"resolution":  p.Resolution,
			"fps":         p.FPS,
			"renderer":    p.Renderer,
			"scene_count": len(result.Scenes),
		},
	})
	if err != nil {
		log.Error("Failed to persist final video artifact", "error", err)
		r.failVideoRender(ctx, job, "internal", "Rendered video could not be recorded.")
		return
	}

	cleanup := context.WithoutCancel(ctx)
	if err := r.deps.Jobs.Finish(cleanup, job.ID, models.JobStatusCompleted, nil); err != nil {
		log.Error("Failed to complete render job", "error", err)
	}
	r.emit(cleanup, job.ID, events.TypeComplete, map[string]any{
		"job_id": job.ID, "status": models.JobStatusCompleted,
		"video_url": url, "scenes": len(result.Scenes), "assets": sceneAssets,
	})
	if err := r.deps.Usage.Increment(cleanup, job.OrgID, models.KindVideoRender); err != nil {
		log.Error("Failed to increment video render usage", "org_id", job.OrgID, "error", err)
	}
}

// render runs the renderer on its own goroutine, forwarding per-scene
// progress as scene_started / scene_completed events.
func (r *Runner) render(ctx context.Context, job *models.Job, script map[string]any, p VideoRenderParams) (*providers.RenderResult, error) {
	renderCtx, cancel := context.WithTimeout(ctx, r.deps.Config.AgentTimeout)
	defer cancel()

	type outcome struct {
		result *providers.RenderResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.deps.Video.Render(renderCtx, script, providers.RenderOptions{
			Resolution:       p.Resolution,
			FPS:              p.FPS,
			BackgroundStyle:  p.BackgroundStyle,
			BackgroundMusic:  p.BackgroundMusic,
			IncludeNarration: p.IncludeNarration,
			Renderer:         p.Renderer,
		}, func(sp providers.SceneProgress) {
			eventType := events.TypeSceneStarted
			if sp.Completed {
				eventType = events.TypeSceneCompleted
			}
			r.emit(ctx, job.ID, eventType, map[string]any{
				"job_id": job.ID, "scene": sp.Index, "total_scenes": sp.Total,
			})
		})
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil || len(out.result.Video) == 0 {
			return nil, fmt.Errorf("renderer produced no video")
		}
		return out.result, nil
	case <-renderCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, context.DeadlineExceeded
	}
}

// persistSceneAssets stores per-scene images and clips as repeatable media
// artifacts. Asset failures are logged, not fatal: the final video already
// exists.
func (r *Runner) persistSceneAssets(ctx context.Context, job *models.Job, scenes []providers.Scene) []map[string]any {
	assets := make([]map[string]any, 0, len(scenes))
	for _, scene := range scenes {
		if len(scene.Image) > 0 {
			if a := r.persistSceneBlob(ctx, job, models.ArtifactStoryboardImage, scene, scene.Image, "storyboard", ".png", "image/png"); a != nil {
				assets = append(assets, a)
			}
		}
		if len(scene.Clip) > 0 {
			if a := r.persistSceneBlob(ctx, job, models.ArtifactVideoClip, scene, scene.Clip, "clips", ".mp4", "video/mp4"); a != nil {
				assets = append(assets, a)
			}
		}
	}
	return assets
}

func (r *Runner) persistSceneBlob(ctx context.Context, job *models.Job, artifactType models.ArtifactType, scene providers.Scene, data []byte, namespace, suffix, contentType string) map[string]any {
	key := storage.GenerateKey(namespace, suffix)
	url, err := r.deps.Storage.Put(ctx, key, data, contentType)
	if err != nil {
		slog.Warn("Failed to store scene asset", "job_id", job.ID, "type", artifactType, "error", err)
		return nil
	}
	_, err = r.deps.Jobs.UpsertArtifact(ctx, services.ArtifactParams{
		JobID: job.ID,
		Type:  artifactType,
		ContentJSON: models.JSONMap{
			"storage_key": key, "url": url, "scene": scene.Index,
		},
	})
	if err != nil {
		slog.Warn("Failed to persist scene asset", "job_id", job.ID, "type", artifactType, "error", err)
		return nil
	}
	return map[string]any{"type": artifactType, "url": url, "scene": scene.Index}
}

func (r *Runner) failVideoRender(ctx context.Context, job *models.Job, errType, message string) {
	ctx = context.WithoutCancel(ctx)
	msg := message
	if err := r.deps.Jobs.Finish(ctx, job.ID, models.JobStatusFailed, &msg); err != nil &&
		!errors.Is(err, services.ErrIllegalTransition) {
		slog.Error("Failed to mark render job failed", "job_id", job.ID, "error", err)
	}
	r.emit(ctx, job.ID, events.TypeVideoRenderFailed, map[string]any{
		"job_id": job.ID, "message": message, "error_type": errType,
	})
	r.emit(ctx, job.ID, events.TypeError, map[string]any{
		"job_id": job.ID, "message": message, "error_type": errType,
	})
}
