package api

import (
	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/services"
)

// GenerateRequest is the body of POST /v1/content/generate. One format per
// call; when content_types carries several, only the first is used.
type GenerateRequest struct {
	Topic          string   `json:"topic"`
	ContentType    string   `json:"content_type"`
	ContentTypes   []string `json:"content_types"`
	IdempotencyKey string   `json:"idempotency_key"`
}

// Format resolves the single requested content kind.
func (r *GenerateRequest) Format() (models.ContentKind, error) {
	raw := r.ContentType
	if raw == "" && len(r.ContentTypes) > 0 {
		raw = r.ContentTypes[0]
	}
	if raw == "" {
		return "", services.NewValidationError("content_type", "required")
	}
	kind := models.ContentKind(raw)
	if !kind.Valid() {
		return "", services.NewValidationError("content_type", "unknown content type "+raw)
	}
	return kind, nil
}

// VoiceoverRequest is the body of POST /v1/content/voiceover. Exactly one
// of job_id and narration_text must be set.
type VoiceoverRequest struct {
	JobID         string  `json:"job_id"`
	NarrationText string  `json:"narration_text"`
	VoiceID       string  `json:"voice_id"`
	Speed         float64 `json:"speed"`
	Format        string  `json:"format"`
}

// Validate normalizes defaults and checks ranges.
func (r *VoiceoverRequest) Validate() error {
	if (r.JobID == "") == (r.NarrationText == "") {
		return services.NewValidationError("job_id", "exactly one of job_id and narration_text is required")
	}
	if r.Speed == 0 {
		r.Speed = 1.0
	}
	if r.Speed < 0.5 || r.Speed > 2.0 {
		return services.NewValidationError("speed", "must be between 0.5 and 2.0")
	}
	if r.Format == "" {
		r.Format = "mp3"
	}
	if r.Format != "mp3" && r.Format != "wav" {
		return services.NewValidationError("format", "must be mp3 or wav")
	}
	if r.VoiceID == "" {
		r.VoiceID = "default"
	}
	return nil
}

// VideoRenderRequest is the body of POST /v1/content/video/render.
type VideoRenderRequest struct {
	JobID            string `json:"job_id"`
	Resolution       string `json:"resolution"`
	FPS              int    `json:"fps"`
	BackgroundStyle  string `json:"background_style"`
	BackgroundMusic  string `json:"background_music"`
	IncludeNarration bool   `json:"include_narration"`
	Renderer         string `json:"renderer"`
}

// Validate normalizes defaults and checks ranges.
func (r *VideoRenderRequest) Validate() error {
	if r.JobID == "" {
		return services.NewValidationError("job_id", "required")
	}
	if r.Resolution == "" {
		r.Resolution = "1920x1080"
	}
	if r.FPS == 0 {
		r.FPS = 30
	}
	if r.FPS < 24 || r.FPS > 60 {
		return services.NewValidationError("fps", "must be between 24 and 60")
	}
	if r.Renderer == "" {
		r.Renderer = "default"
	}
	return nil
}
