package providers

import (
	"context"
	"errors"
)

// TTSRequest is one synthesis call.
type TTSRequest struct {
	Text    string
	VoiceID string
	Speed   float64
	Format  string // e.g. "mp3", "wav"
}

// TTSResult carries the synthesized audio and provider metadata.
type TTSResult struct {
	Audio       []byte
	ContentType string
	DurationSec float64
	Metadata    map[string]any
}

// TTSProvider synthesizes narration audio. Calls may take tens of seconds;
// implementations must honor ctx cancellation.
type TTSProvider interface {
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error)
}

// ErrModelUnavailable marks a TTS failure caused by a missing or unloaded
// model; callers surface it as a 503-class error rather than a 500.
var ErrModelUnavailable = errors.New("tts model unavailable")

// RenderOptions configures one video render.
type RenderOptions struct {
	Resolution       string
	FPS              int
	BackgroundStyle  string
	BackgroundMusic  string
	IncludeNarration bool
	Renderer         string
}

// Scene is one storyboard unit of a render.
type Scene struct {
	Index    int
	Image    []byte
	Clip     []byte
	Metadata map[string]any
}

// RenderResult carries the final video plus optional per-scene assets.
type RenderResult struct {
	Video       []byte
	ContentType string
	Scenes      []Scene
	Metadata    map[string]any
}

// SceneProgress reports per-scene render lifecycle to the caller.
type SceneProgress struct {
	Index     int
	Total     int
	Completed bool
}

// VideoRenderer renders a script into video. onScene may be nil.
type VideoRenderer interface {
	Render(ctx context.Context, script map[string]any, opts RenderOptions, onScene func(SceneProgress)) (*RenderResult, error)
}
