package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
)

// HTTPTTSProvider talks to the external TTS service. The response body is
// the raw audio; duration comes back in a header.
type HTTPTTSProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTTSProviderFromEnv builds the TTS client from TTS_SERVICE_URL and
// TTS_API_KEY.
func NewHTTPTTSProviderFromEnv() *HTTPTTSProvider {
	return &HTTPTTSProvider{
		baseURL: os.Getenv("TTS_SERVICE_URL"),
		apiKey:  os.Getenv("TTS_API_KEY"),
		client:  &http.Client{},
	}
}

// Synthesize implements TTSProvider.
func (p *HTTPTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	if p.baseURL == "" {
		return nil, ErrModelUnavailable
	}
	body, err := json.Marshal(map[string]any{
		"text": req.Text, "voice_id": req.VoiceID, "speed": req.Speed, "format": req.Format,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return nil, ErrModelUnavailable
	default:
		return nil, fmt.Errorf("tts service returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts audio: %w", err)
	}
	duration, _ := strconv.ParseFloat(resp.Header.Get("X-Duration-Sec"), 64)
	return &TTSResult{
		Audio:       audio,
		ContentType: resp.Header.Get("Content-Type"),
		DurationSec: duration,
	}, nil
}

var _ TTSProvider = (*HTTPTTSProvider)(nil)

// HTTPVideoRenderer talks to the external render service. Renders are
// synchronous from this client's point of view; per-scene progress is
// replayed from the result manifest.
type HTTPVideoRenderer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPVideoRendererFromEnv builds the renderer client from
// RENDER_SERVICE_URL and RENDER_API_KEY.
func NewHTTPVideoRendererFromEnv() *HTTPVideoRenderer {
	return &HTTPVideoRenderer{
		baseURL: os.Getenv("RENDER_SERVICE_URL"),
		apiKey:  os.Getenv("RENDER_API_KEY"),
		client:  &http.Client{},
	}
}

// Render implements VideoRenderer.
func (p *HTTPVideoRenderer) Render(ctx context.Context, script map[string]any, opts RenderOptions, onScene func(SceneProgress)) (*RenderResult, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("render service is not configured")
	}
	body, err := json.Marshal(map[string]any{
		"script": script,
		"options": map[string]any{
			"resolution":        opts.Resolution,
			"fps":               opts.FPS,
			"background_style":  opts.BackgroundStyle,
			"background_music":  opts.BackgroundMusic,
			"include_narration": opts.IncludeNarration,
			"renderer":          opts.Renderer,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d", resp.StatusCode)
	}

	var decoded struct {
		Video  string `json:"video_base64"`
		Scenes []struct {
			Index int    `json:"index"`
			Image string `json:"image_base64"`
			Clip  string `json:"clip_base64"`
		} `json:"scenes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode render result: %w", err)
	}

	video, err := base64.StdEncoding.DecodeString(decoded.Video)
	if err != nil {
		return nil, fmt.Errorf("failed to decode video payload: %w", err)
	}

	result := &RenderResult{Video: video, ContentType: "video/mp4"}
	total := len(decoded.Scenes)
	for _, s := range decoded.Scenes {
		if onScene != nil {
			onScene(SceneProgress{Index: s.Index, Total: total})
		}
		scene := Scene{Index: s.Index}
		if s.Image != "" {
			scene.Image, _ = base64.StdEncoding.DecodeString(s.Image)
		}
		if s.Clip != "" {
			scene.Clip, _ = base64.StdEncoding.DecodeString(s.Clip)
		}
		result.Scenes = append(result.Scenes, scene)
		if onScene != nil {
			onScene(SceneProgress{Index: s.Index, Total: total, Completed: true})
		}
	}
	return result, nil
}

var _ VideoRenderer = (*HTTPVideoRenderer)(nil)
