package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/models"
)

func TestHTTPAgentRuntimeRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/run", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "go generics", req["topic"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"raw":      "full draft",
			"sections": map[string]string{"blog": "blog text", "social": "post"},
		})
	}))
	defer srv.Close()

	rt := &HTTPAgentRuntime{baseURL: srv.URL, apiKey: "key", client: srv.Client()}
	require.True(t, rt.Configured())

	res, err := rt.Run(context.Background(), AgentRequest{
		Topic:   "go generics",
		Formats: models.KindList{models.KindBlog, models.KindSocial},
		Tier:    models.PlanPro,
		Model:   "gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, "full draft", res.Raw)
	assert.Equal(t, "blog text", res.Sections[models.KindBlog])
	assert.Equal(t, "post", res.Sections[models.KindSocial])
}

func TestHTTPAgentRuntimeErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "rate limit exceeded"})
	}))
	defer srv.Close()

	rt := &HTTPAgentRuntime{baseURL: srv.URL, apiKey: "key", client: srv.Client()}
	_, err := rt.Run(context.Background(), AgentRequest{Topic: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestHTTPAgentRuntimeNotConfigured(t *testing.T) {
	rt := &HTTPAgentRuntime{client: http.DefaultClient}
	assert.False(t, rt.Configured())

	_, err := rt.Run(context.Background(), AgentRequest{Topic: "t"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHTTPTTSProviderSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/synthesize", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req["text"])
		assert.Equal(t, 1.5, req["speed"])

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("X-Duration-Sec", "3.2")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p := &HTTPTTSProvider{baseURL: srv.URL, apiKey: "key", client: srv.Client()}
	res, err := p.Synthesize(context.Background(), TTSRequest{
		Text: "hello world", VoiceID: "alloy", Speed: 1.5, Format: "mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), res.Audio)
	assert.Equal(t, "audio/mpeg", res.ContentType)
	assert.InDelta(t, 3.2, res.DurationSec, 0.001)
}

func TestHTTPTTSProviderModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &HTTPTTSProvider{baseURL: srv.URL, apiKey: "key", client: srv.Client()}
	_, err := p.Synthesize(context.Background(), TTSRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrModelUnavailable)

	unconfigured := &HTTPTTSProvider{client: http.DefaultClient}
	_, err = unconfigured.Synthesize(context.Background(), TTSRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestHTTPVideoRendererRender(t *testing.T) {
	videoB64 := base64.StdEncoding.EncodeToString([]byte("final-video"))
	imgB64 := base64.StdEncoding.EncodeToString([]byte("img"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/render", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"video_base64": videoB64,
			"scenes": []map[string]any{
				{"index": 0, "image_base64": imgB64},
				{"index": 1},
			},
		})
	}))
	defer srv.Close()

	var progress []SceneProgress
	p := &HTTPVideoRenderer{baseURL: srv.URL, apiKey: "key", client: srv.Client()}
	res, err := p.Render(context.Background(), map[string]any{"script": "s"},
		RenderOptions{Resolution: "1920x1080", FPS: 30},
		func(sp SceneProgress) { progress = append(progress, sp) })
	require.NoError(t, err)

	assert.Equal(t, []byte("final-video"), res.Video)
	require.Len(t, res.Scenes, 2)
	assert.Equal(t, []byte("img"), res.Scenes[0].Image)

	require.Len(t, progress, 4, "started and completed per scene")
	assert.False(t, progress[0].Completed)
	assert.True(t, progress[1].Completed)
	assert.Equal(t, 2, progress[0].Total)
}
