package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPModeratorPassesCleanText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moderate", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "input", req["stage"])
		assert.Equal(t, "a perfectly fine topic", req["text"])

		_ = json.NewEncoder(w).Encode(map[string]any{"flagged": false})
	}))
	defer srv.Close()

	m := &HTTPModerator{baseURL: srv.URL, client: srv.Client()}
	assert.NoError(t, m.CheckInput(context.Background(), "a perfectly fine topic"))
}

func TestHTTPModeratorFlagsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "output", req["stage"])

		_ = json.NewEncoder(w).Encode(map[string]any{"flagged": true, "reason": "hate_speech"})
	}))
	defer srv.Close()

	m := &HTTPModerator{baseURL: srv.URL, client: srv.Client()}
	err := m.CheckOutput(context.Background(), "bad text")

	var modErr *ModerationError
	require.ErrorAs(t, err, &modErr)
	assert.Equal(t, "hate_speech", modErr.Reason)
}

func TestHTTPModeratorFlaggedWithoutReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"flagged": true})
	}))
	defer srv.Close()

	m := &HTTPModerator{baseURL: srv.URL, client: srv.Client()}
	err := m.CheckInput(context.Background(), "text")

	var modErr *ModerationError
	require.ErrorAs(t, err, &modErr)
	assert.Equal(t, "policy_violation", modErr.Reason)
}

func TestHTTPModeratorServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := &HTTPModerator{baseURL: srv.URL, client: srv.Client()}
	err := m.CheckInput(context.Background(), "text")
	require.Error(t, err)
	var modErr *ModerationError
	assert.False(t, errors.As(err, &modErr), "a service failure is not a moderation verdict")
}
