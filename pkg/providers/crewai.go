package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/contentforge/contentforge/pkg/models"
)

// HTTPAgentRuntime talks to the external agent-pipeline service over HTTP.
// The service owns prompt construction and crew orchestration; this client
// only ships the request and decodes the result.
type HTTPAgentRuntime struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPAgentRuntimeFromEnv builds the runtime client from
// CREWAI_SERVICE_URL and CREWAI_API_KEY.
func NewHTTPAgentRuntimeFromEnv() *HTTPAgentRuntime {
	return &HTTPAgentRuntime{
		baseURL: os.Getenv("CREWAI_SERVICE_URL"),
		apiKey:  os.Getenv("CREWAI_API_KEY"),
		// Per-call deadlines come from the caller's context; the transport
		// timeout only bounds connection setup.
		client: &http.Client{Timeout: 0},
	}
}

// Configured implements LLMRuntime.
func (r *HTTPAgentRuntime) Configured() bool {
	return r.baseURL != "" && r.apiKey != ""
}

// Run implements LLMRuntime.
func (r *HTTPAgentRuntime) Run(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	if !r.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{
		"topic":   req.Topic,
		"formats": req.Formats,
		"tier":    req.Tier,
		"model":   req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent service request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Message == "" {
			errBody.Message = resp.Status
		}
		return nil, fmt.Errorf("agent service returned %d: %s", resp.StatusCode, errBody.Message)
	}

	var decoded struct {
		Raw      string            `json:"raw"`
		Sections map[string]string `json:"sections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode agent result: %w", err)
	}

	result := &AgentResult{Raw: decoded.Raw, Sections: make(map[models.ContentKind]string, len(decoded.Sections))}
	for k, v := range decoded.Sections {
		result.Sections[models.ContentKind(k)] = v
	}
	return result, nil
}

var _ LLMRuntime = (*HTTPAgentRuntime)(nil)
