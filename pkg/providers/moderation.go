package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// ModerationError carries the reason code for blocked content.
type ModerationError struct {
	Reason string
}

func (e *ModerationError) Error() string {
	return fmt.Sprintf("content blocked: %s", e.Reason)
}

// Moderator screens input topics and generated output. A nil error means
// the content passed.
type Moderator interface {
	CheckInput(ctx context.Context, text string) error
	CheckOutput(ctx context.Context, text string) error
}

// NoopModerator passes everything; used when moderation is disabled.
type NoopModerator struct{}

// CheckInput implements Moderator.
func (NoopModerator) CheckInput(context.Context, string) error { return nil }

// CheckOutput implements Moderator.
func (NoopModerator) CheckOutput(context.Context, string) error { return nil }

// HTTPModerator talks to the external moderation service. Input checks are
// strict; output checks share the same endpoint with a different stage tag.
type HTTPModerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPModeratorFromEnv builds the moderation client from MODERATION_URL
// and MODERATION_API_KEY. Returns nil when no URL is set.
func NewHTTPModeratorFromEnv() *HTTPModerator {
	baseURL := os.Getenv("MODERATION_URL")
	if baseURL == "" {
		return nil
	}
	return &HTTPModerator{
		baseURL: baseURL,
		apiKey:  os.Getenv("MODERATION_API_KEY"),
		client:  &http.Client{},
	}
}

// CheckInput implements Moderator.
func (p *HTTPModerator) CheckInput(ctx context.Context, text string) error {
	return p.check(ctx, "input", text)
}

// CheckOutput implements Moderator.
func (p *HTTPModerator) CheckOutput(ctx context.Context, text string) error {
	return p.check(ctx, "output", text)
}

func (p *HTTPModerator) check(ctx context.Context, stage, text string) error {
	body, err := json.Marshal(map[string]string{"stage": stage, "text": text})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/moderate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("moderation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moderation service returned %d", resp.StatusCode)
	}

	var decoded struct {
		Flagged bool   `json:"flagged"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode moderation result: %w", err)
	}
	if decoded.Flagged {
		reason := decoded.Reason
		if reason == "" {
			reason = "policy_violation"
		}
		return &ModerationError{Reason: reason}
	}
	return nil
}

var _ Moderator = (*HTTPModerator)(nil)
