// Package providers defines the narrow interfaces the core consumes from its
// external collaborators: the LLM/agent runtime, TTS, video rendering,
// email, billing and moderation. The core never reaches past these
// boundaries.
package providers

import (
	"context"
	"errors"

	"github.com/contentforge/contentforge/pkg/models"
)

// AgentRequest hands the agent runtime everything it needs for one job.
type AgentRequest struct {
	Topic   string
	Formats models.KindList
	Tier    models.PlanName
	Model   string
}

// AgentResult is the opaque result object per-format extractors read from.
type AgentResult struct {
	// Raw is the full agent output (typically the blog draft plus
	// format-labeled sections).
	Raw string
	// Sections holds per-format output when the runtime separates them.
	Sections map[models.ContentKind]string
}

// LLMRuntime runs the agent pipeline for one job. Implementations are
// expected to be slow (minutes) and must honor ctx cancellation.
type LLMRuntime interface {
	Run(ctx context.Context, req AgentRequest) (*AgentResult, error)
	// Configured reports whether credentials are present; the runner fails
	// fast before spawning agents when they are not.
	Configured() bool
}

// ErrNotConfigured is returned by preflight when no LLM credentials exist.
var ErrNotConfigured = errors.New("llm provider credentials are not configured")
