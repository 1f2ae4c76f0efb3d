package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/contentforge/contentforge/pkg/models"
)

func TestPreviewOfTrimsOnRuneBoundary(t *testing.T) {
	assert.Equal(t, "short", previewOf("short"))

	// 3-byte runes: the 500-byte cut lands mid-sequence and must back up.
	text := strings.Repeat("世", 200)
	out := previewOf(text)
	assert.True(t, utf8.ValidString(out))
	assert.Len(t, out, 498)

	ascii := strings.Repeat("a", 600)
	assert.Len(t, previewOf(ascii), 500)
}

func TestProgressEstimatePhases(t *testing.T) {
	expected := 100 * time.Second

	percent, phase, eta := progressEstimate(10*time.Second, expected)
	assert.Equal(t, 10, percent)
	assert.Equal(t, "researching", phase)
	assert.Equal(t, 90, eta)

	_, phase, _ = progressEstimate(50*time.Second, expected)
	assert.Equal(t, "writing", phase)

	_, phase, _ = progressEstimate(80*time.Second, expected)
	assert.Equal(t, "editing", phase)

	percent, phase, eta = progressEstimate(200*time.Second, expected)
	assert.Equal(t, 99, percent, "estimate never reports done before the agents return")
	assert.Equal(t, "extracting", phase)
	assert.Zero(t, eta)
}

func TestProgressEstimateZeroExpected(t *testing.T) {
	percent, phase, _ := progressEstimate(30*time.Second, 0)
	assert.Equal(t, 10, percent, "zero timeout falls back to the 300s default")
	assert.Equal(t, "researching", phase)
}

func TestClassifyAgentError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		formats    models.KindList
		wantType   string
		wantRetry  int
		hintSubstr string
	}{
		{
			name:       "timeout single format",
			err:        context.DeadlineExceeded,
			formats:    models.KindList{models.KindBlog},
			wantType:   "timeout",
			hintSubstr: "CREWAI_TIMEOUT",
		},
		{
			name:       "timeout multiple formats suggests splitting",
			err:        context.DeadlineExceeded,
			formats:    models.KindList{models.KindBlog, models.KindSocial},
			wantType:   "timeout",
			hintSubstr: "fewer formats",
		},
		{
			name:     "provider 429",
			err:      errors.New("openai: 429 Too Many Requests"),
			wantType: "rate_limit",
		},
		{
			name:      "rate limit with retry-after",
			err:       errors.New("rate limit exceeded, retry-after: 42 seconds"),
			wantType:  "rate_limit",
			wantRetry: 42,
		},
		{
			name:     "tpm cap",
			err:      errors.New("TPM limit reached for model"),
			wantType: "rate_limit",
		},
		{
			name:     "bad credentials",
			err:      errors.New("401 Unauthorized: invalid api key"),
			wantType: "configuration_error",
		},
		{
			name:     "anything else",
			err:      errors.New("crew kickoff panicked"),
			wantType: "generation_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errType, message, hint, retryAfter := classifyAgentError(tt.err, tt.formats)
			assert.Equal(t, tt.wantType, errType)
			assert.NotEmpty(t, message)
			assert.Equal(t, tt.wantRetry, retryAfter)
			if tt.hintSubstr != "" {
				assert.Contains(t, hint, tt.hintSubstr)
			}
		})
	}
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "blog, social", formatList(models.KindList{models.KindBlog, models.KindSocial}))
	assert.Equal(t, "", formatList(nil))
}
