package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/services"
)

func TestGenerateRequestFormat(t *testing.T) {
	r := &GenerateRequest{Topic: "t", ContentType: "blog"}
	kind, err := r.Format()
	require.NoError(t, err)
	assert.Equal(t, models.KindBlog, kind)

	r = &GenerateRequest{Topic: "t", ContentTypes: []string{"social", "audio"}}
	kind, err = r.Format()
	require.NoError(t, err)
	assert.Equal(t, models.KindSocial, kind, "only the first listed type is used")

	r = &GenerateRequest{Topic: "t", ContentType: "blog", ContentTypes: []string{"social"}}
	kind, err = r.Format()
	require.NoError(t, err)
	assert.Equal(t, models.KindBlog, kind, "content_type wins over content_types")
}

func TestGenerateRequestFormatRejectsBadInput(t *testing.T) {
	var validErr *services.ValidationError

	_, err := (&GenerateRequest{Topic: "t"}).Format()
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "content_type", validErr.Field)

	_, err = (&GenerateRequest{Topic: "t", ContentType: "powerpoint"}).Format()
	assert.ErrorAs(t, err, &validErr)

	_, err = (&GenerateRequest{Topic: "t", ContentType: "voiceover"}).Format()
	assert.ErrorAs(t, err, &validErr, "voiceover has its own endpoint and is not a generate format")
}

func TestVoiceoverRequestValidate(t *testing.T) {
	r := &VoiceoverRequest{NarrationText: "hello"}
	require.NoError(t, r.Validate())
	assert.Equal(t, 1.0, r.Speed)
	assert.Equal(t, "mp3", r.Format)
	assert.Equal(t, "default", r.VoiceID)

	r = &VoiceoverRequest{JobID: "job-1", Speed: 1.5, Format: "wav", VoiceID: "alloy"}
	require.NoError(t, r.Validate())
	assert.Equal(t, 1.5, r.Speed)
}

func TestVoiceoverRequestValidateRejections(t *testing.T) {
	assert.Error(t, (&VoiceoverRequest{}).Validate(), "one of job_id/narration_text is required")
	assert.Error(t, (&VoiceoverRequest{JobID: "j", NarrationText: "x"}).Validate(), "but not both")
	assert.Error(t, (&VoiceoverRequest{NarrationText: "x", Speed: 0.4}).Validate())
	assert.Error(t, (&VoiceoverRequest{NarrationText: "x", Speed: 2.1}).Validate())
	assert.Error(t, (&VoiceoverRequest{NarrationText: "x", Format: "ogg"}).Validate())
}

func TestVideoRenderRequestValidate(t *testing.T) {
	r := &VideoRenderRequest{JobID: "job-1"}
	require.NoError(t, r.Validate())
	assert.Equal(t, "1920x1080", r.Resolution)
	assert.Equal(t, 30, r.FPS)
	assert.Equal(t, "default", r.Renderer)

	assert.Error(t, (&VideoRenderRequest{}).Validate())
	assert.Error(t, (&VideoRenderRequest{JobID: "j", FPS: 23}).Validate())
	assert.Error(t, (&VideoRenderRequest{JobID: "j", FPS: 61}).Validate())
}
