package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIdempotencyKeyNormalizesTopic(t *testing.T) {
	formats := KindList{KindBlog, KindSocial}

	a := DeriveIdempotencyKey("user-1", "Go Generics", formats)
	b := DeriveIdempotencyKey("user-1", "  go   GENERICS ", formats)
	assert.Equal(t, a, b, "whitespace and case do not change the key")
}

func TestDeriveIdempotencyKeyOrderInsensitiveFormats(t *testing.T) {
	a := DeriveIdempotencyKey("user-1", "topic", KindList{KindBlog, KindSocial})
	b := DeriveIdempotencyKey("user-1", "topic", KindList{KindSocial, KindBlog})
	assert.Equal(t, a, b)
}

func TestDeriveIdempotencyKeyDiscriminates(t *testing.T) {
	base := DeriveIdempotencyKey("user-1", "topic", KindList{KindBlog})

	assert.NotEqual(t, base, DeriveIdempotencyKey("user-2", "topic", KindList{KindBlog}))
	assert.NotEqual(t, base, DeriveIdempotencyKey("user-1", "other topic", KindList{KindBlog}))
	assert.NotEqual(t, base, DeriveIdempotencyKey("user-1", "topic", KindList{KindBlog, KindSocial}))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestContentKindValid(t *testing.T) {
	assert.True(t, KindBlog.Valid())
	assert.True(t, KindVideo.Valid())
	assert.False(t, KindVoiceover.Valid(), "voiceover is metered but not a requestable generation format")
	assert.False(t, ContentKind("powerpoint").Valid())
}

func TestKindListScanAndContains(t *testing.T) {
	var l KindList
	assert.NoError(t, l.Scan([]byte(`["blog","audio"]`)))
	assert.True(t, l.Contains(KindBlog))
	assert.True(t, l.Contains(KindAudio))
	assert.False(t, l.Contains(KindSocial))

	assert.NoError(t, l.Scan(nil))
	assert.Empty(t, l)
}
