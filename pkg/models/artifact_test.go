package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactTypeUniquePerJob(t *testing.T) {
	assert.True(t, ArtifactBlog.UniquePerJob())
	assert.True(t, ArtifactVoiceoverAudio.UniquePerJob())
	assert.True(t, ArtifactFinalVideo.UniquePerJob())
	assert.False(t, ArtifactStoryboardImage.UniquePerJob())
	assert.False(t, ArtifactVideoClip.UniquePerJob())
}

func TestArtifactStorageKey(t *testing.T) {
	a := &Artifact{ContentJSON: JSONMap{"storage_key": "jobs/j1/audio.mp3", "url": "/files/jobs/j1/audio.mp3"}}
	assert.Equal(t, "jobs/j1/audio.mp3", a.StorageKey())

	assert.Empty(t, (&Artifact{}).StorageKey())
	assert.Empty(t, (&Artifact{ContentJSON: JSONMap{"storage_key": 42}}).StorageKey())
}

func TestArtifactText(t *testing.T) {
	text := "hello"
	assert.Equal(t, "hello", (&Artifact{ContentText: &text}).Text())
	assert.Empty(t, (&Artifact{}).Text())
}
