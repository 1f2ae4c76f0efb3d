package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ArtifactType identifies what a persisted artifact holds.
type ArtifactType string

// Artifact types. The primary content kinds are unique per (job, type);
// media types (storyboard images, clips) may repeat within a job.
const (
	ArtifactBlog            ArtifactType = "blog"
	ArtifactSocial          ArtifactType = "social"
	ArtifactAudio           ArtifactType = "audio"
	ArtifactVideo           ArtifactType = "video"
	ArtifactVoiceoverAudio  ArtifactType = "voiceover_audio"
	ArtifactStoryboardImage ArtifactType = "storyboard_image"
	ArtifactVideoClip       ArtifactType = "video_clip"
	ArtifactFinalVideo      ArtifactType = "final_video"
)

// UniquePerJob reports whether at most one artifact of this type may exist per job.
func (t ArtifactType) UniquePerJob() bool {
	switch t {
	case ArtifactStoryboardImage, ArtifactVideoClip:
		return false
	}
	return true
}

// JSONMap is a JSONB column decoded into a generic map.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = nil
		return nil
	}
	return fmt.Errorf("cannot scan %T into JSONMap", src)
}

// Artifact is a persisted output of a generation step. Media artifacts carry
// a storage_key inside ContentJSON pointing into blob storage.
type Artifact struct {
	ID            string       `db:"id" json:"id"`
	JobID         string       `db:"job_id" json:"job_id"`
	Type          ArtifactType `db:"type" json:"type"`
	ContentText   *string      `db:"content_text" json:"content_text,omitempty"`
	ContentJSON   JSONMap      `db:"content_json" json:"content_json,omitempty"`
	PromptVersion *string      `db:"prompt_version" json:"prompt_version,omitempty"`
	ModelUsed     *string      `db:"model_used" json:"model_used,omitempty"`
	Moderation    *string      `db:"moderation_status" json:"moderation_status,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// StorageKey returns the blob key carried in ContentJSON, if any.
func (a *Artifact) StorageKey() string {
	if a.ContentJSON == nil {
		return ""
	}
	if k, ok := a.ContentJSON["storage_key"].(string); ok {
		return k
	}
	return ""
}

// Text returns the artifact's content text, or "" when absent.
func (a *Artifact) Text() string {
	if a.ContentText == nil {
		return ""
	}
	return *a.ContentText
}
