package models

import "time"

// UsageCounter tracks per-org per-month billable counts. Unique on
// (org_id, period_month); counters only ever increase within a month, and a
// missing row reads as all zeroes.
type UsageCounter struct {
	OrgID            string    `db:"org_id" json:"org_id"`
	PeriodMonth      string    `db:"period_month" json:"period_month"` // "YYYY-MM"
	BlogCount        int       `db:"blog_count" json:"blog_count"`
	SocialCount      int       `db:"social_count" json:"social_count"`
	AudioCount       int       `db:"audio_count" json:"audio_count"`
	VideoCount       int       `db:"video_count" json:"video_count"`
	VoiceoverCount   int       `db:"voiceover_count" json:"voiceover_count"`
	VideoRenderCount int       `db:"video_render_count" json:"video_render_count"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// CountFor returns the counter value for a content kind.
func (u *UsageCounter) CountFor(kind ContentKind) int {
	switch kind {
	case KindBlog:
		return u.BlogCount
	case KindSocial:
		return u.SocialCount
	case KindAudio:
		return u.AudioCount
	case KindVideo:
		return u.VideoCount
	case KindVoiceover:
		return u.VoiceoverCount
	case KindVideoRender:
		return u.VideoRenderCount
	}
	return 0
}

// PeriodMonth formats t as the usage-counter period key.
func PeriodMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}
