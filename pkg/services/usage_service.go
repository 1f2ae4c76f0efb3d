package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// usageColumns whitelists the counter column per content kind. Increment
// builds SQL from this map only, never from caller input.
var usageColumns = map[models.ContentKind]string{
	models.KindBlog:        "blog_count",
	models.KindSocial:      "social_count",
	models.KindAudio:       "audio_count",
	models.KindVideo:       "video_count",
	models.KindVoiceover:   "voiceover_count",
	models.KindVideoRender: "video_render_count",
}

// UsageService maintains the per-org per-month billable counters.
type UsageService struct {
	db *sqlx.DB
}

// NewUsageService creates a UsageService.
func NewUsageService(db *sqlx.DB) *UsageService {
	return &UsageService{db: db}
}

// Get returns the counter row for (org, period). A missing row reads as all
// zeroes.
func (s *UsageService) Get(ctx context.Context, orgID, periodMonth string) (*models.UsageCounter, error) {
	var counter models.UsageCounter
	err := database.WithRetry(ctx, "get_usage", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &counter, `
			SELECT org_id, period_month, blog_count, social_count, audio_count,
			       video_count, voiceover_count, video_render_count, updated_at
			FROM usage_counters WHERE org_id = $1 AND period_month = $2`,
			orgID, periodMonth)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UsageCounter{OrgID: orgID, PeriodMonth: periodMonth}, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// Increment atomically adds 1 to the kind's counter for the current month.
// The composite primary key (org_id, period_month) serializes concurrent
// callers at the database; counters only ever increase within a month.
// Called after successful artifact persistence, never at submission time.
func (s *UsageService) Increment(ctx context.Context, orgID string, kind models.ContentKind) error {
	column, ok := usageColumns[kind]
	if !ok {
		return fmt.Errorf("unknown content kind %q", kind)
	}
	period := models.PeriodMonth(time.Now())

	query := fmt.Sprintf(`
		INSERT INTO usage_counters (org_id, period_month, %[1]s, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (org_id, period_month)
		DO UPDATE SET %[1]s = usage_counters.%[1]s + 1, updated_at = now()`, column)

	return database.WithRetry(ctx, "increment_usage", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, orgID, period)
		return err
	})
}
