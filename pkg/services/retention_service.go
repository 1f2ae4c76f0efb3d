package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// RetentionService backs the scheduler: expired-artifact cleanup,
// expiry-warning notifications and session GC. Retention windows come from
// the org's tier, so every query here is org-scoped.
type RetentionService struct {
	db    *sqlx.DB
	plans config.PlanTable
}

// NewRetentionService creates a RetentionService.
func NewRetentionService(db *sqlx.DB, plans config.PlanTable) *RetentionService {
	return &RetentionService{db: db, plans: plans}
}

// ListOrgs returns all org ids. The scheduler iterates orgs so each one's
// tier-specific retention window is applied independently.
func (s *RetentionService) ListOrgs(ctx context.Context) ([]string, error) {
	var ids []string
	err := database.WithRetry(ctx, "list_orgs", func(ctx context.Context) error {
		ids = ids[:0]
		return s.db.SelectContext(ctx, &ids, `SELECT id FROM organizations ORDER BY id`)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ActivePlan resolves an org's tier from its active subscription, defaulting
// to free.
func (s *RetentionService) ActivePlan(ctx context.Context, orgID string) (*config.Plan, error) {
	var plan models.PlanName
	err := database.WithRetry(ctx, "active_plan", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &plan,
			`SELECT plan FROM subscriptions WHERE org_id = $1 AND status = 'active'`, orgID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return s.plans.Get(models.PlanFree), nil
	}
	if err != nil {
		return nil, err
	}
	return s.plans.Get(plan), nil
}

// ExpiredArtifact pairs an artifact with the user who owns its job, for
// cleanup and notification targeting.
type ExpiredArtifact struct {
	models.Artifact
	UserID    string    `db:"user_id"`
	UserEmail string    `db:"user_email"`
	ExpiresAt time.Time `db:"expires_at"`
}

const expiredArtifactColumns = `
	a.id, a.job_id, a.type, a.content_text, a.content_json,
	a.prompt_version, a.model_used, a.moderation_status, a.created_at,
	j.user_id AS user_id, u.email AS user_email`

// ListExpiredArtifacts returns an org's artifacts older than the cutoff.
func (s *RetentionService) ListExpiredArtifacts(ctx context.Context, orgID string, cutoff time.Time, limit int) ([]*ExpiredArtifact, error) {
	var out []*ExpiredArtifact
	err := database.WithRetry(ctx, "list_expired_artifacts", func(ctx context.Context) error {
		out = out[:0]
		return s.db.SelectContext(ctx, &out, `
			SELECT `+expiredArtifactColumns+`, a.created_at AS expires_at
			FROM artifacts a
			JOIN jobs j ON j.id = a.job_id
			JOIN users u ON u.id = j.user_id
			WHERE j.org_id = $1 AND a.created_at < $2
			ORDER BY a.created_at
			LIMIT $3`, orgID, cutoff, limit)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListExpiringSoon returns an org's artifacts that will cross the retention
// cutoff within the warning window, so owners can be notified before
// deletion. retentionDays defines the window; warnDays how far ahead to look.
func (s *RetentionService) ListExpiringSoon(ctx context.Context, orgID string, retentionDays, warnDays, limit int, now time.Time) ([]*ExpiredArtifact, error) {
	// Artifacts created in (cutoff, cutoff+warnDays] expire within the
	// warning window.
	expiredCutoff := now.AddDate(0, 0, -retentionDays)
	warnCutoff := expiredCutoff.AddDate(0, 0, warnDays)

	var out []*ExpiredArtifact
	err := database.WithRetry(ctx, "list_expiring_soon", func(ctx context.Context) error {
		out = out[:0]
		return s.db.SelectContext(ctx, &out, `
			SELECT `+expiredArtifactColumns+`,
			       a.created_at + make_interval(days => $4) AS expires_at
			FROM artifacts a
			JOIN jobs j ON j.id = a.job_id
			JOIN users u ON u.id = j.user_id
			WHERE j.org_id = $1
			  AND a.created_at >= $2 AND a.created_at < $3
			  AND u.is_active = TRUE
			ORDER BY a.created_at
			LIMIT $5`, orgID, expiredCutoff, warnCutoff, retentionDays, limit)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordNotification claims today's notification slot for (user, artifact).
// The unique constraint makes the claim at-most-once per day; false means
// another run already claimed it.
func (s *RetentionService) RecordNotification(ctx context.Context, userID, artifactID string, expiresAt time.Time, today time.Time) (string, bool, error) {
	id := uuid.New().String()
	var claimed bool
	err := database.WithRetry(ctx, "record_notification", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO retention_notifications (id, user_id, artifact_id, notification_date, expiration_date)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, artifact_id, notification_date) DO NOTHING`,
			id, userID, artifactID, today.Format("2006-01-02"), expiresAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n > 0
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, claimed, nil
}

// MarkNotificationSent records a successful email delivery.
func (s *RetentionService) MarkNotificationSent(ctx context.Context, notificationID string) error {
	return database.WithRetry(ctx, "mark_notification_sent", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE retention_notifications
			SET email_sent = TRUE, email_sent_at = now()
			WHERE id = $1`, notificationID)
		return err
	})
}

// MarkNotificationFailed records a delivery failure with its reason. The
// claim row stays, so the same artifact is not retried until the next day.
func (s *RetentionService) MarkNotificationFailed(ctx context.Context, notificationID, reason string) error {
	return database.WithRetry(ctx, "mark_notification_failed", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE retention_notifications
			SET email_failed = TRUE, failure_reason = $2
			WHERE id = $1`, notificationID, reason)
		return err
	})
}

// DeleteArtifact removes one artifact row. Cleanup deletes the blob first,
// then the row, so a crash leaves a row pointing at a missing blob rather
// than an unreferenced blob.
func (s *RetentionService) DeleteArtifact(ctx context.Context, artifactID string) error {
	return database.WithRetry(ctx, "delete_artifact", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, artifactID)
		return err
	})
}

// DeleteExpiredSessions removes sessions past their expiry or older than
// maxAge, returning how many were removed.
func (s *RetentionService) DeleteExpiredSessions(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error) {
	var deleted int64
	err := database.WithRetry(ctx, "delete_expired_sessions", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE expires_at < $1 OR created_at < $2`,
			now, now.Add(-maxAge))
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
