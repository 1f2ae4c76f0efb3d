package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

type recordingEmail struct {
	sent []providers.EmailMessage
}

func (r *recordingEmail) Send(_ context.Context, msg providers.EmailMessage) error {
	r.sent = append(r.sent, msg)
	return nil
}

func newTestScheduler(t *testing.T, cfg config.RetentionConfig) (*Scheduler, sqlmock.Sqlmock, *recordingEmail, *storage.LocalStorage) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")
	t.Cleanup(func() { _ = db.Close() })

	blobs, err := storage.NewLocalStorage(t.TempDir(), "/files")
	require.NoError(t, err)

	email := &recordingEmail{}
	s, err := New(
		services.NewRetentionService(db, config.DefaultPlanTable()),
		services.NewAccountService(db, 30),
		email, blobs, cfg)
	require.NoError(t, err)
	return s, mock, email, blobs
}

func TestRunSessionGC(t *testing.T) {
	s, mock, _, _ := newTestScheduler(t, config.RetentionConfig{SessionMaxAge: 7 * 24 * time.Hour})

	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 3))

	s.RunSessionGC(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRetentionCleanupSkipsUnlimitedTier(t *testing.T) {
	s, mock, _, _ := newTestScheduler(t, config.RetentionConfig{})

	mock.ExpectQuery("SELECT id FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org-1"))
	mock.ExpectQuery("SELECT plan FROM subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow("enterprise"))

	// No artifact queries follow for an unlimited-retention tier.
	s.RunRetentionCleanup(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRetentionCleanupDeletesBlobThenRow(t *testing.T) {
	s, mock, _, blobs := newTestScheduler(t, config.RetentionConfig{})
	ctx := context.Background()

	_, err := blobs.Put(ctx, "voiceover/old.mp3", []byte("stale"), "audio/mpeg")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org-1"))
	// No active subscription: the org resolves to free (30-day retention).
	mock.ExpectQuery("SELECT plan FROM subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan"}))
	mock.ExpectQuery("FROM artifacts a").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "type", "content_text", "content_json",
			"prompt_version", "model_used", "moderation_status", "created_at",
			"user_id", "user_email", "expires_at",
		}).AddRow(
			"art-1", "job-1", "voiceover_audio", nil, []byte(`{"storage_key":"voiceover/old.mp3"}`),
			nil, nil, nil, time.Now().AddDate(0, 0, -40),
			"user-1", "u@example.com", time.Now().AddDate(0, 0, -10)))
	mock.ExpectExec("DELETE FROM artifacts").
		WithArgs("art-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.RunRetentionCleanup(ctx)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = blobs.Get(ctx, "voiceover/old.mp3")
	assert.ErrorIs(t, err, storage.ErrNotFound, "the blob goes before the row")
}

func TestRunRetentionCleanupDryRunDeletesNothing(t *testing.T) {
	s, mock, _, blobs := newTestScheduler(t, config.RetentionConfig{DryRun: true})
	ctx := context.Background()

	_, err := blobs.Put(ctx, "voiceover/old.mp3", []byte("stale"), "audio/mpeg")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org-1"))
	mock.ExpectQuery("SELECT plan FROM subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan"}))
	mock.ExpectQuery("FROM artifacts a").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "type", "content_text", "content_json",
			"prompt_version", "model_used", "moderation_status", "created_at",
			"user_id", "user_email", "expires_at",
		}).AddRow(
			"art-1", "job-1", "blog", nil, []byte(`{"storage_key":"voiceover/old.mp3"}`),
			nil, nil, nil, time.Now().AddDate(0, 0, -40),
			"user-1", "u@example.com", time.Now().AddDate(0, 0, -10)))

	s.RunRetentionCleanup(ctx)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = blobs.Get(ctx, "voiceover/old.mp3")
	assert.NoError(t, err, "dry run leaves blobs in place")
}

func TestRunRetentionNotificationsOneSummaryPerUser(t *testing.T) {
	s, mock, email, _ := newTestScheduler(t, config.RetentionConfig{
		NotifyEnabled: true, NotifyDaysBefore: 7, NotifyBatchSize: 100,
	})

	mock.ExpectQuery("SELECT id FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org-1"))
	mock.ExpectQuery("SELECT plan FROM subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow("basic"))
	mock.ExpectQuery("FROM artifacts a").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "type", "content_text", "content_json",
			"prompt_version", "model_used", "moderation_status", "created_at",
			"user_id", "user_email", "expires_at",
		}).
			AddRow("art-1", "job-1", "blog", "text", nil, nil, nil, nil,
				time.Now().AddDate(0, 0, -85), "user-1", "u@example.com", time.Now().AddDate(0, 0, 5)).
			AddRow("art-2", "job-2", "social", "text", nil, nil, nil, nil,
				time.Now().AddDate(0, 0, -86), "user-1", "u@example.com", time.Now().AddDate(0, 0, 4)))
	mock.ExpectExec("INSERT INTO retention_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO retention_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE retention_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE retention_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.RunRetentionNotifications(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, email.sent, 1, "two artifacts, one summary email")
	assert.Equal(t, "u@example.com", email.sent[0].To)
	assert.Contains(t, email.sent[0].Body, "blog")
	assert.Contains(t, email.sent[0].Body, "social")
}

func TestRunRetentionNotificationsSkipsAlreadyClaimed(t *testing.T) {
	s, mock, email, _ := newTestScheduler(t, config.RetentionConfig{
		NotifyEnabled: true, NotifyDaysBefore: 7, NotifyBatchSize: 100,
	})

	mock.ExpectQuery("SELECT id FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org-1"))
	mock.ExpectQuery("SELECT plan FROM subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow("basic"))
	mock.ExpectQuery("FROM artifacts a").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "type", "content_text", "content_json",
			"prompt_version", "model_used", "moderation_status", "created_at",
			"user_id", "user_email", "expires_at",
		}).AddRow("art-1", "job-1", "blog", "text", nil, nil, nil, nil,
			time.Now().AddDate(0, 0, -85), "user-1", "u@example.com", time.Now().AddDate(0, 0, 5)))
	// Another run already claimed today's slot.
	mock.ExpectExec("INSERT INTO retention_notifications").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.RunRetentionNotifications(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, email.sent)
}

func TestRunRetentionNotificationsDisabled(t *testing.T) {
	s, mock, email, _ := newTestScheduler(t, config.RetentionConfig{NotifyEnabled: false})

	s.RunRetentionNotifications(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet(), "disabled notifications touch nothing")
	assert.Empty(t, email.sent)
}

func TestRunHardDeleteSweepDryRun(t *testing.T) {
	s, mock, _, _ := newTestScheduler(t, config.RetentionConfig{DryRun: true})

	deletedAt := time.Now().AddDate(0, 0, -40)
	mock.ExpectQuery("FROM users").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "is_admin", "is_active", "created_at", "deleted_at",
		}).AddRow("user-1", "u@example.com", false, false, time.Now().AddDate(0, -6, 0), deletedAt))

	s.RunHardDeleteSweep(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet(), "dry run lists candidates without deleting")
}

func TestNotificationBody(t *testing.T) {
	now := time.Now()
	body := notificationBody([]*services.ExpiredArtifact{
		{ExpiresAt: now.AddDate(0, 0, 3)},
	})
	assert.Contains(t, body, "expire")
	assert.Contains(t, body, now.AddDate(0, 0, 3).Format("2006-01-02"))
}
