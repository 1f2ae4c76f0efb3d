// Package scheduler runs the periodic maintenance jobs: retention
// notifications, retention cleanup, session GC and the GDPR hard-delete
// sweep. Jobs run in singleton mode so a slow run is never overlapped by
// the next tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron/v2"

	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

const cleanupBatchSize = 500

// Scheduler wraps gocron and owns the four daily maintenance jobs.
type Scheduler struct {
	cron      gocron.Scheduler
	retention *services.RetentionService
	accounts  *services.AccountService
	email     providers.EmailProvider
	storage   storage.BlobStorage
	cfg       config.RetentionConfig
}

// New creates a Scheduler. Call Start to begin processing.
func New(retention *services.RetentionService, accounts *services.AccountService, email providers.EmailProvider, blobs storage.BlobStorage, cfg config.RetentionConfig) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		cron:      cron,
		retention: retention,
		accounts:  accounts,
		email:     email,
		storage:   blobs,
		cfg:       cfg,
	}, nil
}

// Start registers the daily jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"hard_delete_sweep", "0 2 * * *", s.RunHardDeleteSweep},
		{"session_gc", "0 3 * * *", s.RunSessionGC},
		{"retention_cleanup", "0 4 * * *", s.RunRetentionCleanup},
		{"retention_notifications", "0 10 * * *", s.RunRetentionNotifications},
	}
	for _, job := range jobs {
		job := job
		_, err := s.cron.NewJob(
			gocron.CronJob(job.schedule, false),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
				defer cancel()
				job.run(ctx)
			}),
			gocron.WithTags(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(jobs), "dry_run", s.cfg.DryRun)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	slog.Info("Scheduler stopped")
	return nil
}

// RunRetentionCleanup deletes artifacts past each org's tier retention
// window: blob first, then row, committed per artifact so a crash leaves a
// dangling row rather than an unreferenced blob. Unlimited-retention tiers
// are skipped.
func (s *Scheduler) RunRetentionCleanup(ctx context.Context) {
	orgs, err := s.retention.ListOrgs(ctx)
	if err != nil {
		slog.Error("Retention cleanup: failed to list orgs", "error", err)
		return
	}

	now := time.Now().UTC()
	var deleted, failed int
	for _, orgID := range orgs {
		plan, err := s.retention.ActivePlan(ctx, orgID)
		if err != nil {
			slog.Error("Retention cleanup: failed to resolve plan", "org_id", orgID, "error", err)
			continue
		}
		if plan.RetentionDays == config.RetentionUnlimited {
			continue
		}
		cutoff := now.AddDate(0, 0, -plan.RetentionDays)

		for {
			expired, err := s.retention.ListExpiredArtifacts(ctx, orgID, cutoff, cleanupBatchSize)
			if err != nil {
				slog.Error("Retention cleanup: failed to list expired artifacts", "org_id", orgID, "error", err)
				break
			}
			if len(expired) == 0 {
				break
			}
			for _, artifact := range expired {
				if s.cfg.DryRun {
					slog.Info("Retention cleanup (dry run): would delete artifact",
						"org_id", orgID, "artifact_id", artifact.ID, "type", artifact.Type,
						"created_at", artifact.CreatedAt)
					continue
				}
				if key := artifact.StorageKey(); key != "" {
					if _, err := s.storage.Delete(ctx, key); err != nil {
						slog.Warn("Retention cleanup: blob delete failed, keeping row",
							"artifact_id", artifact.ID, "storage_key", key, "error", err)
						failed++
						continue
					}
				}
				if err := s.retention.DeleteArtifact(ctx, artifact.ID); err != nil {
					slog.Error("Retention cleanup: row delete failed", "artifact_id", artifact.ID, "error", err)
					failed++
					continue
				}
				deleted++
			}
			if s.cfg.DryRun || len(expired) < cleanupBatchSize {
				break
			}
		}
	}
	slog.Info("Retention cleanup finished", "deleted", deleted, "failed", failed, "dry_run", s.cfg.DryRun)
}

// RunRetentionNotifications sends each affected user one daily summary of
// artifacts expiring within the warning window. The notification table's
// uniqueness makes the claim per (user, artifact, day) at-most-once.
func (s *Scheduler) RunRetentionNotifications(ctx context.Context) {
	if !s.cfg.NotifyEnabled {
		return
	}
	orgs, err := s.retention.ListOrgs(ctx)
	if err != nil {
		slog.Error("Retention notifications: failed to list orgs", "error", err)
		return
	}

	now := time.Now().UTC()
	var sent int
	for _, orgID := range orgs {
		plan, err := s.retention.ActivePlan(ctx, orgID)
		if err != nil {
			slog.Error("Retention notifications: failed to resolve plan", "org_id", orgID, "error", err)
			continue
		}
		if plan.RetentionDays == config.RetentionUnlimited {
			continue
		}

		expiring, err := s.retention.ListExpiringSoon(ctx, orgID, plan.RetentionDays,
			s.cfg.NotifyDaysBefore, s.cfg.NotifyBatchSize, now)
		if err != nil {
			slog.Error("Retention notifications: failed to list expiring artifacts", "org_id", orgID, "error", err)
			continue
		}

		type pending struct {
			email           string
			notificationIDs []string
			artifacts       []*services.ExpiredArtifact
		}
		byUser := make(map[string]*pending)
		for _, artifact := range expiring {
			if s.cfg.DryRun {
				slog.Info("Retention notifications (dry run): would notify",
					"user_id", artifact.UserID, "artifact_id", artifact.ID,
					"expires_at", artifact.ExpiresAt)
				continue
			}
			id, claimed, err := s.retention.RecordNotification(ctx, artifact.UserID, artifact.ID, artifact.ExpiresAt, now)
			if err != nil {
				slog.Error("Retention notifications: failed to record claim",
					"user_id", artifact.UserID, "artifact_id", artifact.ID, "error", err)
				continue
			}
			if !claimed {
				continue
			}
			p := byUser[artifact.UserID]
			if p == nil {
				p = &pending{email: artifact.UserEmail}
				byUser[artifact.UserID] = p
			}
			p.notificationIDs = append(p.notificationIDs, id)
			p.artifacts = append(p.artifacts, artifact)
		}

		for userID, p := range byUser {
			err := s.email.Send(ctx, providers.EmailMessage{
				To:      p.email,
				Subject: "Your generated content is expiring soon",
				Body:    notificationBody(p.artifacts),
			})
			if err != nil {
				slog.Warn("Retention notifications: email delivery failed", "user_id", userID, "error", err)
				for _, id := range p.notificationIDs {
					if markErr := s.retention.MarkNotificationFailed(ctx, id, err.Error()); markErr != nil {
						slog.Error("Failed to record notification failure", "notification_id", id, "error", markErr)
					}
				}
				continue
			}
			for _, id := range p.notificationIDs {
				if markErr := s.retention.MarkNotificationSent(ctx, id); markErr != nil {
					slog.Error("Failed to record notification delivery", "notification_id", id, "error", markErr)
				}
			}
			sent++
		}
	}
	slog.Info("Retention notifications finished", "emails_sent", sent, "dry_run", s.cfg.DryRun)
}

// RunSessionGC deletes stale auth sessions.
func (s *Scheduler) RunSessionGC(ctx context.Context) {
	deleted, err := s.retention.DeleteExpiredSessions(ctx, s.cfg.SessionMaxAge, time.Now().UTC())
	if err != nil {
		slog.Error("Session GC failed", "error", err)
		return
	}
	slog.Info("Session GC finished", "deleted", deleted)
}

// RunHardDeleteSweep permanently removes accounts whose soft-delete grace
// period has elapsed. Each user is retried up to 3 times with exponential
// backoff before being left for the next daily run.
func (s *Scheduler) RunHardDeleteSweep(ctx context.Context) {
	candidates, err := s.accounts.ListHardDeleteCandidates(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Hard-delete sweep: failed to list candidates", "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	var deleted int
	for _, user := range candidates {
		if s.cfg.DryRun {
			slog.Info("Hard-delete sweep (dry run): would delete user",
				"user_id", user.ID, "deleted_at", user.DeletedAt)
			continue
		}

		user := user
		op := func() error {
			keys, err := s.accounts.HardDeleteUser(ctx, user.ID)
			if err != nil {
				return err
			}
			for _, key := range keys {
				if _, err := s.storage.Delete(ctx, key); err != nil {
					// Rows are already gone; an orphaned blob is preferable
					// to failing the deletion.
					slog.Warn("Hard-delete sweep: orphaned blob left behind", "storage_key", key, "error", err)
				}
			}
			return nil
		}

		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
			slog.Error("Hard-delete sweep: user deletion failed", "user_id", user.ID, "error", err)
			continue
		}
		deleted++
	}
	slog.Info("Hard-delete sweep finished", "candidates", len(candidates), "deleted", deleted, "dry_run", s.cfg.DryRun)
}

func notificationBody(artifacts []*services.ExpiredArtifact) string {
	body := "The following generated content will expire soon:\n\n"
	for _, a := range artifacts {
		body += fmt.Sprintf("- %s created %s, expires %s\n",
			a.Type, a.CreatedAt.Format("2006-01-02"), a.ExpiresAt.Format("2006-01-02"))
	}
	body += "\nDownload anything you want to keep before the expiration date."
	return body
}
