package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// AccountService implements the two-phase account deletion flow: a
// reversible soft delete at request time, then a hard delete once the
// grace period elapses.
type AccountService struct {
	db        *sqlx.DB
	graceDays int
}

// NewAccountService creates an AccountService. graceDays is the window
// between soft and hard deletion.
func NewAccountService(db *sqlx.DB, graceDays int) *AccountService {
	return &AccountService{db: db, graceDays: graceDays}
}

// SoftDeleteUser deactivates the account and stamps deleted_at. The row and
// all owned data survive until the grace period elapses, so the user can
// still be restored by support.
func (s *AccountService) SoftDeleteUser(ctx context.Context, userID string) error {
	return database.WithRetry(ctx, "soft_delete_user", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET is_active = FALSE, deleted_at = now()
			WHERE id = $1 AND deleted_at IS NULL`, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RestoreUser reverses a soft delete that has not been hard-deleted yet.
func (s *AccountService) RestoreUser(ctx context.Context, userID string) error {
	return database.WithRetry(ctx, "restore_user", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET is_active = TRUE, deleted_at = NULL
			WHERE id = $1 AND deleted_at IS NOT NULL`, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListHardDeleteCandidates returns users whose grace period has elapsed.
func (s *AccountService) ListHardDeleteCandidates(ctx context.Context, now time.Time) ([]*models.User, error) {
	cutoff := now.AddDate(0, 0, -s.graceDays)
	var users []*models.User
	err := database.WithRetry(ctx, "list_delete_candidates", func(ctx context.Context) error {
		users = users[:0]
		return s.db.SelectContext(ctx, &users, `
			SELECT id, email, is_admin, is_active, created_at, deleted_at
			FROM users
			WHERE is_active = FALSE AND deleted_at IS NOT NULL AND deleted_at <= $1
			ORDER BY deleted_at`, cutoff)
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// HardDeleteUser permanently removes a user and everything they own. Orgs
// where the user is the sole member are deleted outright; orgs with other
// members have ownership transferred first. The returned keys identify blob
// objects orphaned by the row deletions; the caller removes them from
// storage afterwards, since blob deletion cannot join the transaction.
func (s *AccountService) HardDeleteUser(ctx context.Context, userID string) ([]string, error) {
	var storageKeys []string
	err := database.WithRetry(ctx, "hard_delete_user", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var ownedOrgs []string
		if err := tx.SelectContext(ctx, &ownedOrgs, `
			SELECT org_id FROM memberships WHERE user_id = $1 AND role = 'owner'`, userID); err != nil {
			return err
		}

		orgsToDelete := make([]string, 0, len(ownedOrgs))
		for _, orgID := range ownedOrgs {
			transferred, err := transferOwnership(ctx, tx, orgID, userID)
			if err != nil {
				return err
			}
			if !transferred {
				orgsToDelete = append(orgsToDelete, orgID)
			}
		}

		// Collect blob keys before the rows cascade away. The user's own
		// jobs plus every job in an org about to be deleted.
		keys, err := collectStorageKeys(ctx, tx, userID, orgsToDelete)
		if err != nil {
			return err
		}
		storageKeys = keys

		for _, orgID := range orgsToDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID); err != nil {
				return err
			}
		}
		// Cascades take memberships, sessions, model prefs, notifications,
		// jobs and artifacts with the user row.
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	slog.Info("User hard-deleted", "user_id", userID, "orphaned_blobs", len(storageKeys))
	return storageKeys, nil
}

func collectStorageKeys(ctx context.Context, tx *sqlx.Tx, userID string, orgIDs []string) ([]string, error) {
	var rows []models.JSONMap
	query := `
		SELECT a.content_json FROM artifacts a
		JOIN jobs j ON j.id = a.job_id
		WHERE a.content_json ? 'storage_key' AND j.user_id = $1`
	if err := tx.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	for _, orgID := range orgIDs {
		var orgRows []models.JSONMap
		if err := tx.SelectContext(ctx, &orgRows, `
			SELECT a.content_json FROM artifacts a
			JOIN jobs j ON j.id = a.job_id
			WHERE a.content_json ? 'storage_key' AND j.org_id = $1`, orgID); err != nil {
			return nil, err
		}
		rows = append(rows, orgRows...)
	}

	seen := make(map[string]struct{}, len(rows))
	keys := make([]string, 0, len(rows))
	for _, m := range rows {
		key, _ := m["storage_key"].(string)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// GetUser loads a user by id, including soft-deleted rows.
func (s *AccountService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := database.WithRetry(ctx, "get_user", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &user, `
			SELECT id, email, is_admin, is_active, created_at, deleted_at
			FROM users WHERE id = $1`, userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
