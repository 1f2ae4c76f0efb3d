package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// OrgService manages the tenant triad: organizations, memberships and the
// lazy-bootstrap path for users without an org.
type OrgService struct {
	db *sqlx.DB
}

// NewOrgService creates an OrgService.
func NewOrgService(db *sqlx.DB) *OrgService {
	return &OrgService{db: db}
}

// EnsureOrgForUser returns the user's primary org, creating one (with the
// user as owner) when none exists. Every billable action is attributed to
// an org, so submission paths call this first.
func (s *OrgService) EnsureOrgForUser(ctx context.Context, user *models.User) (string, error) {
	var orgID string
	err := database.WithRetry(ctx, "find_org", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &orgID, `
			SELECT org_id FROM memberships WHERE user_id = $1
			ORDER BY created_at LIMIT 1`, user.ID)
	})
	if err == nil {
		return orgID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	orgID = uuid.New().String()
	err = database.WithRetry(ctx, "create_org", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, owner_user_id, created_at)
			VALUES ($1, $2, $3, now())`,
			orgID, user.Email+"'s workspace", user.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memberships (id, user_id, org_id, role, created_at)
			VALUES ($1, $2, $3, 'owner', now())`,
			uuid.New().String(), user.ID, orgID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return orgID, nil
}

// transferOwnership repoints an org's owner to a remaining admin (preferred)
// or member, promoting their membership. It returns false when no other
// member exists, in which case the caller deletes the org. Runs inside the
// caller's transaction.
func transferOwnership(ctx context.Context, tx *sqlx.Tx, orgID, departingUserID string) (bool, error) {
	var successor struct {
		ID     string `db:"id"`
		UserID string `db:"user_id"`
	}
	err := tx.GetContext(ctx, &successor, `
		SELECT id, user_id FROM memberships
		WHERE org_id = $1 AND user_id <> $2
		ORDER BY CASE role WHEN 'admin' THEN 0 ELSE 1 END, created_at
		LIMIT 1`, orgID, departingUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE memberships SET role = 'owner' WHERE id = $1`, successor.ID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE organizations SET owner_user_id = $1 WHERE id = $2`, successor.UserID, orgID); err != nil {
		return false, err
	}
	return true, nil
}
