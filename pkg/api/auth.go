package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/models"
)

// SessionAuth resolves bearer session tokens against the sessions table.
type SessionAuth struct {
	db *sqlx.DB
}

// NewSessionAuth creates a session-backed AuthProvider.
func NewSessionAuth(db *sqlx.DB) *SessionAuth {
	return &SessionAuth{db: db}
}

var errNoToken = errors.New("missing bearer token")

// CurrentUser implements AuthProvider. Expired sessions are rejected here
// and reaped later by the daily GC.
func (a *SessionAuth) CurrentUser(ctx context.Context, r *http.Request) (*models.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errNoToken
	}

	var user models.User
	err := a.db.GetContext(ctx, &user, `
		SELECT u.id, u.email, u.is_admin, u.is_active, u.created_at, u.deleted_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.expires_at > now() AND u.deleted_at IS NULL`,
		token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid or expired session")
		}
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	return &user, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

var _ AuthProvider = (*SessionAuth)(nil)
