package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// AuditService appends privacy-sensitive action records. Client IP and
// user agent are stored hashed; the raw values never reach the database.
type AuditService struct {
	db *sqlx.DB
}

// NewAuditService creates an AuditService.
func NewAuditService(db *sqlx.DB) *AuditService {
	return &AuditService{db: db}
}

// AuditEntry is one action to record.
type AuditEntry struct {
	ActionType   string
	ActorUserID  string
	TargetUserID string
	ClientIP     string
	UserAgent    string
	Details      models.JSONMap
}

// Record appends an audit row. Audit writes are best-effort: failures are
// logged and swallowed so they never fail the action being audited.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	err := database.WithRetry(ctx, "record_audit", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_logs (id, action_type, actor_user_id, target_user_id, ip_hash, user_agent_hash, details_json, created_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, now())`,
			uuid.New().String(), entry.ActionType, entry.ActorUserID, entry.TargetUserID,
			hashValue(entry.ClientIP), hashValue(entry.UserAgent), entry.Details)
		return err
	})
	if err != nil {
		slog.Error("Failed to record audit log",
			"action_type", entry.ActionType, "error", err)
	}
}

func hashValue(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
