package models

import "time"

// BillingEvent is an audit row for a billing-provider webhook delivery.
// ProviderEventID is globally unique, which enforces at-most-once webhook
// processing. On org hard delete the org_id is nulled but the row remains.
type BillingEvent struct {
	ID              string    `db:"id" json:"id"`
	Provider        string    `db:"provider" json:"provider"`
	EventType       string    `db:"event_type" json:"event_type"`
	ProviderEventID string    `db:"provider_event_id" json:"provider_event_id"`
	PayloadJSON     JSONMap   `db:"payload_json" json:"payload_json"`
	OrgID           *string   `db:"org_id" json:"org_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// AuditLog is an append-only record of a sensitive action. IP and user agent
// are one-way hashed before write.
type AuditLog struct {
	ID            string    `db:"id" json:"id"`
	ActionType    string    `db:"action_type" json:"action_type"`
	ActorUserID   *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	TargetUserID  *string   `db:"target_user_id" json:"target_user_id,omitempty"`
	IPHash        string    `db:"ip_hash" json:"ip_hash"`
	UserAgentHash string    `db:"user_agent_hash" json:"user_agent_hash"`
	Details       JSONMap   `db:"details_json" json:"details,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// RetentionNotification is the idempotency record for expiration warnings.
// Uniqueness on (user_id, artifact_id, notification_date) prevents duplicate
// emails per day.
type RetentionNotification struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	ArtifactID       string     `db:"artifact_id" json:"artifact_id"`
	NotificationDate time.Time  `db:"notification_date" json:"notification_date"`
	ExpirationDate   time.Time  `db:"expiration_date" json:"expiration_date"`
	EmailSent        bool       `db:"email_sent" json:"email_sent"`
	EmailSentAt      *time.Time `db:"email_sent_at" json:"email_sent_at,omitempty"`
	EmailFailed      bool       `db:"email_failed" json:"email_failed"`
	FailureReason    *string    `db:"failure_reason" json:"failure_reason,omitempty"`
}
