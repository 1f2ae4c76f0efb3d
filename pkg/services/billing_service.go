package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/providers"
)

// BillingService records webhook deliveries and applies subscription
// transitions. Provider event IDs are globally unique, so replayed
// deliveries are processed at most once.
type BillingService struct {
	db *sqlx.DB
}

// NewBillingService creates a BillingService.
func NewBillingService(db *sqlx.DB) *BillingService {
	return &BillingService{db: db}
}

// HandleWebhook persists the event as an audit row and, on first delivery,
// applies the subscription transition it describes. The bool reports
// whether this delivery was the first (and therefore processed).
func (s *BillingService) HandleWebhook(ctx context.Context, evt *providers.WebhookEvent) (bool, error) {
	var inserted bool
	err := database.WithRetry(ctx, "record_billing_event", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO billing_events (id, provider, event_type, provider_event_id, payload_json, org_id, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now())
			ON CONFLICT (provider_event_id) DO NOTHING`,
			uuid.New().String(), evt.Provider, evt.EventType, evt.ProviderEventID,
			marshalPayload(evt.Payload), evt.OrgID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		slog.Info("Duplicate webhook delivery ignored",
			"provider", evt.Provider, "provider_event_id", evt.ProviderEventID)
		return false, nil
	}

	switch evt.EventType {
	case "subscription.activated", "subscription.updated":
		return true, s.activateSubscription(ctx, evt)
	case "subscription.cancelled":
		return true, s.cancelSubscription(ctx, evt)
	default:
		// Audit-only event types are recorded but carry no transition.
		return true, nil
	}
}

// activateSubscription installs a new active subscription, first cancelling
// any existing active one so the one-active-per-org invariant holds.
func (s *BillingService) activateSubscription(ctx context.Context, evt *providers.WebhookEvent) error {
	if evt.OrgID == "" {
		return fmt.Errorf("webhook %s has no org_id", evt.ProviderEventID)
	}
	return database.WithRetry(ctx, "activate_subscription", func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			UPDATE subscriptions SET status = 'cancelled'
			WHERE org_id = $1 AND status = 'active'`, evt.OrgID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (id, org_id, plan, status, provider, provider_subscription_id, current_period_end, created_at)
			VALUES ($1, $2, $3, 'active', $4, NULLIF($5, ''), $6, now())`,
			uuid.New().String(), evt.OrgID, evt.Plan, evt.Provider,
			evt.ProviderSubscriptionID, evt.CurrentPeriodEnd); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *BillingService) cancelSubscription(ctx context.Context, evt *providers.WebhookEvent) error {
	return database.WithRetry(ctx, "cancel_subscription", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE subscriptions SET status = 'cancelled'
			WHERE org_id = $1 AND status = 'active'`, evt.OrgID)
		return err
	})
}

func marshalPayload(payload map[string]any) []byte {
	if payload == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}")
	}
	return b
}
