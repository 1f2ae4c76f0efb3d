package providers

import (
	"errors"
	"time"

	"github.com/contentforge/contentforge/pkg/models"
)

// WebhookEvent is a parsed billing-provider webhook delivery.
type WebhookEvent struct {
	Provider               string
	EventType              string
	ProviderEventID        string
	ProviderSubscriptionID string
	OrgID                  string
	Plan                   models.PlanName
	CurrentPeriodEnd       *time.Time
	Payload                map[string]any
}

// BillingGateway verifies and parses provider webhooks. Parsing internals
// (Stripe/Paystack payload shapes) live behind this boundary.
type BillingGateway interface {
	VerifyWebhookSignature(provider string, body []byte, signature string) error
	ParseEvent(provider string, body []byte) (*WebhookEvent, error)
}

// ErrBadSignature is returned when webhook signature verification fails.
var ErrBadSignature = errors.New("webhook signature verification failed")
