package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/contentforge/contentforge/pkg/models"
)

// HMACBillingGateway verifies webhook signatures with a per-provider shared
// secret and decodes the normalized payload our billing edge emits.
type HMACBillingGateway struct {
	secrets map[string]string
}

// NewHMACBillingGatewayFromEnv reads WEBHOOK_SECRET_STRIPE and
// WEBHOOK_SECRET_PAYSTACK.
func NewHMACBillingGatewayFromEnv() *HMACBillingGateway {
	return &HMACBillingGateway{secrets: map[string]string{
		"stripe":   os.Getenv("WEBHOOK_SECRET_STRIPE"),
		"paystack": os.Getenv("WEBHOOK_SECRET_PAYSTACK"),
	}}
}

// VerifyWebhookSignature implements BillingGateway.
func (g *HMACBillingGateway) VerifyWebhookSignature(provider string, body []byte, signature string) error {
	secret := g.secrets[strings.ToLower(provider)]
	if secret == "" {
		return fmt.Errorf("no webhook secret configured for provider %q", provider)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256="))) {
		return ErrBadSignature
	}
	return nil
}

// ParseEvent implements BillingGateway.
func (g *HMACBillingGateway) ParseEvent(provider string, body []byte) (*WebhookEvent, error) {
	var decoded struct {
		EventType      string         `json:"event_type"`
		EventID        string         `json:"event_id"`
		SubscriptionID string         `json:"subscription_id"`
		OrgID          string         `json:"org_id"`
		Plan           string         `json:"plan"`
		PeriodEnd      *time.Time     `json:"current_period_end"`
		Data           map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if decoded.EventID == "" || decoded.EventType == "" {
		return nil, fmt.Errorf("webhook payload missing event_id or event_type")
	}
	return &WebhookEvent{
		Provider:               strings.ToLower(provider),
		EventType:              decoded.EventType,
		ProviderEventID:        decoded.EventID,
		ProviderSubscriptionID: decoded.SubscriptionID,
		OrgID:                  decoded.OrgID,
		Plan:                   models.PlanName(decoded.Plan),
		CurrentPeriodEnd:       decoded.PeriodEnd,
		Payload:                decoded.Data,
	}, nil
}

var _ BillingGateway = (*HMACBillingGateway)(nil)
