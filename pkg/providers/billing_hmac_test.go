package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/models"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestGateway() *HMACBillingGateway {
	return &HMACBillingGateway{secrets: map[string]string{"stripe": "s3cret"}}
}

func TestVerifyWebhookSignature(t *testing.T) {
	g := newTestGateway()
	body := []byte(`{"event_id":"evt_1"}`)

	assert.NoError(t, g.VerifyWebhookSignature("stripe", body, sign("s3cret", body)))
	assert.NoError(t, g.VerifyWebhookSignature("Stripe", body, "sha256="+sign("s3cret", body)),
		"provider names are case-insensitive and the sha256= prefix is optional")

	assert.ErrorIs(t, g.VerifyWebhookSignature("stripe", body, sign("wrong", body)), ErrBadSignature)
	assert.ErrorIs(t, g.VerifyWebhookSignature("stripe", []byte(`tampered`), sign("s3cret", body)), ErrBadSignature)
	assert.Error(t, g.VerifyWebhookSignature("paystack", body, sign("s3cret", body)),
		"providers without a configured secret are rejected")
}

func TestParseEvent(t *testing.T) {
	g := newTestGateway()
	body := []byte(`{
		"event_type": "subscription.activated",
		"event_id": "evt_42",
		"subscription_id": "sub_9",
		"org_id": "org-1",
		"plan": "pro",
		"current_period_end": "2026-09-25T00:00:00Z",
		"data": {"source": "checkout"}
	}`)

	evt, err := g.ParseEvent("Stripe", body)
	require.NoError(t, err)
	assert.Equal(t, "stripe", evt.Provider)
	assert.Equal(t, "subscription.activated", evt.EventType)
	assert.Equal(t, "evt_42", evt.ProviderEventID)
	assert.Equal(t, "sub_9", evt.ProviderSubscriptionID)
	assert.Equal(t, "org-1", evt.OrgID)
	assert.Equal(t, models.PlanPro, evt.Plan)
	require.NotNil(t, evt.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC), evt.CurrentPeriodEnd.UTC())
	assert.Equal(t, "checkout", evt.Payload["source"])
}

func TestParseEventRejectsIncompletePayload(t *testing.T) {
	g := newTestGateway()

	_, err := g.ParseEvent("stripe", []byte(`{"event_type": "subscription.activated"}`))
	assert.Error(t, err, "missing event_id")

	_, err = g.ParseEvent("stripe", []byte(`not json`))
	assert.Error(t, err)
}
