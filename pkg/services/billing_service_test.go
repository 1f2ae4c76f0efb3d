package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/providers"
)

func activationEvent() *providers.WebhookEvent {
	return &providers.WebhookEvent{
		Provider:        "stripe",
		EventType:       "subscription.activated",
		ProviderEventID: "evt_1",
		OrgID:           "org-1",
		Plan:            models.PlanPro,
	}
}

func TestHandleWebhookAppliesActivation(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewBillingService(db)

	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE subscriptions SET status = 'cancelled'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	processed, err := svc.HandleWebhook(context.Background(), activationEvent())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookIgnoresDuplicateDelivery(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewBillingService(db)

	// ON CONFLICT (provider_event_id) DO NOTHING affects zero rows on replay.
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	processed, err := svc.HandleWebhook(context.Background(), activationEvent())
	require.NoError(t, err)
	assert.False(t, processed, "a replayed delivery applies no transition")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookCancellation(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewBillingService(db)

	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE subscriptions SET status = 'cancelled'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	evt := activationEvent()
	evt.EventType = "subscription.cancelled"
	processed, err := svc.HandleWebhook(context.Background(), evt)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookAuditOnlyEvent(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewBillingService(db)

	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	evt := activationEvent()
	evt.EventType = "invoice.paid"
	processed, err := svc.HandleWebhook(context.Background(), evt)
	require.NoError(t, err)
	assert.True(t, processed, "unknown event types are recorded without a transition")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookActivationRequiresOrg(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewBillingService(db)

	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	evt := activationEvent()
	evt.OrgID = ""
	_, err := svc.HandleWebhook(context.Background(), evt)
	assert.Error(t, err)
}
