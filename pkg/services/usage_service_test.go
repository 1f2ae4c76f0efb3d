package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/models"
)

func TestUsageIncrementUsesWhitelistedColumn(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewUsageService(db)

	mock.ExpectExec("voiceover_count").
		WithArgs("org-1", models.PeriodMonth(time.Now())).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Increment(context.Background(), "org-1", models.KindVoiceover))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageIncrementRejectsUnknownKind(t *testing.T) {
	db, _ := newMockDB(t)
	svc := NewUsageService(db)

	err := svc.Increment(context.Background(), "org-1", models.ContentKind("powerpoint"))
	assert.Error(t, err)
}

func TestUsageGetMissingRowReadsAsZero(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewUsageService(db)

	mock.ExpectQuery("FROM usage_counters").
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}))

	counter, err := svc.Get(context.Background(), "org-1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "org-1", counter.OrgID)
	assert.Zero(t, counter.BlogCount)
	assert.Zero(t, counter.VoiceoverCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
