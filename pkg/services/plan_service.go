package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// PlanService resolves subscription tiers and gates quota-bearing
// operations. The tier table itself is configuration; this service only
// looks tiers up and applies them.
type PlanService struct {
	db    *sqlx.DB
	plans config.PlanTable
	usage *UsageService
}

// NewPlanService creates a PlanService.
func NewPlanService(db *sqlx.DB, plans config.PlanTable, usage *UsageService) *PlanService {
	return &PlanService{db: db, plans: plans, usage: usage}
}

// PlanOf resolves the tier for a user within an org: admin users get pro
// regardless of subscription, else the org's active subscription, else free.
func (s *PlanService) PlanOf(ctx context.Context, user *models.User, orgID string) (*config.Plan, error) {
	if user.IsAdmin {
		return s.plans.Get(models.PlanPro), nil
	}

	var plan models.PlanName
	err := database.WithRetry(ctx, "plan_of", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &plan,
			`SELECT plan FROM subscriptions WHERE org_id = $1 AND status = 'active'`, orgID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return s.plans.Get(models.PlanFree), nil
	}
	if err != nil {
		return nil, err
	}
	return s.plans.Get(plan), nil
}

// ModelFor returns the model to use for a user and content kind. A per-user
// per-kind preference beats the tier default.
func (s *PlanService) ModelFor(ctx context.Context, user *models.User, plan *config.Plan, kind models.ContentKind) (string, error) {
	var model string
	err := database.WithRetry(ctx, "model_for", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &model,
			`SELECT model_name FROM user_model_prefs WHERE user_id = $1 AND content_kind = $2`,
			user.ID, kind)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return plan.ModelName, nil
	}
	if err != nil {
		return "", err
	}
	return model, nil
}

// CheckMonthlyLimit verifies the tier's monthly cap for a kind. Read-only:
// the check passing does not reserve quota — increments happen only after
// successful artifact persistence, so failed generations never consume
// quota. The small race where concurrent checks both pass is accepted.
func (s *PlanService) CheckMonthlyLimit(ctx context.Context, plan *config.Plan, orgID string, kind models.ContentKind) error {
	limit := plan.Limit(kind)
	if limit == config.Unlimited {
		return nil
	}
	if limit == config.Forbidden {
		return &PlanLimitError{Kind: kind, Used: 0, Limit: 0}
	}

	counter, err := s.usage.Get(ctx, orgID, models.PeriodMonth(time.Now()))
	if err != nil {
		return err
	}
	if used := counter.CountFor(kind); used >= limit {
		return &PlanLimitError{Kind: kind, Used: used, Limit: limit}
	}
	return nil
}
