package models

import "time"

// MembershipRole is a user's role within an organization.
type MembershipRole string

// Membership roles.
const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// User is an authenticated account. Authentication itself lives outside the
// core; handlers receive a resolved User. DeletedAt marks soft deletion and
// is observed by the hard-delete sweep after the grace window.
type User struct {
	ID        string     `db:"id" json:"id"`
	Email     string     `db:"email" json:"email"`
	IsAdmin   bool       `db:"is_admin" json:"is_admin"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Organization is the billable tenant. OwnerUserID is a denormalized pointer
// for fast lookup; the Membership rows own the user↔org relationship.
type Organization struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	OwnerUserID *string   `db:"owner_user_id" json:"owner_user_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Membership links a user to an organization with a role.
type Membership struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	OrgID     string         `db:"org_id" json:"org_id"`
	Role      MembershipRole `db:"role" json:"role"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// SubscriptionStatus is the provider-facing state of a subscription.
type SubscriptionStatus string

// Subscription statuses. At most one active subscription exists per org.
const (
	SubStatusActive              SubscriptionStatus = "active"
	SubStatusCancelled           SubscriptionStatus = "cancelled"
	SubStatusPastDue             SubscriptionStatus = "past_due"
	SubStatusExpired             SubscriptionStatus = "expired"
	SubStatusPendingVerification SubscriptionStatus = "pending_verification"
)

// PlanName is a subscription tier.
type PlanName string

// Subscription tiers.
const (
	PlanFree       PlanName = "free"
	PlanBasic      PlanName = "basic"
	PlanPro        PlanName = "pro"
	PlanEnterprise PlanName = "enterprise"
)

// Subscription records an org's plan with its billing provider linkage.
type Subscription struct {
	ID                     string             `db:"id" json:"id"`
	OrgID                  string             `db:"org_id" json:"org_id"`
	Plan                   PlanName           `db:"plan" json:"plan"`
	Status                 SubscriptionStatus `db:"status" json:"status"`
	Provider               string             `db:"provider" json:"provider"`
	ProviderSubscriptionID *string            `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`
	CurrentPeriodEnd       *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt              time.Time          `db:"created_at" json:"created_at"`
}

// Session is a server-side auth session row. The core only touches these in
// the daily GC sweep; issuance belongs to the auth layer.
type Session struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}
