package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanTier is a subscription level governing duration and quota limits.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanBasic    PlanTier = "basic"
	PlanPremium  PlanTier = "premium"
	PlanBusiness PlanTier = "business"
)

const (
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"
)

// Subscription tracks a user's plan and the post budget left in the
// current billing cycle. RemainingPosts never goes below zero; the
// decrement happens only inside the atomic persist of a generated post.
type Subscription struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	UserID         uuid.UUID `db:"user_id"         json:"user_id"`
	Plan           PlanTier  `db:"plan"            json:"plan"`
	RemainingPosts int       `db:"remaining_posts" json:"remaining_posts"`
	Status         string    `db:"status"          json:"status"`
	CycleEndsAt    time.Time `db:"cycle_ends_at"   json:"cycle_ends_at"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}
