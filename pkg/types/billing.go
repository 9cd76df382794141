package types

import "time"

// Well-known plan ids. "admin" is a synthetic plan that is never sold
// through checkout; "free" is the default for accounts without a paid plan.
const (
	PlanFree         = "free"
	PlanAdmin        = "admin"
	PlanBasic        = "basic"
	PlanIntermediate = "intermediate"
	PlanPremium      = "premium"
)

type SubscriptionStatus string

const (
	SubscriptionStatusFree     SubscriptionStatus = "free"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusError    SubscriptionStatus = "error"
)

// Feature is a plan capability label.
type Feature string

const (
	FeatureAudio Feature = "audio"
	FeatureVoice Feature = "voice"
	FeatureVideo Feature = "video"
)

type ItemType string

const (
	ItemTypePlan ItemType = "plan"
	ItemTypeGift ItemType = "gift"
)

// PlanInfo is the reconciled answer to "what plan does this account hold".
// Degraded marks answers built from cached or fallback state after a remote
// failure, so callers can tell authoritative from stale results.
type PlanInfo struct {
	PlanID    string             `json:"plan_id"`
	IsActive  bool               `json:"is_active"`
	Status    SubscriptionStatus `json:"status"`
	PeriodEnd *time.Time         `json:"period_end"`
	Degraded  bool               `json:"degraded"`
}

// Identity is the authenticated caller, as extracted from the bearer token.
type Identity struct {
	UserID string
	Email  string
}
