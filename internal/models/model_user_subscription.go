package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/lumichat/billing/pkg/types"
)

// UserSubscription is the local subscription record: one logical row per
// account, upserted, never hard-deleted. The webhook processor writes it
// authoritatively; the reconciler refreshes it best-effort.
type UserSubscription struct {
	ID     string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string                   `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	PlanID string                   `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	// IsActive is tracked separately from Status: past_due keeps IsActive
	// true until the processor itself cancels (grace period semantics).
	IsActive                 bool    `gorm:"column:is_active;not null;default:false" json:"is_active"`
	ProcessorCustomerRef     *string `gorm:"column:processor_customer_ref;type:varchar(128)" json:"processor_customer_ref"`
	ProcessorSubscriptionRef *string `gorm:"column:processor_subscription_ref;type:varchar(128);index" json:"processor_subscription_ref"`
	PeriodStart              *time.Time `gorm:"column:period_start;default:null" json:"period_start"`
	PeriodEnd                *time.Time `gorm:"column:period_end;default:null" json:"period_end"`
	// EndDate is the hard cancellation boundary, set when the processor
	// deletes the subscription.
	EndDate   *time.Time     `gorm:"column:end_date;default:null" json:"end_date"`
	Extra     datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (UserSubscription) TableName() string { return "user_subscriptions" }

func (s *UserSubscription) SubscriptionRef() string {
	if s == nil || s.ProcessorSubscriptionRef == nil {
		return ""
	}
	return *s.ProcessorSubscriptionRef
}
