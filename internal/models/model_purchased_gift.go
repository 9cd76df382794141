package models

import "time"

// UserPurchasedGift is one row of the gift purchase ledger, append-only once
// written. The unique index on the processor payment ref makes duplicate
// webhook delivery a no-op instead of a double credit.
type UserPurchasedGift struct {
	ID             string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         string `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	GiftID         string `gorm:"column:gift_id;type:varchar(64);not null" json:"gift_id"`
	Quantity       int64  `gorm:"column:quantity;type:bigint;not null;default:1" json:"quantity"`
	PricePaidCents int64  `gorm:"column:price_paid_cents;type:bigint;not null" json:"price_paid_cents"`
	// ProcessorPaymentRef is the processor's payment id for the captured
	// charge. Idempotency key for webhook redelivery.
	ProcessorPaymentRef string `gorm:"column:processor_payment_ref;type:varchar(128);not null;uniqueIndex" json:"processor_payment_ref"`
	// UsedInChatMessageID is the only field mutated after creation.
	UsedInChatMessageID *string   `gorm:"column:used_in_chat_message_id;type:varchar(64)" json:"used_in_chat_message_id"`
	PurchasedAt         time.Time `gorm:"column:purchased_at;not null" json:"purchased_at"`
	CreatedAt           time.Time `json:"created_at"`
}

func (UserPurchasedGift) TableName() string { return "user_purchased_gifts" }

// PricePaid returns the captured amount in currency units.
func (g *UserPurchasedGift) PricePaid() float64 {
	if g == nil {
		return 0
	}
	return float64(g.PricePaidCents) / 100
}
