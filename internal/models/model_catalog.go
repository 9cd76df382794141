package models

import (
	"time"

	"gorm.io/datatypes"
)

// Plan is read-only reference data: one sellable subscription tier.
// The synthetic "admin" plan exists here too so feature checks can resolve
// it, but it carries no processor price ref and is never sold.
type Plan struct {
	ID           string `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Name         string `gorm:"column:name;type:varchar(128);not null" json:"name"`
	PriceCents   int64  `gorm:"column:price_cents;type:bigint;not null" json:"price_cents"`
	DurationDays int    `gorm:"column:duration_days;type:int;not null" json:"duration_days"`
	// Features is the ordered list of capability labels this plan grants.
	Features datatypes.JSONSlice[string] `gorm:"column:features;type:jsonb;default:'[]'" json:"features"`
	// ProcessorPriceRef links the plan to the processor's price object.
	// Nullable: a plan without a ref cannot be checked out (NotConfigured).
	ProcessorPriceRef *string   `gorm:"column:processor_price_ref;type:varchar(128)" json:"processor_price_ref"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

func (p *Plan) HasFeature(label string) bool {
	if p == nil {
		return false
	}
	for _, f := range p.Features {
		if f == label {
			return true
		}
	}
	return false
}

// Gift is read-only reference data for one-shot purchases attachable to chat
// messages.
type Gift struct {
	ID                string    `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Name              string    `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Emoji             string    `gorm:"column:emoji;type:varchar(16)" json:"emoji"`
	PriceCents        int64     `gorm:"column:price_cents;type:bigint;not null" json:"price_cents"`
	ProcessorPriceRef *string   `gorm:"column:processor_price_ref;type:varchar(128)" json:"processor_price_ref"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Gift) TableName() string { return "gifts" }
