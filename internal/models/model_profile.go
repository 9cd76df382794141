package models

import "time"

// Profile mirrors the account identity owned by the external auth system,
// plus the billing-side fields this service maintains: the processor
// customer mapping and the admin flag.
type Profile struct {
	UserID string `gorm:"column:user_id;type:varchar(64);primary_key" json:"user_id"`
	Email  string `gorm:"column:email;type:varchar(256);not null;index" json:"email"`
	// ProcessorCustomerRef is the processor-side customer id. Upserted keyed
	// by user_id so a lost lookup-or-create race overwrites the mapping
	// instead of splitting it.
	ProcessorCustomerRef *string   `gorm:"column:processor_customer_ref;type:varchar(128);index" json:"processor_customer_ref"`
	IsAdmin              bool      `gorm:"column:is_admin;not null;default:false" json:"is_admin"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

func (p *Profile) CustomerRef() string {
	if p == nil || p.ProcessorCustomerRef == nil {
		return ""
	}
	return *p.ProcessorCustomerRef
}
