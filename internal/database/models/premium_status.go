package models

import (
	"time"
)

// PremiumStatus backs the entitlement accessor. A server is premium
// only when a row exists, Enabled is true and the expiry (if set) has
// not passed. Absence of a row is "absent", never "disabled".
type PremiumStatus struct {
	ServerKey string `gorm:"primaryKey"`
	Enabled   bool   `gorm:"not null;default:false"`
	ExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PremiumStatus) TableName() string {
	return "premium_status"
}
