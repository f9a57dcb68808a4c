package models

import "time"

// DeviceToken is a long-lived bearer credential for a device. A device may
// hold several tokens over its lifetime; only unrevoked, unexpired tokens
// authenticate.
type DeviceToken struct {
	ID         string     `gorm:"primaryKey;size:40" json:"id"`
	DeviceID   string     `gorm:"index;size:40;not null" json:"device_id"`
	TokenHash  string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	RevokedAt  *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (DeviceToken) TableName() string { return "device_tokens" }
