package models

import "time"

// EnrollToken is a one-time secret that converts into a device identity.
// Only the SHA-256 hash of the secret is stored. UsedAt transitions from
// null to non-null exactly once; a used token is permanently terminal.
// Rows are never deleted so operators can audit past enrollments.
type EnrollToken struct {
	ID           string     `gorm:"primaryKey;size:40" json:"id"`
	UserID       string     `gorm:"index;size:40;not null" json:"user_id"`
	TokenHash    string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	UsedDeviceID *string    `gorm:"size:40" json:"used_device_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (EnrollToken) TableName() string { return "enroll_tokens" }
