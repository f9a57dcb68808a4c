package models

import "time"

// Device is an enrolled agent host. RevokedAt, once set, is permanent;
// revoked devices fail authentication on their next request.
type Device struct {
	ID              string     `gorm:"primaryKey;size:40" json:"id"`
	UserID          string     `gorm:"index;size:40;not null" json:"user_id"`
	Name            string     `gorm:"size:200;not null" json:"name"`
	Platform        string     `gorm:"size:50" json:"platform"`
	Arch            string     `gorm:"size:50" json:"arch"`
	FingerprintHash string     `gorm:"size:64" json:"-"`
	AgentVersion    string     `gorm:"size:50" json:"agent_version"`
	LastSeenAt      *time.Time `gorm:"index" json:"last_seen_at,omitempty"`
	RevokedAt       *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// IsOnline derives liveness from the last authenticated action. The window
// is policy, not a real-time guarantee.
func (d *Device) IsOnline(now time.Time, window time.Duration) bool {
	return d.LastSeenAt != nil && now.Sub(*d.LastSeenAt) < window
}

// DeviceSetting holds per-device agent configuration created at enrollment.
// UploadLevel is "summary" or "full".
type DeviceSetting struct {
	DeviceID    string    `gorm:"primaryKey;size:40" json:"device_id"`
	UploadLevel string    `gorm:"size:20;default:summary" json:"upload_level"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (DeviceSetting) TableName() string { return "device_settings" }
