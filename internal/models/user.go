package models

import "time"

// User is an operator account. Agents never authenticate as users; they hold
// device tokens issued at enrollment.
type User struct {
	ID           string    `gorm:"primaryKey;size:40" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
