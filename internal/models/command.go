package models

import "time"

// Command statuses. Succeeded and failed are terminal: no transition leaves
// them and FinishedAt is stamped exactly on entry.
const (
	CommandStatusQueued    = "queued"
	CommandStatusRunning   = "running"
	CommandStatusSucceeded = "succeeded"
	CommandStatusFailed    = "failed"
)

// Command is a unit of work queued for a single device. A queued command
// whose ExpiresAt has passed is skipped by claimers but its stored status
// stays "queued"; expiry is evaluated at claim time, never swept in storage.
type Command struct {
	ID         string     `gorm:"primaryKey;size:40" json:"id"`
	DeviceID   string     `gorm:"index:idx_commands_claim;size:40;not null" json:"device_id"`
	UserID     string     `gorm:"index;size:40;not null" json:"user_id"`
	Type       string     `gorm:"size:50;not null" json:"type"`
	ParamsJSON string     `gorm:"type:text" json:"-"`
	Status     string     `gorm:"index:idx_commands_claim;size:20;default:queued" json:"status"`
	Progress   int        `gorm:"default:0" json:"progress"`
	Message    string     `gorm:"size:500" json:"message"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	ReportID   *string    `gorm:"size:40" json:"report_id,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Command) TableName() string { return "commands" }

// IsTerminal reports whether the command reached a final state.
func (c *Command) IsTerminal() bool {
	return c.Status == CommandStatusSucceeded || c.Status == CommandStatusFailed
}
