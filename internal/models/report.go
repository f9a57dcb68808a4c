package models

import "time"

// Report is a result artifact uploaded by an agent, optionally linked to the
// command that produced it. Summary columns are extracted from the raw JSON
// at upload time for cheap list queries.
type Report struct {
	ID               string    `gorm:"primaryKey;size:40" json:"id"`
	DeviceID         string    `gorm:"index;size:40;not null" json:"device_id"`
	CommandID        *string   `gorm:"index;size:40" json:"command_id,omitempty"`
	HealthScore      *int      `json:"health_score,omitempty"`
	DiskFreePercent  *float64  `json:"disk_free_percent,omitempty"`
	StartupAppsCount *int      `json:"startup_apps_count,omitempty"`
	OneLiner         *string   `gorm:"size:500" json:"one_liner,omitempty"`
	RawReportJSON    string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (Report) TableName() string { return "reports" }
