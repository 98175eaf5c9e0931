package model

import "time"

// AuditEntry captures an operation against the controller or the cloud route tables.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     string    `gorm:"index;size:36" json:"runId,omitempty"`
	Actor     string    `gorm:"size:64" json:"actor"`
	Action    string    `gorm:"size:64" json:"action"`
	Target    string    `gorm:"size:255" json:"target"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
