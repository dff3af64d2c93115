package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationPreferences is owned by the user and read-only to the dispatcher.
// An empty Devices list means every device.
type NotificationPreferences struct {
	UserID            string                      `gorm:"primaryKey;size:64" json:"user_id"`
	Severities        datatypes.JSONSlice[string] `json:"severities"`
	Parameters        datatypes.JSONSlice[string] `json:"parameters"`
	Devices           datatypes.JSONSlice[string] `json:"devices"`
	QuietHoursEnabled bool                        `json:"quiet_hours_enabled"`
	QuietHoursStart   string                      `gorm:"size:5" json:"quiet_hours_start"` // HH:MM
	QuietHoursEnd     string                      `gorm:"size:5" json:"quiet_hours_end"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// Notification is a delivered alert notification in a user's inbox.
type Notification struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string     `gorm:"not null;index" json:"user_id"`
	AlertID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"alert_id"`
	Severity  Severity   `gorm:"size:20" json:"severity"`
	Message   string     `json:"message"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
