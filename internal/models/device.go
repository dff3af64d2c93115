package models

import (
	"time"
)

type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "online"
	DeviceStatusOffline     DeviceStatus = "offline"
	DeviceStatusError       DeviceStatus = "error"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
)

// Device rows are created by registration; status and last_seen are owned by
// the presence state machine apart from the administrative error/maintenance states.
type Device struct {
	ID         string       `gorm:"primaryKey;size:64" json:"id"`
	Name       string       `gorm:"size:100" json:"name"`
	Location   string       `gorm:"size:200" json:"location"`
	Status     DeviceStatus `gorm:"size:20;not null;default:'offline';index" json:"status"`
	LastSeen   *time.Time   `json:"last_seen"`
	SecretHash string       `gorm:"size:100" json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
