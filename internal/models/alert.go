package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AlertType string

const (
	AlertTypeThreshold AlertType = "threshold"
	AlertTypeTrend     AlertType = "trend"
)

type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical > warning > advisory. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityAdvisory:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// DedupKey identifies the single open-alert slot a candidate maps onto.
type DedupKey struct {
	DeviceID  string
	Parameter Parameter
	AlertType AlertType
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DeviceID, k.Parameter, k.AlertType)
}

// Alert rows are never resolved twice; the partial unique index keeps one open
// (active or acknowledged) alert per dedup key.
type Alert struct {
	ID                uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID          string                      `gorm:"not null;index;uniqueIndex:idx_alerts_open_slot,where:status <> 'resolved'" json:"device_id"`
	Parameter         Parameter                   `gorm:"not null;size:20;uniqueIndex:idx_alerts_open_slot,where:status <> 'resolved'" json:"parameter"`
	AlertType         AlertType                   `gorm:"not null;size:20;uniqueIndex:idx_alerts_open_slot,where:status <> 'resolved'" json:"alert_type"`
	Severity          Severity                    `gorm:"not null;size:20;index" json:"severity"`
	Status            AlertStatus                 `gorm:"not null;size:20;index;default:'active'" json:"status"`
	CurrentValue      float64                     `json:"current_value"`
	ThresholdValue    *float64                    `json:"threshold_value,omitempty"`
	TrendDirection    TrendDirection              `gorm:"size:20" json:"trend_direction,omitempty"`
	Message           string                      `json:"message"`
	NotificationsSent datatypes.JSONSlice[string] `json:"notifications_sent"`
	ClearStreak       int                         `gorm:"default:0" json:"-"`
	AcknowledgedAt    *time.Time                  `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string                      `json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time                  `json:"resolved_at,omitempty"`
	ResolvedBy        string                      `json:"resolved_by,omitempty"`
	CreatedAt         time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *Alert) Key() DedupKey {
	return DedupKey{DeviceID: a.DeviceID, Parameter: a.Parameter, AlertType: a.AlertType}
}

func (a *Alert) Open() bool {
	return a.Status == AlertStatusActive || a.Status == AlertStatusAcknowledged
}

// Notified reports whether userID already appears in the notification log.
func (a *Alert) Notified(userID string) bool {
	for _, id := range a.NotificationsSent {
		if id == userID {
			return true
		}
	}
	return false
}
