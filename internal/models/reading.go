package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Parameter string

const (
	ParameterTDS       Parameter = "tds"
	ParameterPH        Parameter = "ph"
	ParameterTurbidity Parameter = "turbidity"
)

// Parameters lists every measured parameter in a stable order.
var Parameters = []Parameter{ParameterTDS, ParameterPH, ParameterTurbidity}

func (p Parameter) Valid() bool {
	switch p {
	case ParameterTDS, ParameterPH, ParameterTurbidity:
		return true
	}
	return false
}

// SensorReading is immutable once recorded.
type SensorReading struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID  string    `gorm:"not null;index" json:"device_id"`
	Parameter Parameter `gorm:"not null;size:20" json:"parameter"`
	Value     float64   `json:"value"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

func (r *SensorReading) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
