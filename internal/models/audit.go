package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Actor     string         `gorm:"not null;index" json:"actor"`
	Action    string         `gorm:"not null;index" json:"action"` // create, update, acknowledge, resolve, auto_resolve, delete
	Target    string         `gorm:"index" json:"target"`
	Notes     string         `json:"notes,omitempty"`
	Details   datatypes.JSON `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
