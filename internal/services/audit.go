package services

import (
	"context"
	"encoding/json"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateAuditLog records one audit entry. Details are stored as JSON.
func CreateAuditLog(db *gorm.DB, actor, action, target, notes string, details map[string]interface{}) error {
	var detailsJSON datatypes.JSON
	if details != nil {
		b, err := json.Marshal(details)
		if err == nil {
			detailsJSON = datatypes.JSON(b)
		}
	}

	log := models.AuditLog{
		Actor:   actor,
		Action:  action,
		Target:  target,
		Notes:   notes,
		Details: detailsJSON,
	}

	return db.Create(&log).Error
}

type AuditFilter struct {
	Actor   string
	Action  string
	Target  string
	Page    int
	PerPage int
}

// ListAuditLogs returns a page of audit entries, newest first, and the total count.
func ListAuditLogs(ctx context.Context, db *gorm.DB, f AuditFilter) ([]models.AuditLog, int64, error) {
	page, perPage := normalizePage(f.Page, f.PerPage)

	query := db.WithContext(ctx).Model(&models.AuditLog{})
	if f.Actor != "" {
		query = query.Where("actor = ?", f.Actor)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.Target != "" {
		query = query.Where("target = ?", f.Target)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.AuditLog
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&logs).Error
	return logs, total, err
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}
