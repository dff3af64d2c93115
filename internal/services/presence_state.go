package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/metrics"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"gorm.io/gorm"
)

type PresenceResult struct {
	MarkedOnline  []string `json:"marked_online"`
	MarkedOffline []string `json:"marked_offline"`
}

// PresenceStateMachine folds one round's responders into device status.
type PresenceStateMachine struct {
	db  *gorm.DB
	log logger.Logger
	now func() time.Time

	// OverrideAdminStatus lets a response move error/maintenance devices online.
	OverrideAdminStatus bool
}

func NewPresenceStateMachine(db *gorm.DB, overrideAdminStatus bool, log logger.Logger) *PresenceStateMachine {
	return &PresenceStateMachine{db: db, log: log, now: time.Now, OverrideAdminStatus: overrideAdminStatus}
}

// Apply marks responders online and every other online device offline in a
// single transaction. An empty set marks all online devices offline.
func (sm *PresenceStateMachine) Apply(ctx context.Context, responded map[string]struct{}) (*PresenceResult, error) {
	now := sm.now()
	ids := make([]string, 0, len(responded))
	for id := range responded {
		ids = append(ids, id)
	}

	result := &PresenceResult{MarkedOnline: []string{}, MarkedOffline: []string{}}
	err := sm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ids) > 0 {
			eligible := []models.DeviceStatus{models.DeviceStatusOnline, models.DeviceStatusOffline}
			if sm.OverrideAdminStatus {
				eligible = append(eligible, models.DeviceStatusError, models.DeviceStatusMaintenance)
			}

			var online []models.Device
			if err := tx.Select("id").Where("id IN ? AND status IN ?", ids, eligible).Find(&online).Error; err != nil {
				return err
			}
			for _, d := range online {
				result.MarkedOnline = append(result.MarkedOnline, d.ID)
			}
			if len(result.MarkedOnline) > 0 {
				err := tx.Model(&models.Device{}).Where("id IN ?", result.MarkedOnline).
					Updates(map[string]interface{}{"status": models.DeviceStatusOnline, "last_seen": now, "updated_at": now}).Error
				if err != nil {
					return err
				}
			}

			// Admin-held devices still record that they were seen.
			if !sm.OverrideAdminStatus {
				err := tx.Model(&models.Device{}).
					Where("id IN ? AND status IN ?", ids, []models.DeviceStatus{models.DeviceStatusError, models.DeviceStatusMaintenance}).
					Update("last_seen", now).Error
				if err != nil {
					return err
				}
			}
		}

		stale := tx.Select("id").Where("status = ?", models.DeviceStatusOnline)
		if len(ids) > 0 {
			stale = stale.Where("id NOT IN ?", ids)
		}
		var offline []models.Device
		if err := stale.Find(&offline).Error; err != nil {
			return err
		}
		for _, d := range offline {
			result.MarkedOffline = append(result.MarkedOffline, d.ID)
		}
		if len(result.MarkedOffline) == 0 {
			return nil
		}
		return tx.Model(&models.Device{}).Where("id IN ?", result.MarkedOffline).
			Updates(map[string]interface{}{"status": models.DeviceStatusOffline, "updated_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("apply presence round: %w", err)
	}

	metrics.PresenceTransitions.WithLabelValues("online").Add(float64(len(result.MarkedOnline)))
	metrics.PresenceTransitions.WithLabelValues("offline").Add(float64(len(result.MarkedOffline)))
	if len(result.MarkedOffline) > 0 {
		sm.log.Warn("Devices marked offline", "count", len(result.MarkedOffline), "devices", result.MarkedOffline)
	}
	return result, nil
}

// StaleDevices lists online devices whose last contact is older than
// threshold. Used for reporting between rounds.
func (sm *PresenceStateMachine) StaleDevices(ctx context.Context, threshold time.Duration) ([]models.Device, error) {
	cutoff := sm.now().Add(-threshold)
	var out []models.Device
	err := sm.db.WithContext(ctx).
		Where("status = ? AND (last_seen IS NULL OR last_seen < ?)", models.DeviceStatusOnline, cutoff).
		Find(&out).Error
	return out, err
}
