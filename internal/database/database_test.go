package database

import (
	"testing"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory_Migrates(t *testing.T) {
	db, err := OpenMemory(t.Name())
	require.NoError(t, err)

	for _, table := range []interface{}{
		&models.Device{}, &models.SensorReading{}, &models.Alert{}, &models.AuditLog{},
		&models.NotificationPreferences{}, &models.Notification{}, &models.RemoteConfig{},
	} {
		assert.True(t, db.Migrator().HasTable(table))
	}
}

func TestOpenMemory_OneOpenAlertPerKey(t *testing.T) {
	db, err := OpenMemory(t.Name())
	require.NoError(t, err)

	first := models.Alert{DeviceID: "d1", Parameter: models.ParameterPH, AlertType: models.AlertTypeThreshold,
		Severity: models.SeverityWarning, Status: models.AlertStatusActive}
	require.NoError(t, db.Create(&first).Error)

	dup := models.Alert{DeviceID: "d1", Parameter: models.ParameterPH, AlertType: models.AlertTypeThreshold,
		Severity: models.SeverityCritical, Status: models.AlertStatusActive}
	assert.Error(t, db.Create(&dup).Error)

	require.NoError(t, db.Model(&first).Update("status", models.AlertStatusResolved).Error)
	fresh := models.Alert{DeviceID: "d1", Parameter: models.ParameterPH, AlertType: models.AlertTypeThreshold,
		Severity: models.SeverityCritical, Status: models.AlertStatusActive}
	assert.NoError(t, db.Create(&fresh).Error)
}
