package handlers

import (
	"time"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var startTime = time.Now()
var Version = "1.0.0"

// RunningReporter reports whether the background scheduler is active.
type RunningReporter interface {
	IsRunning() bool
}

type SystemHandler struct {
	db        *gorm.DB
	scheduler RunningReporter
	links     ConnectedLister
}

func NewSystemHandler(db *gorm.DB, scheduler RunningReporter, links ConnectedLister) *SystemHandler {
	return &SystemHandler{db: db, scheduler: scheduler, links: links}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":            overall,
		"service":           "tidewatch",
		"version":           Version,
		"time":              time.Now().UTC().Format(time.RFC3339),
		"uptime":            time.Since(startTime).String(),
		"db":                dbStatus,
		"scheduler_running": h.scheduler.IsRunning(),
	})
}

// Overview summarizes fleet and alert state for the dashboard.
func (h *SystemHandler) Overview(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var devices, online, openAlerts, critical int64
	h.db.WithContext(ctx).Model(&models.Device{}).Count(&devices)
	h.db.WithContext(ctx).Model(&models.Device{}).Where("status = ?", models.DeviceStatusOnline).Count(&online)
	h.db.WithContext(ctx).Model(&models.Alert{}).Where("status <> ?", models.AlertStatusResolved).Count(&openAlerts)
	h.db.WithContext(ctx).Model(&models.Alert{}).
		Where("status <> ? AND severity = ?", models.AlertStatusResolved, models.SeverityCritical).Count(&critical)

	return c.JSON(fiber.Map{
		"version":           Version,
		"uptime":            time.Since(startTime).String(),
		"devices":           devices,
		"devices_online":    online,
		"devices_connected": len(h.links.ConnectedDevices()),
		"open_alerts":       openAlerts,
		"open_critical":     critical,
		"scheduler_running": h.scheduler.IsRunning(),
	})
}
