package routes

import (
	"github.com/ahmetk3436/tidewatch/internal/config"
	"github.com/ahmetk3436/tidewatch/internal/handlers"
	"github.com/ahmetk3436/tidewatch/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	System       *handlers.SystemHandler
	Alert        *handlers.AlertHandler
	Reading      *handlers.ReadingHandler
	Device       *handlers.DeviceHandler
	Timing       *handlers.TimingHandler
	Notification *handlers.NotificationHandler
	Audit        *handlers.AuditHandler
	Liveness     *handlers.LivenessHandler
}

func Setup(app *fiber.App, cfg *config.Config, h Handlers) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", h.System.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", h.Auth.Login)
	app.Post("/api/auth/refresh", h.Auth.Refresh)

	// ─── Liveness (WebSocket) ────────────────────────────────────────────
	app.Use("/ws/devices", h.Liveness.UpgradeCheck(), h.Liveness.DeviceAuth())
	app.Get("/ws/devices", h.Liveness.HandleDevice())

	app.Use("/ws/notifications", h.Liveness.UpgradeCheck(), middleware.JWTProtected(cfg.JWTSecret))
	app.Get("/ws/notifications", h.Liveness.HandleDashboard())

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	api.Get("/auth/me", h.Auth.Me)
	api.Get("/dashboard/overview", h.System.Overview)

	// Readings
	api.Post("/readings", h.Reading.IngestReading)

	// Alerts
	api.Get("/alerts", h.Alert.ListAlerts)
	api.Get("/alerts/stats", h.Alert.Stats)
	api.Get("/alerts/unacknowledged/count", h.Alert.UnacknowledgedCount)
	api.Get("/alerts/:id", h.Alert.GetAlert)
	api.Post("/alerts/:id/acknowledge", h.Alert.AcknowledgeAlert)
	api.Post("/alerts/:id/resolve", h.Alert.ResolveAlert)
	api.Delete("/alerts/:id", h.Alert.DeleteAlert)

	// Devices
	api.Get("/devices", h.Device.ListDevices)
	api.Post("/devices", h.Device.RegisterDevice)
	api.Put("/devices/:id/status", h.Device.SetDeviceStatus)
	api.Get("/devices/:id/alerts", h.Alert.DeviceAlerts)

	// Timing
	api.Get("/config/timing", h.Timing.GetTiming)
	api.Put("/config/timing", h.Timing.UpdateTiming)

	// Notifications
	api.Get("/notifications", h.Notification.ListNotifications)
	api.Post("/notifications/:id/read", h.Notification.MarkRead)
	api.Get("/notifications/preferences", h.Notification.GetPreferences)
	api.Put("/notifications/preferences", h.Notification.PutPreferences)

	// Audit
	api.Get("/audit", h.Audit.ListAuditLogs)
}
