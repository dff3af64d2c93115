package handlers

import (
	"context"

	"github.com/ahmetk3436/tidewatch/internal/liveness"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type LivenessHandler struct {
	db  *gorm.DB
	hub *liveness.Hub
	log logger.Logger
	// ctx bounds readings ingested over device links.
	ctx context.Context
}

func NewLivenessHandler(ctx context.Context, db *gorm.DB, hub *liveness.Hub, log logger.Logger) *LivenessHandler {
	return &LivenessHandler{ctx: ctx, db: db, hub: hub, log: log}
}

// UpgradeCheck rejects plain HTTP requests on websocket routes.
func (h *LivenessHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// DeviceAuth verifies the device id and secret, sent as X-Device-ID and
// X-Device-Secret headers or device_id and secret query parameters.
func (h *LivenessHandler) DeviceAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Device-ID", c.Query("device_id"))
		secret := c.Get("X-Device-Secret", c.Query("secret"))
		if id == "" || secret == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   true,
				"message": "Missing device credentials",
			})
		}

		var device models.Device
		if err := h.db.WithContext(c.UserContext()).First(&device, "id = ?", id).Error; err != nil ||
			device.SecretHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(secret)) != nil {
			h.log.Warn("Device authentication failed", "device_id", id, "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   true,
				"message": "Invalid device credentials",
			})
		}

		c.Locals("device_id", device.ID)
		return c.Next()
	}
}

// HandleDevice serves an authenticated device link until it drops.
func (h *LivenessHandler) HandleDevice() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		deviceID, _ := c.Locals("device_id").(string)
		if deviceID == "" {
			c.Close()
			return
		}
		h.hub.ServeDevice(h.ctx, deviceID, c)
	})
}

// HandleDashboard streams notifications to the authenticated user.
func (h *LivenessHandler) HandleDashboard() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		username, _ := c.Locals("username").(string)
		if username == "" {
			c.Close()
			return
		}
		h.log.Debug("Dashboard connected", "user", username)
		h.hub.ServeDashboard(username, c)
	})
}
