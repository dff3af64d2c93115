package handlers

import (
	"context"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/middleware"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/internal/services"
	"github.com/ahmetk3436/tidewatch/internal/timing"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ConnectedLister reports which devices currently hold a liveness link.
type ConnectedLister interface {
	ConnectedDevices() []string
}

// StaleLister reports online devices that have missed the offline threshold.
type StaleLister interface {
	StaleDevices(ctx context.Context, threshold time.Duration) ([]models.Device, error)
}

type DeviceHandler struct {
	db       *gorm.DB
	links    ConnectedLister
	stale    StaleLister
	resolver *timing.Resolver
}

func NewDeviceHandler(db *gorm.DB, links ConnectedLister, stale StaleLister, resolver *timing.Resolver) *DeviceHandler {
	return &DeviceHandler{db: db, links: links, stale: stale, resolver: resolver}
}

type deviceView struct {
	models.Device
	Connected bool `json:"connected"`
	Stale     bool `json:"stale"`
}

// ListDevices returns every device with its link state. A device is stale
// when it is still marked online but its last contact is older than the
// offline threshold.
func (h *DeviceHandler) ListDevices(c *fiber.Ctx) error {
	query := h.db.WithContext(c.UserContext()).Order("id")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var devices []models.Device
	if err := query.Find(&devices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list devices",
		})
	}

	threshold := h.resolver.OfflineThreshold()
	staleDevices, err := h.stale.StaleDevices(c.UserContext(), threshold)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to check device staleness",
		})
	}
	stale := make(map[string]bool, len(staleDevices))
	for _, d := range staleDevices {
		stale[d.ID] = true
	}

	connected := map[string]bool{}
	for _, id := range h.links.ConnectedDevices() {
		connected[id] = true
	}

	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{
			Device:    d,
			Connected: connected[d.ID],
			Stale:     stale[d.ID],
		})
	}
	return c.JSON(fiber.Map{
		"devices":                   out,
		"offline_threshold_seconds": int(threshold.Seconds()),
	})
}

// RegisterDevice creates a device with a liveness secret. The secret is only
// stored as a bcrypt hash.
func (h *DeviceHandler) RegisterDevice(c *fiber.Ctx) error {
	var req struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Location string `json:"location"`
		Secret   string `json:"secret"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if req.ID == "" || len(req.Secret) < 8 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "id and a secret of at least 8 characters are required",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to hash secret",
		})
	}

	device := models.Device{
		ID:         req.ID,
		Name:       req.Name,
		Location:   req.Location,
		Status:     models.DeviceStatusOffline,
		SecretHash: string(hash),
	}
	if err := h.db.WithContext(c.UserContext()).Create(&device).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   true,
			"message": "Device already exists",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(device)
}

// SetDeviceStatus places a device into or out of the administrative error and
// maintenance states.
func (h *DeviceHandler) SetDeviceStatus(c *fiber.Ctx) error {
	var req struct {
		Status models.DeviceStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	switch req.Status {
	case models.DeviceStatusError, models.DeviceStatusMaintenance, models.DeviceStatusOffline:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "status must be error, maintenance or offline",
		})
	}

	id := c.Params("id")
	res := h.db.WithContext(c.UserContext()).Model(&models.Device{}).Where("id = ?", id).Update("status", req.Status)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update device",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Device not found",
		})
	}

	_ = services.CreateAuditLog(h.db, middleware.Username(c), "device_status", id, "", map[string]interface{}{"status": req.Status})
	return c.JSON(fiber.Map{"id": id, "status": req.Status})
}
