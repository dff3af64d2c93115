package handlers

import (
	"errors"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/middleware"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationHandler serves the authenticated user's inbox and preferences.
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	items, err := services.ListNotifications(c.UserContext(), h.db, middleware.Username(c),
		c.QueryBool("unread", false), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list notifications",
		})
	}
	return c.JSON(fiber.Map{"notifications": items})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	ok, err := services.MarkNotificationRead(c.UserContext(), h.db, middleware.Username(c), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update notification",
		})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Notification not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Notification marked as read"})
}

func (h *NotificationHandler) GetPreferences(c *fiber.Ctx) error {
	var prefs models.NotificationPreferences
	err := h.db.WithContext(c.UserContext()).First(&prefs, "user_id = ?", middleware.Username(c)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "No notification preferences set",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load preferences",
		})
	}
	return c.JSON(prefs)
}

// PutPreferences replaces the caller's preferences.
func (h *NotificationHandler) PutPreferences(c *fiber.Ctx) error {
	var req models.NotificationPreferences
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	for _, s := range req.Severities {
		if models.Severity(s).Rank() == 0 {
			return badPreference(c, "unknown severity: "+s)
		}
	}
	for _, p := range req.Parameters {
		if !models.Parameter(p).Valid() {
			return badPreference(c, "unknown parameter: "+p)
		}
	}
	if req.QuietHoursEnabled {
		if _, err := services.InQuietHours(time.Now(), req.QuietHoursStart, req.QuietHoursEnd); err != nil {
			return badPreference(c, "quiet hours must be HH:MM")
		}
	}

	req.UserID = middleware.Username(c)
	req.UpdatedAt = time.Now()
	err := h.db.WithContext(c.UserContext()).Clauses(clause.OnConflict{UpdateAll: true}).Create(&req).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to save preferences",
		})
	}
	return c.JSON(req)
}

func badPreference(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   true,
		"message": msg,
	})
}
