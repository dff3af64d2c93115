package handlers

import (
	"github.com/ahmetk3436/tidewatch/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditHandler struct {
	db *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// ListAuditLogs returns audit entries filtered by actor, action and target.
func (h *AuditHandler) ListAuditLogs(c *fiber.Ctx) error {
	f := services.AuditFilter{
		Actor:   c.Query("actor"),
		Action:  c.Query("action"),
		Target:  c.Query("target"),
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("per_page", 50),
	}

	logs, total, err := services.ListAuditLogs(c.UserContext(), h.db, f)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list audit logs",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  f.Page,
	})
}
