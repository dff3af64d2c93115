package handlers

import (
	"errors"

	"github.com/ahmetk3436/tidewatch/internal/middleware"
	"github.com/ahmetk3436/tidewatch/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AlertHandler struct {
	manager *services.AlertManager
}

func NewAlertHandler(manager *services.AlertManager) *AlertHandler {
	return &AlertHandler{manager: manager}
}

// ListAlerts returns alerts filtered by status, severity, parameter, device_id
// and alert_type, paginated with page/per_page.
func (h *AlertHandler) ListAlerts(c *fiber.Ctx) error {
	f := services.AlertFilter{
		Status:    c.Query("status"),
		Severity:  c.Query("severity"),
		Parameter: c.Query("parameter"),
		AlertType: c.Query("alert_type"),
		DeviceID:  c.Query("device_id"),
		Page:      c.QueryInt("page", 1),
		PerPage:   c.QueryInt("per_page", 50),
	}

	alerts, total, err := h.manager.List(c.UserContext(), f)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list alerts",
		})
	}

	return c.JSON(fiber.Map{
		"alerts": alerts,
		"total":  total,
		"page":   f.Page,
	})
}

func (h *AlertHandler) GetAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAlertID(c)
	}
	alert, err := h.manager.Get(c.UserContext(), id)
	if err != nil {
		return alertError(c, err)
	}
	return c.JSON(alert)
}

type transitionRequest struct {
	Notes string `json:"notes"`
}

// AcknowledgeAlert moves an active alert to acknowledged on behalf of the
// authenticated operator.
func (h *AlertHandler) AcknowledgeAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAlertID(c)
	}
	var req transitionRequest
	_ = c.BodyParser(&req)

	alert, err := h.manager.Acknowledge(c.UserContext(), id, middleware.Username(c), req.Notes)
	if err != nil {
		return alertError(c, err)
	}
	return c.JSON(alert)
}

func (h *AlertHandler) ResolveAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAlertID(c)
	}
	var req transitionRequest
	_ = c.BodyParser(&req)

	alert, err := h.manager.Resolve(c.UserContext(), id, middleware.Username(c), req.Notes)
	if err != nil {
		return alertError(c, err)
	}
	return c.JSON(alert)
}

func (h *AlertHandler) DeleteAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAlertID(c)
	}
	if err := h.manager.Delete(c.UserContext(), id, middleware.Username(c)); err != nil {
		return alertError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Alert deleted"})
}

func (h *AlertHandler) DeviceAlerts(c *fiber.Ctx) error {
	alerts, err := h.manager.ListByDevice(c.UserContext(), c.Params("id"), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list device alerts",
		})
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

func (h *AlertHandler) UnacknowledgedCount(c *fiber.Ctx) error {
	n, err := h.manager.UnacknowledgedCount(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to count alerts",
		})
	}
	return c.JSON(fiber.Map{"count": n})
}

func (h *AlertHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.manager.Stats(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to compute alert statistics",
		})
	}
	return c.JSON(stats)
}

func invalidAlertID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   true,
		"message": "Invalid alert ID",
	})
}

// alertError maps lifecycle errors onto HTTP statuses.
func alertError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrAlertNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrActorRequired), errors.Is(err, services.ErrInvalidReading):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}
