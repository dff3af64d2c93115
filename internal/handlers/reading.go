package handlers

import (
	"time"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/internal/services"
	"github.com/gofiber/fiber/v2"
)

type ReadingHandler struct {
	manager *services.AlertManager
}

func NewReadingHandler(manager *services.AlertManager) *ReadingHandler {
	return &ReadingHandler{manager: manager}
}

type readingRequest struct {
	DeviceID  string     `json:"device_id"`
	Parameter string     `json:"parameter"`
	Value     *float64   `json:"value"`
	Timestamp *time.Time `json:"timestamp"`
}

// IngestReading evaluates one reading synchronously and returns the alerts it
// created or updated.
func (h *ReadingHandler) IngestReading(c *fiber.Ctx) error {
	var req readingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if req.Value == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "value is required",
		})
	}

	r := models.SensorReading{
		DeviceID:  req.DeviceID,
		Parameter: models.Parameter(req.Parameter),
		Value:     *req.Value,
	}
	if req.Timestamp != nil {
		r.Timestamp = *req.Timestamp
	}

	alerts, err := h.manager.Ingest(c.UserContext(), r, "http")
	if err != nil {
		return alertError(c, err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"alerts": alerts})
}
