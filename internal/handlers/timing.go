package handlers

import (
	"errors"

	"github.com/ahmetk3436/tidewatch/internal/middleware"
	"github.com/ahmetk3436/tidewatch/internal/timing"
	"github.com/gofiber/fiber/v2"
)

// TimingHandler exposes the system timing record stored under the
// system.timing remote config key.
type TimingHandler struct {
	resolver *timing.Resolver
}

func NewTimingHandler(resolver *timing.Resolver) *TimingHandler {
	return &TimingHandler{resolver: resolver}
}

func (h *TimingHandler) GetTiming(c *fiber.Ctx) error {
	cfg := h.resolver.Resolve(c.UserContext())
	return h.respond(c, cfg)
}

// UpdateTiming validates and stores a new check interval. Out-of-range values
// are rejected, never clamped.
func (h *TimingHandler) UpdateTiming(c *fiber.Ctx) error {
	var req struct {
		CheckIntervalMinutes int    `json:"check_interval_minutes"`
		Timezone             string `json:"timezone"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	cfg, err := h.resolver.Update(c.UserContext(), req.CheckIntervalMinutes, req.Timezone, middleware.Username(c))
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, timing.ErrIntervalOutOfRange) || errors.Is(err, timing.ErrInvalidTimezone) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	return h.respond(c, cfg)
}

func (h *TimingHandler) respond(c *fiber.Ctx, cfg timing.Config) error {
	expr, _ := timing.ScheduleExpression(cfg.CheckIntervalMinutes)
	return c.JSON(fiber.Map{
		"check_interval_minutes":    cfg.CheckIntervalMinutes,
		"timezone":                  cfg.Timezone,
		"updated_at":                cfg.UpdatedAt,
		"updated_by":                cfg.UpdatedBy,
		"schedule_expression":       expr,
		"offline_threshold_seconds": int(timing.OfflineThreshold(cfg.CheckIntervalMinutes).Seconds()),
	})
}
