package handlers

import (
	"github.com/ahmetk3436/tidewatch/internal/config"
	"github.com/ahmetk3436/tidewatch/internal/middleware"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const operatorRole = "operator"

// AuthHandler issues operator tokens for the configured admin account. The
// username becomes the performed-by of every operator transition and the
// user id that notification preferences are keyed on.
type AuthHandler struct {
	cfg          *config.Config
	log          logger.Logger
	passwordHash []byte
}

func NewAuthHandler(cfg *config.Config, log logger.Logger) *AuthHandler {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash admin password", "error", err)
	}
	return &AuthHandler{cfg: cfg, log: log, passwordHash: hash}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if h.cfg.AdminPassword == "" || req.Username != h.cfg.AdminUsername ||
		bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid credentials",
		})
	}

	return h.issue(c, req.Username, operatorRole)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	claims, err := middleware.ParseToken(req.RefreshToken, h.cfg.JWTSecret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid or expired refresh token",
		})
	}
	return h.issue(c, claims.Username, claims.Role)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	role, _ := c.Locals("role").(string)
	return c.JSON(fiber.Map{
		"username": middleware.Username(c),
		"role":     role,
	})
}

func (h *AuthHandler) issue(c *fiber.Ctx, username, role string) error {
	access, refresh, err := middleware.GenerateTokens(username, h.cfg.JWTSecret, role)
	if err != nil {
		h.log.Error("Failed to generate tokens", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to generate tokens",
		})
	}
	return c.JSON(fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user": fiber.Map{
			"username": username,
			"role":     role,
		},
	})
}
