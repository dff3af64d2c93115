package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/config"
	"github.com/ahmetk3436/tidewatch/internal/database"
	"github.com/ahmetk3436/tidewatch/internal/handlers"
	"github.com/ahmetk3436/tidewatch/internal/liveness"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/internal/routes"
	"github.com/ahmetk3436/tidewatch/internal/services"
	"github.com/ahmetk3436/tidewatch/internal/timing"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	log := logger.New(cfg.LogLevel)
	log.Info("Starting tidewatch", "version", handlers.Version)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg, log); err != nil {
		log.Fatal("Database connection failed", "error", err)
	}
	if err := database.Migrate(); err != nil {
		log.Fatal("Database migration failed", "error", err)
	}
	db := database.DB

	// ─── Timing ─────────────────────────────────────────────────────────
	resolver := timing.NewResolver(timing.NewGormStore(db), log)
	timingCfg := resolver.Resolve(ctx)
	expr, _ := resolver.ScheduleExpression()
	log.Info("Timing resolved", "interval_minutes", timingCfg.CheckIntervalMinutes, "timezone", timingCfg.Timezone, "schedule", expr)

	// ─── Thresholds ─────────────────────────────────────────────────────
	thresholds, err := services.NewFileThresholds(cfg.ThresholdsFile, log)
	if err != nil {
		log.Fatal("Failed to load thresholds", "path", cfg.ThresholdsFile, "error", err)
	}
	if err := thresholds.Watch(ctx); err != nil {
		log.Warn("Threshold hot reload disabled", "error", err)
	}

	// ─── Trend windows ──────────────────────────────────────────────────
	var windows services.TrendWindowStore = services.NewMemoryTrendWindows()
	if cfg.RedisAddr != "" {
		redisWindows, err := services.NewRedisTrendWindows(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("Redis unavailable, keeping trend windows in memory", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer redisWindows.Close()
			windows = redisWindows
			log.Info("Trend windows stored in redis", "addr", cfg.RedisAddr)
		}
	}

	// ─── Liveness hub, dispatcher, alert manager ────────────────────────
	var manager *services.AlertManager
	hub := liveness.NewHub(log, liveness.HubOptions{
		Concurrency: cfg.ProbeConcurrency,
		OnReading: func(ctx context.Context, r models.SensorReading) error {
			_, err := manager.Ingest(ctx, r, "websocket")
			return err
		},
	})

	dispatcher := services.NewDispatcher(db, services.NewInboxNotifier(db, hub), resolver.Location, log, cfg.NotificationQueueSize)

	autoSev := make([]models.Severity, 0, len(cfg.AutoResolveSeverities))
	for _, s := range cfg.AutoResolveSeverities {
		autoSev = append(autoSev, models.Severity(s))
	}
	manager = services.NewAlertManager(db, thresholds, windows, dispatcher, log, services.AlertManagerOptions{
		AutoResolveAfter:      cfg.AutoResolveAfter,
		AutoResolveSeverities: autoSev,
	})
	if err := manager.Restore(ctx); err != nil {
		log.Fatal("Failed to restore open alerts", "error", err)
	}
	go dispatcher.Run(ctx, manager)

	// ─── Scheduler ──────────────────────────────────────────────────────
	prober := services.NewPresenceProber(hub, log)
	stateMachine := services.NewPresenceStateMachine(db, cfg.PresenceOverridesAdminStatus, log)
	retention := services.NewRetention(db, log)

	presenceInterval := func() time.Duration {
		resolver.Resolve(ctx)
		return resolver.Interval()
	}
	scheduler := services.NewScheduler(log,
		services.PresenceTask(prober, stateMachine, presenceInterval, time.Duration(cfg.PresenceTimeoutMs)*time.Millisecond, log),
		services.CleanupTask(retention, time.Duration(cfg.RetentionDays)*24*time.Hour),
	)
	scheduler.Start(ctx)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "tidewatch v" + handlers.Version,
		ServerHeader: "tidewatch",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(recover.New())

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" || c.Path() == "/metrics" {
			return err
		}
		log.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, routes.Handlers{
		Auth:         handlers.NewAuthHandler(cfg, log),
		System:       handlers.NewSystemHandler(db, scheduler, hub),
		Alert:        handlers.NewAlertHandler(manager),
		Reading:      handlers.NewReadingHandler(manager),
		Device:       handlers.NewDeviceHandler(db, hub, stateMachine, resolver),
		Timing:       handlers.NewTimingHandler(resolver),
		Notification: handlers.NewNotificationHandler(db),
		Audit:        handlers.NewAuditHandler(db),
		Liveness:     handlers.NewLivenessHandler(ctx, db, hub, log),
	})

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down tidewatch...")

		scheduler.Stop()
		cancel()

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("Fiber shutdown error", "error", err)
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	log.Info("tidewatch listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		log.Error("Server error", "error", err)
	}

	if sqlDB, err := database.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
