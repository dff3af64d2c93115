package database

import (
	"fmt"

	"github.com/ahmetk3436/tidewatch/internal/config"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(cfg *config.Config, log logger.Logger) error {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	DB = db
	log.Info("Database connected", "driver", cfg.DBDriver, "host", cfg.DBHost, "db", cfg.DBName)
	return nil
}

func Migrate() error {
	return AutoMigrate(DB)
}

// AutoMigrate creates or updates every table the engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Device{},
		&models.SensorReading{},
		&models.Alert{},
		&models.AuditLog{},
		&models.NotificationPreferences{},
		&models.Notification{},
		&models.RemoteConfig{},
	)
}
