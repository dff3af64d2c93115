package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port     string
	LogLevel string

	// Database
	DBDriver   string // postgres, sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPath     string // sqlite only

	// Auth
	JWTSecret     string
	AdminUsername string
	AdminPassword string

	// Redis (optional shared trend windows)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Alerting
	ThresholdsFile        string
	AutoResolveAfter      int
	AutoResolveSeverities []string
	NotificationQueueSize int

	// Presence
	PresenceTimeoutMs            int
	ProbeConcurrency             int
	PresenceOverridesAdminStatus bool

	// Retention
	RetentionDays int
}

// Load reads config.yaml (if present in the working directory or /etc/tidewatch)
// and overlays environment variables such as DB_HOST or PRESENCE_TIMEOUT_MS.
func Load() *Config {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tidewatch")
	v.AutomaticEnv()
	// A missing file is fine; env and defaults still apply.
	_ = v.ReadInConfig()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8097")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "tidewatch_db")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_PATH", "tidewatch.db")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("THRESHOLDS_FILE", "thresholds.yaml")
	v.SetDefault("AUTO_RESOLVE_AFTER", 3)
	v.SetDefault("AUTO_RESOLVE_SEVERITIES", "advisory")
	v.SetDefault("NOTIFICATION_QUEUE_SIZE", 256)
	v.SetDefault("PRESENCE_TIMEOUT_MS", 5000)
	v.SetDefault("PROBE_CONCURRENCY", 64)
	v.SetDefault("PRESENCE_OVERRIDES_ADMIN_STATUS", false)
	v.SetDefault("RETENTION_DAYS", 90)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:                         v.GetString("PORT"),
		LogLevel:                     v.GetString("LOG_LEVEL"),
		DBDriver:                     v.GetString("DB_DRIVER"),
		DBHost:                       v.GetString("DB_HOST"),
		DBPort:                       v.GetString("DB_PORT"),
		DBUser:                       v.GetString("DB_USER"),
		DBPassword:                   v.GetString("DB_PASSWORD"),
		DBName:                       v.GetString("DB_NAME"),
		DBSSLMode:                    v.GetString("DB_SSLMODE"),
		DBPath:                       v.GetString("DB_PATH"),
		JWTSecret:                    v.GetString("JWT_SECRET"),
		AdminUsername:                v.GetString("ADMIN_USERNAME"),
		AdminPassword:                v.GetString("ADMIN_PASSWORD"),
		RedisAddr:                    v.GetString("REDIS_ADDR"),
		RedisPassword:                v.GetString("REDIS_PASSWORD"),
		RedisDB:                      v.GetInt("REDIS_DB"),
		ThresholdsFile:               v.GetString("THRESHOLDS_FILE"),
		AutoResolveAfter:             v.GetInt("AUTO_RESOLVE_AFTER"),
		AutoResolveSeverities:        splitList(v.GetString("AUTO_RESOLVE_SEVERITIES")),
		NotificationQueueSize:        v.GetInt("NOTIFICATION_QUEUE_SIZE"),
		PresenceTimeoutMs:            v.GetInt("PRESENCE_TIMEOUT_MS"),
		ProbeConcurrency:             v.GetInt("PROBE_CONCURRENCY"),
		PresenceOverridesAdminStatus: v.GetBool("PRESENCE_OVERRIDES_ADMIN_STATUS"),
		RetentionDays:                v.GetInt("RETENTION_DAYS"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
