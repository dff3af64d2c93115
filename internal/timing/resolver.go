package timing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"gorm.io/gorm"
)

// ConfigKey is the well-known remote config key holding the timing document.
const ConfigKey = "system.timing"

type Config struct {
	CheckIntervalMinutes int       `json:"check_interval_minutes"`
	Timezone             string    `json:"timezone"`
	UpdatedAt            time.Time `json:"updated_at"`
	UpdatedBy            string    `json:"updated_by,omitempty"`
}

func Default() Config {
	return Config{CheckIntervalMinutes: DefaultIntervalMinutes, Timezone: DefaultTimezone}
}

func (c Config) validate() error {
	if err := Validate(c.CheckIntervalMinutes); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	return nil
}

// Store persists the timing document. Load returns (nil, nil) when none exists.
type Store interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg Config) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context) (*Config, error) {
	var row models.RemoteConfig
	err := s.db.WithContext(ctx).Where(&models.RemoteConfig{Key: ConfigKey}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ConfigKey, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(row.Value), &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ConfigKey, err)
	}
	return &cfg, nil
}

func (s *GormStore) Save(ctx context.Context, cfg Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.RemoteConfig
		err := tx.Where(&models.RemoteConfig{Key: ConfigKey}).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.RemoteConfig{
				Key:       ConfigKey,
				Value:     string(b),
				Type:      "json",
				UpdatedBy: cfg.UpdatedBy,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]interface{}{
			"value":      string(b),
			"type":       "json",
			"updated_by": cfg.UpdatedBy,
			"updated_at": time.Now(),
		}).Error
	})
}

// Resolver caches the active timing configuration and derives the constants
// that the presence path and the scheduler share.
type Resolver struct {
	store Store
	log   logger.Logger

	mu     sync.RWMutex
	cached Config
}

func NewResolver(store Store, log logger.Logger) *Resolver {
	return &Resolver{store: store, log: log, cached: Default()}
}

// Resolve reloads the stored document. Missing documents are replaced by the
// default, which is written back; unreadable or invalid ones fall back to the
// last good value (or the default) without touching the store.
func (r *Resolver) Resolve(ctx context.Context) Config {
	stored, err := r.store.Load(ctx)
	switch {
	case err != nil:
		r.log.Warn("Timing config unavailable, using fallback", "error", err, "interval_minutes", r.Current().CheckIntervalMinutes)
		return r.Current()
	case stored == nil:
		def := Default()
		def.UpdatedAt = time.Now()
		def.UpdatedBy = "system"
		if err := r.store.Save(ctx, def); err != nil {
			r.log.Warn("Failed to persist default timing config", "error", err)
		}
		r.log.Info("Timing config absent, using default", "interval_minutes", def.CheckIntervalMinutes)
		r.set(def)
		return def
	}

	if err := stored.validate(); err != nil {
		r.log.Warn("Stored timing config invalid, using fallback", "error", err, "interval_minutes", r.Current().CheckIntervalMinutes)
		return r.Current()
	}
	r.set(*stored)
	return *stored
}

// Update validates and persists a new interval/timezone. Out-of-range intervals
// are rejected and never reach the scheduler.
func (r *Resolver) Update(ctx context.Context, minutes int, timezone, updatedBy string) (Config, error) {
	if timezone == "" {
		timezone = r.Current().Timezone
	}
	cfg := Config{
		CheckIntervalMinutes: minutes,
		Timezone:             timezone,
		UpdatedAt:            time.Now(),
		UpdatedBy:            updatedBy,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if err := r.store.Save(ctx, cfg); err != nil {
		return Config{}, fmt.Errorf("save timing config: %w", err)
	}
	r.set(cfg)
	r.log.Info("Timing config updated", "interval_minutes", minutes, "timezone", timezone, "by", updatedBy)
	return cfg, nil
}

func (r *Resolver) set(cfg Config) {
	r.mu.Lock()
	r.cached = cfg
	r.mu.Unlock()
}

// Current returns the cached configuration without I/O.
func (r *Resolver) Current() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached
}

func (r *Resolver) Interval() time.Duration {
	return time.Duration(r.Current().CheckIntervalMinutes) * time.Minute
}

func (r *Resolver) OfflineThreshold() time.Duration {
	return OfflineThreshold(r.Current().CheckIntervalMinutes)
}

func (r *Resolver) ScheduleExpression() (string, error) {
	return ScheduleExpression(r.Current().CheckIntervalMinutes)
}

// Location returns the configured timezone, UTC if it cannot be loaded.
func (r *Resolver) Location() *time.Location {
	loc, err := time.LoadLocation(r.Current().Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
