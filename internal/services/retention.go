package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/metrics"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"gorm.io/gorm"
)

const DefaultRetention = 90 * 24 * time.Hour

type Retention struct {
	db  *gorm.DB
	log logger.Logger
	now func() time.Time
}

func NewRetention(db *gorm.DB, log logger.Logger) *Retention {
	return &Retention{db: db, log: log, now: time.Now}
}

// PurgeOlderThan deletes readings whose timestamp is older than age and
// returns how many were removed.
func (r *Retention) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultRetention
	}
	cutoff := r.now().Add(-age)

	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SensorReading{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge readings before %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}

	metrics.ReadingsPurged.Add(float64(res.RowsAffected))
	r.log.Info("Retention cleanup complete", "deleted", res.RowsAffected, "cutoff", cutoff)
	return res.RowsAffected, nil
}
