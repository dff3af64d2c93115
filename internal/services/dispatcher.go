package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/metrics"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Intent is one user's share of a dispatch. Suppressed intents are never
// delivered and never retried for that alert instance.
type Intent struct {
	UserID     string    `json:"user_id"`
	AlertID    uuid.UUID `json:"alert_id"`
	Suppressed bool      `json:"suppressed"`
}

// Notifier delivers a single notification.
type Notifier interface {
	Notify(ctx context.Context, userID string, a models.Alert) error
}

// NotifiedRecorder appends delivered user ids to an alert's notification log.
type NotifiedRecorder interface {
	RecordNotified(ctx context.Context, alertID uuid.UUID, userIDs []string) error
}

// Dispatcher matches lifecycle events against user preferences and hands the
// deliverable intents to a Notifier. Events are consumed by a single worker so
// the reading path never waits on delivery.
type Dispatcher struct {
	db       *gorm.DB
	notifier Notifier
	location func() *time.Location
	log      logger.Logger
	now      func() time.Time

	events chan AlertEvent
}

// NewDispatcher builds a dispatcher whose quiet hours are evaluated in the
// zone returned by location.
func NewDispatcher(db *gorm.DB, notifier Notifier, location func() *time.Location, log logger.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if location == nil {
		location = func() *time.Location { return time.UTC }
	}
	return &Dispatcher{
		db:       db,
		notifier: notifier,
		location: location,
		log:      log,
		now:      time.Now,
		events:   make(chan AlertEvent, queueSize),
	}
}

// Publish queues created and severity_changed events. Other kinds never notify.
// A full queue drops the event.
func (d *Dispatcher) Publish(ev AlertEvent) {
	if ev.Kind != EventCreated && ev.Kind != EventSeverityChanged {
		return
	}
	select {
	case d.events <- ev:
	default:
		metrics.NotificationQueueDropped.Inc()
		d.log.Warn("Notification queue full, dropping event", "alert_id", ev.Alert.ID, "kind", ev.Kind)
	}
}

// Run consumes queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, recorder NotifiedRecorder) {
	d.log.Info("Notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Notification dispatcher stopped")
			return
		case ev := <-d.events:
			if err := d.handle(ctx, ev, recorder); err != nil {
				d.log.Error("Notification dispatch failed", "alert_id", ev.Alert.ID, "error", err)
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev AlertEvent, recorder NotifiedRecorder) error {
	var prefs []models.NotificationPreferences
	if err := d.db.WithContext(ctx).Find(&prefs).Error; err != nil {
		return fmt.Errorf("load notification preferences: %w", err)
	}

	intents := d.Dispatch(ctx, ev.Alert, prefs, d.now())

	var delivered []string
	for _, in := range intents {
		if in.Suppressed {
			metrics.NotificationsSent.WithLabelValues("suppressed").Inc()
			d.log.Debug("Notification suppressed by quiet hours", "user_id", in.UserID, "alert_id", in.AlertID)
			continue
		}
		if err := d.notifier.Notify(ctx, in.UserID, ev.Alert); err != nil {
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			d.log.Warn("Notification delivery failed", "user_id", in.UserID, "alert_id", in.AlertID, "error", err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues("delivered").Inc()
		delivered = append(delivered, in.UserID)
	}

	if len(delivered) == 0 || recorder == nil {
		return nil
	}
	return recorder.RecordNotified(ctx, ev.Alert.ID, delivered)
}

// Dispatch returns one intent per user whose preferences match the alert.
// Users inside their quiet window get a suppressed intent.
func (d *Dispatcher) Dispatch(ctx context.Context, a models.Alert, prefs []models.NotificationPreferences, now time.Time) []Intent {
	local := now.In(d.location())

	var intents []Intent
	for _, p := range prefs {
		if !Eligible(a, p) {
			continue
		}
		suppressed := false
		if p.QuietHoursEnabled {
			quiet, err := InQuietHours(local, p.QuietHoursStart, p.QuietHoursEnd)
			if err != nil {
				d.log.Warn("Ignoring malformed quiet hours", "user_id", p.UserID, "error", err)
			}
			suppressed = quiet
		}
		intents = append(intents, Intent{UserID: p.UserID, AlertID: a.ID, Suppressed: suppressed})
	}
	return intents
}

// Eligible reports whether prefs subscribe to the alert's severity, parameter
// and device. An empty device list subscribes to every device.
func Eligible(a models.Alert, p models.NotificationPreferences) bool {
	if !contains(p.Severities, string(a.Severity)) {
		return false
	}
	if !contains(p.Parameters, string(a.Parameter)) {
		return false
	}
	return len(p.Devices) == 0 || contains(p.Devices, a.DeviceID)
}

// InQuietHours reports whether t's wall clock falls in [start, end). A start
// after end wraps midnight; equal bounds mean no quiet window.
func InQuietHours(t time.Time, start, end string) (bool, error) {
	s, err := parseClock(start)
	if err != nil {
		return false, err
	}
	e, err := parseClock(end)
	if err != nil {
		return false, err
	}
	if s == e {
		return false, nil
	}

	m := t.Hour()*60 + t.Minute()
	if s < e {
		return m >= s && m < e, nil
	}
	return m >= s || m < e, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
