package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/evaluator"
	"github.com/ahmetk3436/tidewatch/internal/metrics"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert state transition")
	ErrActorRequired     = errors.New("performed-by is required")
	ErrInvalidReading    = errors.New("invalid sensor reading")
)

// SystemActor performs automatic transitions.
const SystemActor = "system"

// MaxClockSkew is how far ahead of server time a device timestamp may be.
const MaxClockSkew = 5 * time.Minute

type EventKind string

const (
	EventCreated         EventKind = "created"
	EventUpdated         EventKind = "updated"
	EventSeverityChanged EventKind = "severity_changed"
	EventAcknowledged    EventKind = "acknowledged"
	EventResolved        EventKind = "resolved"
	EventDeleted         EventKind = "deleted"
)

type AlertEvent struct {
	Kind             EventKind
	Alert            models.Alert
	PreviousSeverity models.Severity
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(ev AlertEvent)
}

type AlertManagerOptions struct {
	// AutoResolveAfter consecutive clear evaluations resolve an open alert whose
	// severity is in AutoResolveSeverities. Zero disables automatic resolution.
	AutoResolveAfter      int
	AutoResolveSeverities []models.Severity
	Now                   func() time.Time
}

// AlertManager owns the alert lifecycle. Each dedup key maps onto at most one
// open (active or acknowledged) alert through index; the alerts table backs it
// with a partial unique index.
type AlertManager struct {
	db         *gorm.DB
	thresholds ThresholdSource
	windows    TrendWindowStore
	sink       EventSink
	log        logger.Logger
	opts       AlertManagerOptions
	autoSev    map[models.Severity]bool

	locks *keyedMutex

	idxMu sync.RWMutex
	index map[models.DedupKey]uuid.UUID
}

func NewAlertManager(db *gorm.DB, thresholds ThresholdSource, windows TrendWindowStore, sink EventSink, log logger.Logger, opts AlertManagerOptions) *AlertManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	autoSev := make(map[models.Severity]bool)
	for _, s := range opts.AutoResolveSeverities {
		autoSev[s] = true
	}
	return &AlertManager{
		db:         db,
		thresholds: thresholds,
		windows:    windows,
		sink:       sink,
		log:        log,
		opts:       opts,
		autoSev:    autoSev,
		locks:      newKeyedMutex(),
		index:      make(map[models.DedupKey]uuid.UUID),
	}
}

// Restore rebuilds the dedup index from open alerts. Call once before ingesting.
func (m *AlertManager) Restore(ctx context.Context) error {
	var open []models.Alert
	err := m.db.WithContext(ctx).
		Where("status IN ?", []models.AlertStatus{models.AlertStatusActive, models.AlertStatusAcknowledged}).
		Find(&open).Error
	if err != nil {
		return fmt.Errorf("restore open alerts: %w", err)
	}

	m.idxMu.Lock()
	for _, a := range open {
		m.index[a.Key()] = a.ID
	}
	m.idxMu.Unlock()
	m.log.Info("Alert index restored", "open_alerts", len(open))
	return nil
}

func streamKey(deviceID string, p models.Parameter) string {
	return deviceID + "/" + string(p)
}

// Ingest records a reading and runs it through the evaluator and the alert
// lifecycle. It returns the alerts created or updated by this reading.
func (m *AlertManager) Ingest(ctx context.Context, r models.SensorReading, source string) ([]models.Alert, error) {
	if r.DeviceID == "" || !r.Parameter.Valid() {
		return nil, fmt.Errorf("%w: device %q parameter %q", ErrInvalidReading, r.DeviceID, r.Parameter)
	}
	now := m.opts.Now()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.Timestamp.After(now.Add(MaxClockSkew)) {
		return nil, fmt.Errorf("%w: timestamp %s is ahead of server time", ErrInvalidReading, r.Timestamp.Format(time.RFC3339))
	}

	if err := m.db.WithContext(ctx).Create(&r).Error; err != nil {
		// Archival is independent of alerting; keep evaluating.
		m.log.Warn("Failed to persist reading", "device", r.DeviceID, "parameter", r.Parameter, "error", err)
	}
	metrics.ReadingsIngested.WithLabelValues(string(r.Parameter), source).Inc()

	cfg, ok := m.thresholds.Thresholds(r.Parameter)
	if !ok || !cfg.Enabled {
		return nil, nil
	}

	unlock := m.locks.Lock(streamKey(r.DeviceID, r.Parameter))
	defer unlock()

	var window []evaluator.Sample
	trendEvaluable := cfg.TrendValid()
	if trendEvaluable {
		w, err := m.windows.Push(ctx, streamKey(r.DeviceID, r.Parameter), evaluator.Sample{Value: r.Value, Timestamp: r.Timestamp}, evaluator.Horizon(cfg))
		if err != nil {
			m.log.Warn("Trend window unavailable, skipping trend check", "device", r.DeviceID, "parameter", r.Parameter, "error", err)
			trendEvaluable = false
		}
		window = w
	}

	candidates := map[models.AlertType]evaluator.Candidate{}
	for _, c := range evaluator.Evaluate(r, cfg, window) {
		candidates[c.AlertType] = c
	}

	evaluable := map[models.AlertType]bool{
		models.AlertTypeThreshold: cfg.ThresholdsValid(),
		models.AlertTypeTrend:     trendEvaluable && evaluator.TrendEvaluable(r, cfg, window),
	}

	var touched []models.Alert
	for _, t := range []models.AlertType{models.AlertTypeThreshold, models.AlertTypeTrend} {
		key := models.DedupKey{DeviceID: r.DeviceID, Parameter: r.Parameter, AlertType: t}
		if c, ok := candidates[t]; ok {
			a, err := m.applyCandidate(ctx, c)
			if err != nil {
				m.log.Error("Failed to apply alert candidate", "key", key.String(), "error", err)
				continue
			}
			touched = append(touched, *a)
			continue
		}
		if evaluable[t] {
			if err := m.recordClear(ctx, key); err != nil {
				m.log.Error("Failed to record clear evaluation", "key", key.String(), "error", err)
			}
		}
	}
	return touched, nil
}

func (m *AlertManager) lookup(key models.DedupKey) (uuid.UUID, bool) {
	m.idxMu.RLock()
	defer m.idxMu.RUnlock()
	id, ok := m.index[key]
	return id, ok
}

func (m *AlertManager) bind(key models.DedupKey, id uuid.UUID) {
	m.idxMu.Lock()
	m.index[key] = id
	m.idxMu.Unlock()
}

// unbind drops key only if it still points at id.
func (m *AlertManager) unbind(key models.DedupKey, id uuid.UUID) {
	m.idxMu.Lock()
	if cur, ok := m.index[key]; ok && cur == id {
		delete(m.index, key)
	}
	m.idxMu.Unlock()
}

// openAlert returns the open alert bound to key, repairing stale index entries.
func (m *AlertManager) openAlert(ctx context.Context, key models.DedupKey) (*models.Alert, error) {
	id, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	var a models.Alert
	err := m.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !a.Open()) {
		m.unbind(key, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *AlertManager) applyCandidate(ctx context.Context, c evaluator.Candidate) (*models.Alert, error) {
	key := c.Key()
	existing, err := m.openAlert(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return m.create(ctx, c)
	}
	return m.update(ctx, existing, c)
}

func (m *AlertManager) create(ctx context.Context, c evaluator.Candidate) (*models.Alert, error) {
	now := m.opts.Now()
	a := models.Alert{
		DeviceID:          c.DeviceID,
		Parameter:         c.Parameter,
		AlertType:         c.AlertType,
		Severity:          c.Severity,
		Status:            models.AlertStatusActive,
		CurrentValue:      c.CurrentValue,
		ThresholdValue:    c.ThresholdValue,
		TrendDirection:    c.TrendDirection,
		Message:           c.Message,
		NotificationsSent: []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		return CreateAuditLog(tx, SystemActor, "create", a.ID.String(), c.Message, map[string]interface{}{
			"severity":      a.Severity,
			"current_value": a.CurrentValue,
			"dedup_key":     c.Key().String(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create alert %s: %w", c.Key(), err)
	}

	m.bind(a.Key(), a.ID)
	metrics.AlertTransitions.WithLabelValues("create", string(a.AlertType), string(a.Severity)).Inc()
	m.log.Info("Alert created", "alert_id", a.ID, "key", c.Key().String(), "severity", a.Severity, "value", a.CurrentValue)
	m.publish(AlertEvent{Kind: EventCreated, Alert: a})
	return &a, nil
}

func (m *AlertManager) update(ctx context.Context, a *models.Alert, c evaluator.Candidate) (*models.Alert, error) {
	prev := a.Severity
	a.CurrentValue = c.CurrentValue
	a.Severity = c.Severity
	a.ThresholdValue = c.ThresholdValue
	a.TrendDirection = c.TrendDirection
	a.Message = c.Message
	a.ClearStreak = 0
	a.UpdatedAt = m.opts.Now()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Alert{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"current_value":   a.CurrentValue,
			"severity":        a.Severity,
			"threshold_value": a.ThresholdValue,
			"trend_direction": a.TrendDirection,
			"message":         a.Message,
			"clear_streak":    0,
			"updated_at":      a.UpdatedAt,
		}).Error
		if err != nil {
			return err
		}
		return CreateAuditLog(tx, SystemActor, "update", a.ID.String(), c.Message, map[string]interface{}{
			"previous_severity": prev,
			"severity":          a.Severity,
			"current_value":     a.CurrentValue,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update alert %s: %w", a.ID, err)
	}

	kind := EventUpdated
	if prev != a.Severity {
		kind = EventSeverityChanged
		m.log.Info("Alert severity changed", "alert_id", a.ID, "from", prev, "to", a.Severity)
	}
	metrics.AlertTransitions.WithLabelValues("update", string(a.AlertType), string(a.Severity)).Inc()
	m.publish(AlertEvent{Kind: kind, Alert: *a, PreviousSeverity: prev})
	return a, nil
}

// recordClear counts a clear evaluation against the open alert of key and
// applies the automatic resolution policy.
func (m *AlertManager) recordClear(ctx context.Context, key models.DedupKey) error {
	a, err := m.openAlert(ctx, key)
	if err != nil || a == nil {
		return err
	}

	a.ClearStreak++
	if m.opts.AutoResolveAfter > 0 && m.autoSev[a.Severity] && a.ClearStreak >= m.opts.AutoResolveAfter {
		_, err := m.resolveLocked(ctx, a, SystemActor, fmt.Sprintf("condition cleared for %d consecutive evaluations", a.ClearStreak), "auto_resolve")
		return err
	}
	return m.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", a.ID).Update("clear_streak", a.ClearStreak).Error
}

// withAlert loads id, takes its stream lock and reloads it so transitions see
// the latest state.
func (m *AlertManager) withAlert(ctx context.Context, id uuid.UUID, fn func(a *models.Alert) error) error {
	a, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock := m.locks.Lock(streamKey(a.DeviceID, a.Parameter))
	defer unlock()

	a, err = m.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(a)
}

// Acknowledge moves an active alert to acknowledged. The alert keeps its dedup
// slot until resolved.
func (m *AlertManager) Acknowledge(ctx context.Context, id uuid.UUID, by, notes string) (*models.Alert, error) {
	if by == "" {
		return nil, ErrActorRequired
	}
	var out *models.Alert
	err := m.withAlert(ctx, id, func(a *models.Alert) error {
		if a.Status != models.AlertStatusActive {
			return fmt.Errorf("%w: cannot acknowledge %s alert", ErrInvalidTransition, a.Status)
		}
		now := m.opts.Now()
		a.Status = models.AlertStatusAcknowledged
		a.AcknowledgedAt = &now
		a.AcknowledgedBy = by
		a.UpdatedAt = now

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Model(&models.Alert{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
				"status":          a.Status,
				"acknowledged_at": now,
				"acknowledged_by": by,
				"updated_at":      now,
			}).Error
			if err != nil {
				return err
			}
			return CreateAuditLog(tx, by, "acknowledge", a.ID.String(), notes, nil)
		})
		if err != nil {
			return err
		}
		metrics.AlertTransitions.WithLabelValues("acknowledge", string(a.AlertType), string(a.Severity)).Inc()
		m.publish(AlertEvent{Kind: EventAcknowledged, Alert: *a})
		out = a
		return nil
	})
	return out, err
}

// Resolve closes an active or acknowledged alert. Resolved is terminal.
func (m *AlertManager) Resolve(ctx context.Context, id uuid.UUID, by, notes string) (*models.Alert, error) {
	if by == "" {
		return nil, ErrActorRequired
	}
	var out *models.Alert
	err := m.withAlert(ctx, id, func(a *models.Alert) error {
		if !a.Open() {
			return fmt.Errorf("%w: alert already %s", ErrInvalidTransition, a.Status)
		}
		r, err := m.resolveLocked(ctx, a, by, notes, "resolve")
		out = r
		return err
	})
	return out, err
}

func (m *AlertManager) resolveLocked(ctx context.Context, a *models.Alert, by, notes, action string) (*models.Alert, error) {
	now := m.opts.Now()
	a.Status = models.AlertStatusResolved
	a.ResolvedAt = &now
	a.ResolvedBy = by
	a.UpdatedAt = now

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Alert{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"status":       a.Status,
			"resolved_at":  now,
			"resolved_by":  by,
			"clear_streak": a.ClearStreak,
			"updated_at":   now,
		}).Error
		if err != nil {
			return err
		}
		return CreateAuditLog(tx, by, action, a.ID.String(), notes, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve alert %s: %w", a.ID, err)
	}

	m.unbind(a.Key(), a.ID)
	metrics.AlertTransitions.WithLabelValues(action, string(a.AlertType), string(a.Severity)).Inc()
	m.log.Info("Alert resolved", "alert_id", a.ID, "by", by, "action", action)
	m.publish(AlertEvent{Kind: EventResolved, Alert: *a})
	return a, nil
}

// Delete removes an alert permanently. This is an administrative operation.
func (m *AlertManager) Delete(ctx context.Context, id uuid.UUID, by string) error {
	if by == "" {
		return ErrActorRequired
	}
	return m.withAlert(ctx, id, func(a *models.Alert) error {
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Alert{}, "id = ?", a.ID).Error; err != nil {
				return err
			}
			return CreateAuditLog(tx, by, "delete", a.ID.String(), "", map[string]interface{}{
				"dedup_key": a.Key().String(),
				"status":    a.Status,
			})
		})
		if err != nil {
			return err
		}
		m.unbind(a.Key(), a.ID)
		metrics.AlertTransitions.WithLabelValues("delete", string(a.AlertType), string(a.Severity)).Inc()
		m.publish(AlertEvent{Kind: EventDeleted, Alert: *a})
		return nil
	})
}

// RecordNotified appends delivered recipients to the alert's notification log,
// skipping ids already present.
func (m *AlertManager) RecordNotified(ctx context.Context, id uuid.UUID, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return m.withAlert(ctx, id, func(a *models.Alert) error {
		sent := append([]string{}, a.NotificationsSent...)
		changed := false
		for _, u := range userIDs {
			if !a.Notified(u) {
				sent = append(sent, u)
				a.NotificationsSent = sent
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return m.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", a.ID).
			Update("notifications_sent", a.NotificationsSent).Error
	})
}

func (m *AlertManager) publish(ev AlertEvent) {
	if m.sink != nil {
		m.sink.Publish(ev)
	}
}

func (m *AlertManager) Get(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var a models.Alert
	err := m.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type AlertFilter struct {
	Status    string
	Severity  string
	Parameter string
	AlertType string
	DeviceID  string
	Page      int
	PerPage   int
}

// List returns a page of alerts, newest first, and the total matching count.
func (m *AlertManager) List(ctx context.Context, f AlertFilter) ([]models.Alert, int64, error) {
	page, perPage := normalizePage(f.Page, f.PerPage)

	query := m.db.WithContext(ctx).Model(&models.Alert{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	if f.Parameter != "" {
		query = query.Where("parameter = ?", f.Parameter)
	}
	if f.AlertType != "" {
		query = query.Where("alert_type = ?", f.AlertType)
	}
	if f.DeviceID != "" {
		query = query.Where("device_id = ?", f.DeviceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var alerts []models.Alert
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&alerts).Error
	return alerts, total, err
}

func (m *AlertManager) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var alerts []models.Alert
	err := m.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("created_at DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

// UnacknowledgedCount counts alerts still in the active state.
func (m *AlertManager) UnacknowledgedCount(ctx context.Context) (int64, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&models.Alert{}).Where("status = ?", models.AlertStatusActive).Count(&n).Error
	return n, err
}

type AlertStats struct {
	Total       int64            `json:"total"`
	BySeverity  map[string]int64 `json:"by_severity"`
	ByStatus    map[string]int64 `json:"by_status"`
	ByParameter map[string]int64 `json:"by_parameter"`
}

func (m *AlertManager) Stats(ctx context.Context) (*AlertStats, error) {
	stats := &AlertStats{}
	var err error
	if stats.BySeverity, err = m.countBy(ctx, "severity"); err != nil {
		return nil, err
	}
	if stats.ByStatus, err = m.countBy(ctx, "status"); err != nil {
		return nil, err
	}
	if stats.ByParameter, err = m.countBy(ctx, "parameter"); err != nil {
		return nil, err
	}
	for _, n := range stats.ByStatus {
		stats.Total += n
	}
	return stats, nil
}

func (m *AlertManager) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []struct {
		Value string
		Count int64
	}
	err := m.db.WithContext(ctx).Model(&models.Alert{}).
		Select(column + " AS value, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count alerts by %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Value] = r.Count
	}
	return out, nil
}
