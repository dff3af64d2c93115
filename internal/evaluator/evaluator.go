// Package evaluator turns a single sensor reading into candidate alerts. It is
// pure: callers own the trend window and the alert state.
package evaluator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/models"
)

type Sample struct {
	Value     float64   `json:"v"`
	Timestamp time.Time `json:"t"`
}

// Candidate is a proposed alert for one dedup key.
type Candidate struct {
	DeviceID       string
	Parameter      models.Parameter
	AlertType      models.AlertType
	Severity       models.Severity
	CurrentValue   float64
	ThresholdValue *float64
	TrendDirection models.TrendDirection
	ChangePct      float64
	Message        string
}

func (c Candidate) Key() models.DedupKey {
	return models.DedupKey{DeviceID: c.DeviceID, Parameter: c.Parameter, AlertType: c.AlertType}
}

// Evaluate runs the threshold and trend checks independently. window must
// already contain the reading itself (see Slide).
func Evaluate(r models.SensorReading, cfg models.ThresholdConfig, window []Sample) []Candidate {
	var out []Candidate
	if c := CheckThreshold(r, cfg); c != nil {
		out = append(out, *c)
	}
	if c := CheckTrend(r, cfg, window); c != nil {
		out = append(out, *c)
	}
	return out
}

// CheckThreshold compares the reading against critical bounds first, then
// warning bounds. Disabled or malformed configs never alert.
func CheckThreshold(r models.SensorReading, cfg models.ThresholdConfig) *Candidate {
	if !cfg.Enabled || !cfg.ThresholdsValid() || math.IsNaN(r.Value) {
		return nil
	}

	if bound, ok := breached(r.Value, cfg.CriticalMin, cfg.CriticalMax); ok {
		return thresholdCandidate(r, models.SeverityCritical, bound)
	}
	if bound, ok := breached(r.Value, cfg.WarningMin, cfg.WarningMax); ok {
		return thresholdCandidate(r, models.SeverityWarning, bound)
	}
	return nil
}

func breached(v float64, min, max *float64) (float64, bool) {
	if min != nil && v < *min {
		return *min, true
	}
	if max != nil && v > *max {
		return *max, true
	}
	return 0, false
}

func thresholdCandidate(r models.SensorReading, sev models.Severity, bound float64) *Candidate {
	b := bound
	return &Candidate{
		DeviceID:       r.DeviceID,
		Parameter:      r.Parameter,
		AlertType:      models.AlertTypeThreshold,
		Severity:       sev,
		CurrentValue:   r.Value,
		ThresholdValue: &b,
		Message:        fmt.Sprintf("%s %.2f breached %s limit %.2f", r.Parameter, r.Value, sev, bound),
	}
}

// CheckTrend fires when the percent change from the oldest in-window sample to
// the reading itself reaches TrendThresholdPct. Trend alerts are always warnings.
func CheckTrend(r models.SensorReading, cfg models.ThresholdConfig, window []Sample) *Candidate {
	oldest, ok := trendBaseline(r, cfg, window)
	if !ok {
		return nil
	}
	newest := Sample{Value: r.Value, Timestamp: r.Timestamp}

	pct := (newest.Value - oldest.Value) / math.Abs(oldest.Value) * 100
	if math.IsNaN(pct) || math.Abs(pct) < cfg.TrendThresholdPct {
		return nil
	}

	dir := models.TrendIncreasing
	if pct < 0 {
		dir = models.TrendDecreasing
	}
	return &Candidate{
		DeviceID:       r.DeviceID,
		Parameter:      r.Parameter,
		AlertType:      models.AlertTypeTrend,
		Severity:       models.SeverityWarning,
		CurrentValue:   r.Value,
		TrendDirection: dir,
		ChangePct:      pct,
		Message: fmt.Sprintf("%s %s %.1f%% over %d min (%.2f -> %.2f)",
			r.Parameter, dir, math.Abs(pct), cfg.TrendWindowMinutes, oldest.Value, newest.Value),
	}
}

// TrendEvaluable reports whether the trend check actually runs for r: the
// config is usable, the window holds at least two samples in
// [r.Timestamp-horizon, r.Timestamp] and the oldest of them is non-zero. A
// reading that is not evaluable is neither a breach nor a clear.
func TrendEvaluable(r models.SensorReading, cfg models.ThresholdConfig, window []Sample) bool {
	_, ok := trendBaseline(r, cfg, window)
	return ok
}

func trendBaseline(r models.SensorReading, cfg models.ThresholdConfig, window []Sample) (Sample, bool) {
	if !cfg.Enabled || !cfg.TrendValid() || math.IsNaN(r.Value) {
		return Sample{}, false
	}
	samples := inWindow(window, r.Timestamp, Horizon(cfg))
	if len(samples) < 2 || samples[0].Value == 0 || math.IsNaN(samples[0].Value) {
		return Sample{}, false
	}
	return samples[0], true
}

// Horizon is the trend window length.
func Horizon(cfg models.ThresholdConfig) time.Duration {
	return time.Duration(cfg.TrendWindowMinutes) * time.Minute
}

// Slide appends s and evicts samples older than horizon relative to s. Samples
// stamped after s are kept for later readings; inWindow excludes them when
// evaluating s. The result is sorted oldest first.
func Slide(window []Sample, s Sample, horizon time.Duration) []Sample {
	cutoff := s.Timestamp.Add(-horizon)
	out := make([]Sample, 0, len(window)+1)
	for _, w := range window {
		if !w.Timestamp.Before(cutoff) {
			out = append(out, w)
		}
	}
	out = append(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// inWindow returns the samples in [now-horizon, now], oldest first.
func inWindow(window []Sample, now time.Time, horizon time.Duration) []Sample {
	cutoff := now.Add(-horizon)
	sorted := make([]Sample, 0, len(window))
	for _, s := range window {
		if !s.Timestamp.Before(cutoff) && !s.Timestamp.After(now) {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}
