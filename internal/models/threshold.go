package models

import "math"

// ThresholdConfig is a read-only snapshot of administrative limits for one
// parameter. Nil bounds are unbounded.
type ThresholdConfig struct {
	WarningMin         *float64 `yaml:"warning_min" json:"warning_min"`
	WarningMax         *float64 `yaml:"warning_max" json:"warning_max"`
	CriticalMin        *float64 `yaml:"critical_min" json:"critical_min"`
	CriticalMax        *float64 `yaml:"critical_max" json:"critical_max"`
	TrendThresholdPct  float64  `yaml:"trend_threshold_pct" json:"trend_threshold_pct"`
	TrendWindowMinutes int      `yaml:"trend_window_minutes" json:"trend_window_minutes"`
	Enabled            bool     `yaml:"enabled" json:"enabled"`
}

// ThresholdsValid reports whether the min/max bounds are finite and nested:
// criticalMin <= warningMin <= warningMax <= criticalMax wherever both sides are set.
func (c ThresholdConfig) ThresholdsValid() bool {
	bounds := []*float64{c.CriticalMin, c.WarningMin, c.WarningMax, c.CriticalMax}
	var prev *float64
	for _, b := range bounds {
		if b == nil {
			continue
		}
		if math.IsNaN(*b) || math.IsInf(*b, 0) {
			return false
		}
		if prev != nil && *prev > *b {
			return false
		}
		prev = b
	}
	return true
}

// TrendValid reports whether the trend settings can drive an evaluation.
func (c ThresholdConfig) TrendValid() bool {
	return c.TrendWindowMinutes > 0 &&
		c.TrendThresholdPct > 0 &&
		!math.IsNaN(c.TrendThresholdPct) &&
		!math.IsInf(c.TrendThresholdPct, 0)
}
