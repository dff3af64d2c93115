// ================================
// internal/metrics/metrics.go - Self-monitoring for the alerting & presence engine
// ================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Alerting path
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_readings_ingested_total",
			Help: "Total number of sensor readings evaluated",
		},
		[]string{"parameter", "source"},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_alert_transitions_total",
			Help: "Alert lifecycle transitions",
		},
		[]string{"action", "alert_type", "severity"}, // create/update/acknowledge/resolve/auto_resolve/delete
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_notifications_total",
			Help: "Notification intents by outcome",
		},
		[]string{"result"}, // delivered, suppressed, failed
	)

	NotificationQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_notification_events_dropped_total",
			Help: "Lifecycle events dropped because the dispatch queue was full",
		},
	)

	// Presence path
	PresenceRoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidewatch_presence_round_duration_seconds",
			Help:    "Duration of presence rounds (probe and state update)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_presence_transitions_total",
			Help: "Devices marked online/offline by presence rounds",
		},
		[]string{"status"},
	)

	DevicesResponded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_presence_devices_responded",
			Help: "Devices that answered the most recent presence query",
		},
	)

	LivenessConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tidewatch_websocket_connections_active",
			Help: "Active websocket connections",
		},
		[]string{"kind"}, // device, dashboard
	)

	// Scheduler
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_scheduler_runs_total",
			Help: "Scheduled task runs by result",
		},
		[]string{"task", "result"}, // ok, error, panic, skipped
	)

	ReadingsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_readings_purged_total",
			Help: "Sensor readings removed by retention cleanup",
		},
	)
)
