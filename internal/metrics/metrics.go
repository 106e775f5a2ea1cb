// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts completed orchestrator runs by family, strategy, and
	// outcome (success, failure, skipped).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide_sync",
		Name:      "runs_total",
		Help:      "Sync runs by resource family, strategy, and outcome.",
	}, []string{"family", "strategy", "outcome"})

	// SyncDuration observes wall-clock run duration in seconds.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aide_sync",
		Name:      "run_duration_seconds",
		Help:      "Sync run duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"family", "strategy"})

	// EntitiesUpserted counts records written by the reconciler.
	EntitiesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide_sync",
		Name:      "entities_upserted_total",
		Help:      "Entity records upserted by resource family.",
	}, []string{"family"})

	// StaleRecordsDropped counts incoming records rejected by the sequence
	// guard.
	StaleRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide_sync",
		Name:      "stale_records_dropped_total",
		Help:      "Incoming records dropped for carrying a stale sequence.",
	}, []string{"family"})

	// RecordErrors counts records skipped during reconciliation.
	RecordErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide_sync",
		Name:      "record_errors_total",
		Help:      "Records skipped during reconciliation by resource family.",
	}, []string{"family"})

	// WebhookNotifications counts inbound push notifications by outcome
	// (accepted, rejected). Handshakes and debounced duplicates are
	// acknowledged inside Receive and count as accepted.
	WebhookNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide_sync",
		Name:      "webhook_notifications_total",
		Help:      "Inbound webhook notifications by outcome.",
	}, []string{"outcome"})

	// TasksProcessed counts worker task completions by type and outcome.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide_sync",
		Name:      "tasks_processed_total",
		Help:      "Background tasks processed by type and outcome.",
	}, []string{"type", "outcome"})
)
