// Package metrics exposes the sync engine's Prometheus metrics: queue
// depth, sync-cycle timing, retry counts, storage quota pressure, and
// degraded-mode state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth is the number of queued operations by status and priority.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cocoasync_queue_depth",
			Help: "Number of queued operations by status and priority",
		},
		[]string{"status", "priority"},
	)

	// QueueOldestAgeSeconds is the age of the oldest pending operation.
	QueueOldestAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cocoasync_queue_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending queued operation",
		},
	)

	// SyncCycleDuration times one full Sync() drain cycle.
	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cocoasync_sync_cycle_duration_seconds",
			Help:    "Time taken to drain one sync batch, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SyncCyclesTotal counts completed sync cycles by outcome.
	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"outcome"}, // completed, skipped_in_progress
	)

	// OperationsSyncedTotal counts operations whose sync attempt reached a
	// final result: dequeued on success, or parked in needs_review or
	// terminal failure.
	OperationsSyncedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_operations_synced_total",
			Help: "Total number of operations whose sync attempt reached a final result, by table and result",
		},
		[]string{"table", "result"}, // success, needs_review, failed_terminal
	)

	// RetriesTotal counts retry attempts by table and reason.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_operation_retries_total",
			Help: "Total number of operation retry attempts by table and reason",
		},
		[]string{"table", "reason"}, // server_error, battery_pause, battery_resume
	)

	// OperationSyncDuration times a single operation's round trip to the server.
	OperationSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cocoasync_operation_sync_duration_seconds",
			Help:    "Time taken to sync a single queued operation, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// ConflictsTotal counts detected conflicts by table and classification.
	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_conflicts_total",
			Help: "Total number of conflicts detected by table and classification",
		},
		[]string{"table", "classification"}, // critical, mergeable, server_reported
	)

	// DeltaRecordsAppliedTotal counts records persisted by delta sync.
	DeltaRecordsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_delta_records_applied_total",
			Help: "Total number of delta-sync records applied by table",
		},
		[]string{"table"},
	)

	// StorageQuotaPercent is the last-measured storage usage percentage.
	StorageQuotaPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cocoasync_storage_quota_percent",
			Help: "Local storage usage as a percentage of the configured quota",
		},
	)

	// StorageBand reports the current quota band as a one-hot gauge vec.
	StorageBand = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cocoasync_storage_band",
			Help: "1 for the currently active storage quota band, 0 otherwise",
		},
		[]string{"band"}, // normal, warning, purging_tier3, purging_tier2, emergency
	)

	// EvictionRecordsTotal is registered for records purged by the quota
	// manager; no code in this module increments it.
	EvictionRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_eviction_records_total",
			Help: "Total number of records evicted by the quota manager, by tier",
		},
		[]string{"tier"},
	)

	// DegradedMode reports the currently active degraded mode as a one-hot gauge vec.
	DegradedMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cocoasync_degraded_mode",
			Help: "1 for the currently active degraded mode, 0 otherwise",
		},
		[]string{"mode"}, // normal, queue_pressure, read_only_auth, read_only_storage
	)

	// OfflineInterceptsTotal is registered for requests the offline
	// wrapper handled, by verdict; no code in this module increments it.
	OfflineInterceptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cocoasync_offline_intercepts_total",
			Help: "Total number of requests handled by the offline-fetch wrapper, by verdict",
		},
		[]string{"verdict"}, // queued, passed_through, rejected
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueOldestAgeSeconds,
		SyncCycleDuration,
		SyncCyclesTotal,
		OperationsSyncedTotal,
		RetriesTotal,
		OperationSyncDuration,
		ConflictsTotal,
		DeltaRecordsAppliedTotal,
		StorageQuotaPercent,
		StorageBand,
		EvictionRecordsTotal,
		DegradedMode,
		OfflineInterceptsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
