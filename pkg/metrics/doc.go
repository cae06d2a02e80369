/*
Package metrics provides Prometheus metrics collection and exposition for
the sync engine.

The package defines and registers metrics using the Prometheus client
library, giving visibility into queue depth, sync-cycle timing, retry and
conflict rates, storage-quota pressure, and degraded-mode state. Metrics
are exposed via an HTTP endpoint for scraping by a Prometheus server.

# Metrics Catalog

Queue Metrics:

cocoasync_queue_depth{status, priority}:
  - Type: Gauge
  - Description: Number of queued operations by status and priority
  - Example: cocoasync_queue_depth{status="pending",priority="critical"} 3

cocoasync_queue_oldest_pending_age_seconds:
  - Type: Gauge
  - Description: Age of the oldest pending queued operation

Sync Cycle Metrics:

cocoasync_sync_cycle_duration_seconds:
  - Type: Histogram
  - Description: Time taken to drain one sync batch

cocoasync_sync_cycles_total{outcome}:
  - Type: Counter
  - Description: Completed sync cycles by outcome (completed,
    skipped_in_progress)

cocoasync_operations_synced_total{table, result}:
  - Type: Counter
  - Description: Operations whose sync attempt reached a final result,
    by table and result (success, needs_review, failed_terminal)

cocoasync_operation_retries_total{table, reason}:
  - Type: Counter
  - Description: Retry attempts by table and reason (server_error,
    battery_pause, battery_resume)

cocoasync_operation_sync_duration_seconds{table}:
  - Type: Histogram
  - Description: Time to sync a single queued operation

cocoasync_conflicts_total{table, classification}:
  - Type: Counter
  - Description: Conflicts detected by table and classification
    (critical, mergeable, server_reported)

cocoasync_delta_records_applied_total{table}:
  - Type: Counter
  - Description: Delta-sync records applied, by table

Storage Metrics:

cocoasync_storage_quota_percent:
  - Type: Gauge
  - Description: Local storage usage as a percentage of quota

cocoasync_storage_band{band}:
  - Type: Gauge
  - Description: 1 for the currently active quota band, 0 otherwise

cocoasync_eviction_records_total{tier}:
  - Type: Counter
  - Description: Records purged by the quota manager, by tier
    (registered, but no code in this module increments it)

Degraded Mode and Offline Metrics:

cocoasync_degraded_mode{mode}:
  - Type: Gauge
  - Description: 1 for the currently active degraded mode, 0 otherwise

cocoasync_offline_intercepts_total{verdict}:
  - Type: Counter
  - Description: Requests handled by the offline-fetch wrapper, by
    verdict (queued, passed_through, rejected) (registered, but no code
    in this module increments it)

# Usage

	import "github.com/cuemby/cocoasync/pkg/metrics"

	metrics.QueueDepth.WithLabelValues("pending", "critical").Set(3)
	metrics.RetriesTotal.WithLabelValues("deliveries", "server_error").Inc()

	timer := metrics.NewTimer()
	// ... run a sync cycle ...
	timer.ObserveDuration(metrics.SyncCycleDuration)

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration, catching a typo'd
    re-declaration at startup rather than at scrape time

Label Discipline:
  - Labels are bounded sets (status, priority, table, result) — never
    operation IDs or timestamps

Collector:
  - Collector polls the queue, quota manager, and degraded-mode manager
    on a 15-second tick for state with no natural "on change" hook
  - Scheduler and delta code paths update their counters and
    histograms directly at the point of the event instead

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
