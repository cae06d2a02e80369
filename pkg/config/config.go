// Package config loads the tunables that govern retry backoff, batch
// sizing, storage quota bands, and cache TTLs (spec.md §6.4). Every
// field has a documented default; a config file only needs to name the
// values it wants to override.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the sync engine reads at runtime. Time
// values are expressed in milliseconds/seconds in YAML to match the
// spec's units, and converted to time.Duration by the accessor methods
// below.
type Config struct {
	// Retry backoff (§4.2).
	BaseRetryDelayMS  int `yaml:"base_retry_delay_ms"`
	MaxRetryDelayMS   int `yaml:"max_retry_delay_ms"`
	MaxRetries        int `yaml:"max_retries"`
	MinBatteryPercent int `yaml:"min_battery_for_retry"`

	// Sync batching (§4.2).
	MaxBatchSize int `yaml:"max_batch_size"`

	// Delta-sync pagination (§4.4).
	DefaultBatchSizeDelta int `yaml:"default_batch_size_delta"`
	MaxBatchSizeDelta     int `yaml:"max_batch_size_delta"`
	CursorStalenessHours  int `yaml:"cursor_staleness_hours"`

	// Storage quota bands, as a percent of the device-reported quota
	// (§4.5): Warning/Purging/Emergency/Hard are ascending thresholds.
	StorageWarningPercent   int `yaml:"storage_warning_percent"`
	StoragePurgingPercent   int `yaml:"storage_purging_percent"`
	StorageEmergencyPercent int `yaml:"storage_emergency_percent"`
	StorageHardPercent      int `yaml:"storage_hard_percent"`

	// Queue-pressure degraded-mode trigger (§4.6): queue depth above
	// this count yields the queue_pressure mode, a warning that does not
	// block creating new operations.
	QueuePressureThreshold int `yaml:"queue_pressure_threshold"`

	// FallbackQuotaBytes is used when the platform's storage-quota API
	// is unavailable (§9 Open Question c).
	FallbackQuotaBytes int64 `yaml:"fallback_quota_bytes"`

	// Cache TTLs (§4.5, §4.6).
	DegradedModeCacheTTLSeconds int `yaml:"degraded_mode_cache_ttl_seconds"`
	StorageMetricsCacheTTLSeconds int `yaml:"storage_metrics_cache_ttl_seconds"`

	// MaxErrorLogEntries caps the bounded error log (§3).
	MaxErrorLogEntries int `yaml:"max_error_log_entries"`
}

// Defaults returns the engine's documented defaults (spec.md §6.4).
func Defaults() Config {
	return Config{
		BaseRetryDelayMS:              1000,
		MaxRetryDelayMS:               60000,
		MaxRetries:                    5,
		MinBatteryPercent:             15,
		MaxBatchSize:                  20,
		DefaultBatchSizeDelta:         100,
		MaxBatchSizeDelta:             500,
		CursorStalenessHours:          24,
		StorageWarningPercent:         80,
		StoragePurgingPercent:         90,
		StorageEmergencyPercent:       95,
		StorageHardPercent:            98,
		QueuePressureThreshold:        50,
		FallbackQuotaBytes:            50 * 1024 * 1024,
		DegradedModeCacheTTLSeconds:   2,
		StorageMetricsCacheTTLSeconds: 5,
		MaxErrorLogEntries:            100,
	}
}

// Load reads a YAML config file at path, starting from Defaults and
// overriding only the fields present in the file. A missing file is
// not an error: it simply yields the defaults, mirroring the teacher's
// "every flag has a working default" convention.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// BaseRetryDelay returns BaseRetryDelayMS as a time.Duration.
func (c Config) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelayMS) * time.Millisecond
}

// MaxRetryDelay returns MaxRetryDelayMS as a time.Duration.
func (c Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMS) * time.Millisecond
}

// CursorStaleness returns CursorStalenessHours as a time.Duration.
func (c Config) CursorStaleness() time.Duration {
	return time.Duration(c.CursorStalenessHours) * time.Hour
}

// DegradedModeCacheTTL returns DegradedModeCacheTTLSeconds as a time.Duration.
func (c Config) DegradedModeCacheTTL() time.Duration {
	return time.Duration(c.DegradedModeCacheTTLSeconds) * time.Second
}

// StorageMetricsCacheTTL returns StorageMetricsCacheTTLSeconds as a time.Duration.
func (c Config) StorageMetricsCacheTTL() time.Duration {
	return time.Duration(c.StorageMetricsCacheTTLSeconds) * time.Second
}
