package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpec(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 1000, d.BaseRetryDelayMS)
	assert.Equal(t, 60000, d.MaxRetryDelayMS)
	assert.Equal(t, 5, d.MaxRetries)
	assert.Equal(t, 20, d.MaxBatchSize)
	assert.Equal(t, 15, d.MinBatteryPercent)
	assert.Equal(t, 100, d.DefaultBatchSizeDelta)
	assert.Equal(t, 500, d.MaxBatchSizeDelta)
	assert.Equal(t, 100, d.MaxErrorLogEntries)
	assert.Equal(t, int64(50*1024*1024), d.FallbackQuotaBytes)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 3\nmax_batch_size: 10\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.MaxBatchSize)
	assert.Equal(t, Defaults().BaseRetryDelayMS, cfg.BaseRetryDelayMS)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "1s", cfg.BaseRetryDelay().String())
	assert.Equal(t, "1m0s", cfg.MaxRetryDelay().String())
	assert.Equal(t, "24h0m0s", cfg.CursorStaleness().String())
	assert.Equal(t, "2s", cfg.DegradedModeCacheTTL().String())
	assert.Equal(t, "5s", cfg.StorageMetricsCacheTTL().String())
}
