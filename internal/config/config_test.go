package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/cost"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Batch.Size)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrent)
	assert.Equal(t, 60000, cfg.Batch.TimeoutMs)
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
	assert.Equal(t, 1000, cfg.Batch.BackoffBaseMs)
	assert.Zero(t, cfg.Batch.MaxBackoffMs)
	assert.True(t, cfg.Quality.CheckRows)
	assert.True(t, cfg.Quality.Dedupe)
	assert.Equal(t, 1000, cfg.Batch.InterWaveDelayMs)
	assert.True(t, cfg.Batch.BackfillFailed)
	assert.Equal(t, "gemini", cfg.Normalizer.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Normalizer.Gemini.Model)
	assert.Equal(t, "PY", cfg.Normalizer.PhoneRegion)
	assert.True(t, cfg.Normalizer.Authority.Enabled)
	assert.Empty(t, cfg.Normalizer.Authority.File)
	assert.Equal(t, int64(8192), cfg.Normalizer.Anthropic.MaxTokens)
	assert.Equal(t, "google", cfg.Geocode.Provider)
	assert.Equal(t, "py", cfg.Geocode.Region)
	assert.InDelta(t, 40, cfg.Geocode.RateLimitRPS, 0.001)
	assert.Equal(t, 10, cfg.Geocode.ChunkSize)
	assert.Equal(t, 200, cfg.Geocode.ChunkDelayMs)
	assert.Equal(t, "geocode_cache", cfg.Geocode.Cache.Table)
	assert.Equal(t, 5, cfg.Geocode.Circuit.FailureThreshold)
	assert.Equal(t, "none", cfg.Zip.Provider)
	assert.InDelta(t, 2.0, cfg.Zip.MaxDistanceKm, 0.001)
	assert.Equal(t, "zip_code", cfg.Zip.Shapefile.Fields.ZipCode)
	assert.Equal(t, "geo.postal_zones", cfg.Zip.PostGIS.Table)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "geobatch.db", cfg.Store.SQLitePath)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, "none", cfg.Output.Compress)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Server.InputDir)
	assert.Empty(t, cfg.Server.AllowedHosts)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Pricing.Models)
	assert.InDelta(t, 5.0, cfg.Pricing.GeocodePerThousand, 0.001)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
batch:
  size: 25
  backfill_failed: false
normalizer:
  provider: rules
zip:
  provider: shapefile
  shapefile:
    path: /data/zonas.shp
    fields:
      zip_code: CODIGO
pricing:
  models:
    - name: gemini-2.5-flash
      input: 0.5
      output: 3
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Batch.Size)
	assert.False(t, cfg.Batch.BackfillFailed)
	assert.Equal(t, "rules", cfg.Normalizer.Provider)
	assert.Equal(t, "shapefile", cfg.Zip.Provider)
	assert.Equal(t, "/data/zonas.shp", cfg.Zip.Shapefile.Path)
	assert.Equal(t, "CODIGO", cfg.Zip.Shapefile.Fields.ZipCode)
	assert.Equal(t, "department", cfg.Zip.Shapefile.Fields.Department)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Batch.MaxConcurrent)

	rates := cfg.Pricing.Rates()
	assert.Equal(t, cost.ModelRate{Input: 0.5, Output: 3}, rates.Models["gemini-2.5-flash"])
	assert.Contains(t, rates.Models, "claude-haiku-4-5-20251001")
	assert.InDelta(t, 5.0, rates.Geocode.PerThousand, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOBATCH_STORE_DRIVER", "postgres")
	t.Setenv("GEOBATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GEOBATCH_BATCH_SIZE", "10")
	t.Setenv("GEOBATCH_GEOCODE_GOOGLE_KEY", "maps-key")
	t.Setenv("GEOBATCH_NORMALIZER_GEMINI_KEY", "gem-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, "maps-key", cfg.Geocode.Google.Key)
	assert.Equal(t, "gem-key", cfg.Normalizer.Gemini.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("batch: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
