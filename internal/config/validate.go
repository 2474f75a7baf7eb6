package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	normalizerProviders = []string{"gemini", "anthropic", "rules", "libpostal"}
	geocodeProviders    = []string{"google", "none"}
	zipProviders        = []string{"none", "google", "shapefile", "postgis"}
	storeDrivers        = []string{"none", "sqlite", "postgres"}
	outputFormats       = []string{"json", "csv", "parquet"}
	compressions        = []string{"none", "zstd"}
)

// Validate checks the configuration required by mode: "run" (process a
// file), "serve" (HTTP API), "runs" (run history), "health" (run-health
// alerts) or "zones" (load postal zones into PostGIS). All problems are
// reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "run", "serve":
		c.validateProcessing(add)
		c.validateStore(add)
		if mode == "serve" && c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if mode == "serve" && c.Server.InputDir != "" {
			if fi, err := os.Stat(c.Server.InputDir); err != nil || !fi.IsDir() {
				add("server.input_dir %q is not a directory", c.Server.InputDir)
			}
		}
		if mode == "serve" && c.Monitoring.Enabled {
			c.validateMonitoring(add)
		}
	case "runs":
		c.validateStore(add)
		if c.Store.Driver == "none" {
			add("store.driver must not be none to list runs")
		}
	case "health":
		c.validateStore(add)
		c.validateMonitoring(add)
	case "zones":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
		if c.Zip.Shapefile.Path == "" {
			add("zip.shapefile.path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProcessing(add func(string, ...any)) {
	b := c.Batch
	if b.Size <= 0 {
		add("batch.size must be > 0")
	}
	if b.MaxConcurrent < 1 || b.MaxConcurrent > 64 {
		add("batch.max_concurrent must be between 1 and 64")
	}
	if b.TimeoutMs <= 0 {
		add("batch.timeout_ms must be > 0")
	}
	if b.MaxRetries < 0 || b.MaxRetries > 10 {
		add("batch.max_retries must be between 0 and 10")
	}
	if b.BackoffBaseMs <= 0 {
		add("batch.backoff_base_ms must be > 0")
	}
	if b.MaxBackoffMs < 0 || b.InterWaveDelayMs < 0 {
		add("batch delays must be >= 0")
	}

	n := c.Normalizer
	switch {
	case !slices.Contains(normalizerProviders, n.Provider):
		add("normalizer.provider must be one of %s", strings.Join(normalizerProviders, ", "))
	case n.Provider == "gemini" && n.Gemini.Key == "":
		add("normalizer.gemini.key is required")
	case n.Provider == "anthropic" && n.Anthropic.Key == "":
		add("normalizer.anthropic.key is required")
	}

	g := c.Geocode
	switch {
	case !slices.Contains(geocodeProviders, g.Provider):
		add("geocode.provider must be one of %s", strings.Join(geocodeProviders, ", "))
	case g.Provider == "google" && g.Google.Key == "":
		add("geocode.google.key is required")
	}
	if g.Provider == "google" && g.RateLimitRPS <= 0 {
		add("geocode.rate_limit_rps must be > 0")
	}
	if g.Cache.Enabled && c.Store.DatabaseURL == "" {
		add("store.database_url is required for geocode.cache")
	}

	z := c.Zip
	switch {
	case !slices.Contains(zipProviders, z.Provider):
		add("zip.provider must be one of %s", strings.Join(zipProviders, ", "))
	case z.Provider == "shapefile" && z.Shapefile.Path == "":
		add("zip.shapefile.path is required")
	case z.Provider == "postgis" && c.Store.DatabaseURL == "":
		add("store.database_url is required for zip.provider postgis")
	case z.Provider == "google" && g.Google.Key == "":
		add("geocode.google.key is required for zip.provider google")
	}
	if z.MaxDistanceKm < 0 {
		add("zip.max_distance_km must be >= 0")
	}

	if !slices.Contains(outputFormats, c.Output.Format) {
		add("output.format must be one of %s", strings.Join(outputFormats, ", "))
	}
	if !slices.Contains(compressions, c.Output.Compress) {
		add("output.compress must be one of %s", strings.Join(compressions, ", "))
	}
}

func (c *Config) validateStore(add func(string, ...any)) {
	s := c.Store
	switch {
	case !slices.Contains(storeDrivers, s.Driver):
		add("store.driver must be one of %s", strings.Join(storeDrivers, ", "))
	case s.Driver == "postgres" && s.DatabaseURL == "":
		add("store.database_url is required")
	case s.Driver == "sqlite" && s.SQLitePath == "":
		add("store.sqlite_path is required")
	}
}

func (c *Config) validateMonitoring(add func(string, ...any)) {
	m := c.Monitoring
	if m.LookbackWindowHours <= 0 {
		add("monitoring.lookback_window_hours must be > 0")
	}
	if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		add("monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if m.RowFailureRateThreshold < 0 || m.RowFailureRateThreshold > 1 {
		add("monitoring.row_failure_rate_threshold must be between 0 and 1")
	}
	if c.Store.Driver == "none" {
		add("monitoring requires a run store")
	}
}
