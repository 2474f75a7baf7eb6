package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/zones"
)

// Config holds the full application configuration.
type Config struct {
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Normalizer NormalizerConfig `yaml:"normalizer" mapstructure:"normalizer"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Zip        ZipConfig        `yaml:"zip" mapstructure:"zip"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BatchConfig configures partitioning and the batch executor.
type BatchConfig struct {
	Size             int  `yaml:"size" mapstructure:"size"`
	MaxConcurrent    int  `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	TimeoutMs        int  `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries       int  `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs    int  `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	MaxBackoffMs     int  `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"` // 0 = uncapped
	InterWaveDelayMs int  `yaml:"inter_wave_delay_ms" mapstructure:"inter_wave_delay_ms"`
	BackfillFailed   bool `yaml:"backfill_failed" mapstructure:"backfill_failed"`
}

// QualityConfig controls the row checks applied after normalization.
// Neither drops rows: incomplete rows carry Issues and repeated rows
// point at their first occurrence.
type QualityConfig struct {
	CheckRows bool `yaml:"check_rows" mapstructure:"check_rows"`
	Dedupe    bool `yaml:"dedupe" mapstructure:"dedupe"`
}

// NormalizerConfig selects and configures the normalization provider.
type NormalizerConfig struct {
	Provider  string          `yaml:"provider" mapstructure:"provider"`
	Country   string          `yaml:"country" mapstructure:"country"`
	Language  string          `yaml:"language" mapstructure:"language"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`

	// PhoneRegion is the ISO 3166 region used to read phone numbers
	// written without a country code.
	PhoneRegion string          `yaml:"phone_region" mapstructure:"phone_region"`
	Authority   AuthorityConfig `yaml:"authority" mapstructure:"authority"`
}

// AuthorityConfig sets the department of rows whose city has a known
// department. File is a YAML map of city to department; empty uses the
// built-in Paraguay table.
type AuthorityConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	File    string `yaml:"file" mapstructure:"file"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeocodeConfig configures the geocoding resolver.
type GeocodeConfig struct {
	Provider     string        `yaml:"provider" mapstructure:"provider"`
	Google       GoogleConfig  `yaml:"google" mapstructure:"google"`
	Region       string        `yaml:"region" mapstructure:"region"`
	Language     string        `yaml:"language" mapstructure:"language"`
	RateLimitRPS float64       `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	ChunkSize    int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelayMs int           `yaml:"chunk_delay_ms" mapstructure:"chunk_delay_ms"`
	Cache        CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Circuit      CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// GoogleConfig holds Google Maps Platform credentials.
type GoogleConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// CacheConfig configures the Postgres geocode cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	TTLDays int    `yaml:"ttl_days" mapstructure:"ttl_days"`
	Table   string `yaml:"table" mapstructure:"table"`
}

// CircuitConfig configures the geocoder circuit breaker. A zero threshold
// disables it.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ZipConfig configures postal-zone enrichment.
type ZipConfig struct {
	Provider      string          `yaml:"provider" mapstructure:"provider"`
	MaxDistanceKm float64         `yaml:"max_distance_km" mapstructure:"max_distance_km"`
	Concurrency   int             `yaml:"concurrency" mapstructure:"concurrency"`
	Shapefile     ShapefileConfig `yaml:"shapefile" mapstructure:"shapefile"`
	PostGIS       PostGISConfig   `yaml:"postgis" mapstructure:"postgis"`
}

// ShapefileConfig locates the postal-zone shapefile and its attribute names.
type ShapefileConfig struct {
	Path   string         `yaml:"path" mapstructure:"path"`
	Fields zones.FieldMap `yaml:"fields" mapstructure:"fields"`
}

// PostGISConfig names the postal-zone table.
type PostGISConfig struct {
	Table string `yaml:"table" mapstructure:"table"`
}

// StoreConfig configures the run store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OutputConfig configures result export.
type OutputConfig struct {
	Format    string `yaml:"format" mapstructure:"format"`
	Compress  string `yaml:"compress" mapstructure:"compress"`
	BucketURL string `yaml:"bucket_url" mapstructure:"bucket_url"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
}

// IngestConfig configures input parsing.
type IngestConfig struct {
	AliasesFile string `yaml:"aliases_file" mapstructure:"aliases_file"`
	Sheet       string `yaml:"sheet" mapstructure:"sheet"`
}

// FetchConfig configures remote input downloads.
type FetchConfig struct {
	TempDir      string  `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig overrides provider pricing. Models is a list because model
// names contain dots, which viper treats as key separators.
type PricingConfig struct {
	Models             []ModelPricing `yaml:"models" mapstructure:"models"`
	GeocodePerThousand float64        `yaml:"geocode_per_thousand" mapstructure:"geocode_per_thousand"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Name   string  `yaml:"name" mapstructure:"name"`
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates returns the default rates with the configured overrides applied.
func (p PricingConfig) Rates() cost.Rates {
	rates := cost.DefaultRates()
	for _, m := range p.Models {
		rates.Models[m.Name] = cost.ModelRate{Input: m.Input, Output: m.Output}
	}
	if p.GeocodePerThousand > 0 {
		rates.Geocode.PerThousand = p.GeocodePerThousand
	}
	return rates
}

// MonitoringConfig configures run-health alerting. Failure rates are
// fractions in [0, 1].
type MonitoringConfig struct {
	Enabled                 bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RowFailureRateThreshold float64 `yaml:"row_failure_rate_threshold" mapstructure:"row_failure_rate_threshold"`
	CostThresholdUSD        float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`

	// InputDir is the root for file inputs named in API requests. Relative
	// paths only; empty disables file inputs.
	InputDir string `yaml:"input_dir" mapstructure:"input_dir"`

	// AllowedHosts lists the hosts API requests may fetch http(s)/ftp
	// inputs from. Empty disables remote inputs.
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts"`

	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("batch.size", 50)
	v.SetDefault("batch.max_concurrent", 8)
	v.SetDefault("batch.timeout_ms", 60000)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.backoff_base_ms", 1000)
	v.SetDefault("batch.max_backoff_ms", 0)
	v.SetDefault("batch.inter_wave_delay_ms", 1000)
	v.SetDefault("batch.backfill_failed", true)

	v.SetDefault("quality.check_rows", true)
	v.SetDefault("quality.dedupe", true)
	v.SetDefault("normalizer.provider", "gemini")
	v.SetDefault("normalizer.country", "Paraguay")
	v.SetDefault("normalizer.language", "es")
	v.SetDefault("normalizer.phone_region", "PY")
	v.SetDefault("normalizer.authority.enabled", true)
	v.SetDefault("normalizer.authority.file", "")
	v.SetDefault("normalizer.gemini.key", "")
	v.SetDefault("normalizer.gemini.model", "gemini-2.5-flash")
	v.SetDefault("normalizer.gemini.base_url", "")
	v.SetDefault("normalizer.anthropic.key", "")
	v.SetDefault("normalizer.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("normalizer.anthropic.max_tokens", 8192)
	v.SetDefault("geocode.provider", "google")
	v.SetDefault("geocode.google.key", "")
	v.SetDefault("geocode.region", "py")
	v.SetDefault("geocode.language", "es")
	v.SetDefault("geocode.rate_limit_rps", 40)
	v.SetDefault("geocode.chunk_size", 10)
	v.SetDefault("geocode.chunk_delay_ms", 200)
	v.SetDefault("geocode.cache.enabled", false)
	v.SetDefault("geocode.cache.ttl_days", 90)
	v.SetDefault("geocode.cache.table", "geocode_cache")
	v.SetDefault("geocode.circuit.failure_threshold", 5)
	v.SetDefault("geocode.circuit.reset_timeout_secs", 60)
	v.SetDefault("zip.provider", "none")
	v.SetDefault("zip.max_distance_km", zones.DefaultMaxDistanceKm)
	v.SetDefault("zip.concurrency", 10)
	v.SetDefault("zip.shapefile.path", "")
	v.SetDefault("zip.shapefile.fields.zip_code", "zip_code")
	v.SetDefault("zip.shapefile.fields.department", "department")
	v.SetDefault("zip.shapefile.fields.district", "district")
	v.SetDefault("zip.shapefile.fields.neighborhood", "neighborhood")
	v.SetDefault("zip.postgis.table", "geo.postal_zones")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "geobatch.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("output.format", "json")
	v.SetDefault("output.compress", "none")
	v.SetDefault("output.bucket_url", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("ingest.aliases_file", "")
	v.SetDefault("ingest.sheet", "")
	v.SetDefault("fetch.temp_dir", "")
	v.SetDefault("fetch.user_agent", "geobatch/1.0")
	v.SetDefault("fetch.rate_limit_rps", 5)
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("pricing.models", []ModelPricing{})
	v.SetDefault("pricing.geocode_per_thousand", cost.DefaultRates().Geocode.PerThousand)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.row_failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.input_dir", "")
	v.SetDefault("server.allowed_hosts", []string{})
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
