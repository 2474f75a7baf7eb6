package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/sells-group/geobatch/internal/batch"
	"github.com/sells-group/geobatch/internal/config"
	"github.com/sells-group/geobatch/internal/db"
	"github.com/sells-group/geobatch/internal/enrich"
	"github.com/sells-group/geobatch/internal/fetcher"
	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/normalize"
	"github.com/sells-group/geobatch/internal/pipeline"
	"github.com/sells-group/geobatch/internal/resilience"
	"github.com/sells-group/geobatch/internal/resolve"
	"github.com/sells-group/geobatch/internal/store"
	"github.com/sells-group/geobatch/internal/zones"
	anthropicpkg "github.com/sells-group/geobatch/pkg/anthropic"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// pipelineEnv holds the store, the shared Postgres pool and the pipeline
// needed by the run and serve commands.
type pipelineEnv struct {
	Store    store.Store // may be nil
	Pipeline *pipeline.Pipeline
	Breaker  *resilience.CircuitBreaker // nil without a geocoder
	Server   config.ServerConfig
	Ingest   config.IngestConfig
	pools    *poolProvider
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.pools != nil {
		pe.pools.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the configuration for mode, opens the store and
// builds every provider. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, opts ...pipeline.Option) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{
		Store:  st,
		Server: cfg.Server,
		Ingest: cfg.Ingest,
		pools:  &poolProvider{store: st},
	}
	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	if err := env.buildPipeline(ctx, opts...); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// buildPipeline builds the providers and the pipeline, recording the
// pipeline and the geocoder breaker on pe.
func (pe *pipelineEnv) buildPipeline(ctx context.Context, opts ...pipeline.Option) error {
	n, err := buildNormalizer(ctx)
	if err != nil {
		return err
	}

	geocoder, google, err := buildGeocoder(ctx, pe.pools)
	if err != nil {
		return err
	}
	zip, err := buildZipLookup(ctx, pe.pools, google)
	if err != nil {
		return err
	}

	base := []pipeline.Option{
		pipeline.WithSources(buildSources()),
		pipeline.WithRates(cfg.Pricing.Rates()),
	}
	if pe.Store != nil {
		base = append(base, pipeline.WithStore(pe.Store))
	}
	if geocoder != nil {
		base = append(base, pipeline.WithGeocoder(geocoder))
		if cb := buildBreaker(); cb != nil {
			pe.Breaker = cb
			base = append(base, pipeline.WithBreaker(cb))
		}
	}
	if zip != nil {
		base = append(base, pipeline.WithZipLookup(zip))
	}

	p, err := pipeline.New(pipelineConfig(), n, append(base, opts...)...)
	if err != nil {
		return eris.Wrap(err, "build pipeline")
	}
	pe.Pipeline = p
	return nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// poolProvider hands out one Postgres pool for the geocode cache and the
// PostGIS zip lookup, reusing the store's pool when the store is Postgres.
type poolProvider struct {
	store   store.Store
	pool    db.Pool
	closeFn func()
}

func (pp *poolProvider) Get(ctx context.Context) (db.Pool, error) {
	if pp.pool != nil {
		return pp.pool, nil
	}
	if ps, ok := pp.store.(*store.PostgresStore); ok {
		pp.pool = ps.Pool()
		return pp.pool, nil
	}
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required")
	}
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	pp.pool, pp.closeFn = pool, pool.Close
	return pp.pool, nil
}

func (pp *poolProvider) Close() {
	if pp.closeFn != nil {
		pp.closeFn()
	}
}

// buildNormalizer returns the configured provider, wrapped with the
// city to department authority when enabled.
func buildNormalizer(ctx context.Context) (normalize.Normalizer, error) {
	n, err := buildProvider(ctx)
	if err != nil {
		return nil, err
	}
	ac := cfg.Normalizer.Authority
	if !ac.Enabled {
		return n, nil
	}
	authority := normalize.DefaultAuthority()
	if ac.File != "" {
		if authority, err = normalize.LoadAuthority(ac.File); err != nil {
			return nil, err
		}
	}
	zap.L().Debug("city authority enabled", zap.Int("cities", authority.Len()))
	return normalize.WithAuthority(n, authority), nil
}

func buildProvider(ctx context.Context) (normalize.Normalizer, error) {
	n := cfg.Normalizer
	switch n.Provider {
	case "gemini":
		return normalize.NewGemini(ctx, normalize.GeminiConfig{
			APIKey:  n.Gemini.Key,
			Model:   n.Gemini.Model,
			Country: n.Country,
			BaseURL: n.Gemini.BaseURL,
		})
	case "anthropic":
		client := anthropicpkg.NewClient(n.Anthropic.Key)
		return normalize.NewAnthropic(client, n.Anthropic.Model, n.Anthropic.MaxTokens, n.Country), nil
	case "rules":
		return normalize.NewRules(language.Make(n.Language), n.Country, normalize.WithPhoneRegion(n.PhoneRegion)), nil
	case "libpostal":
		return normalize.NewLibpostal(n.Country)
	default:
		return nil, eris.Errorf("unsupported normalizer provider: %s", n.Provider)
	}
}

// buildGeocoder returns the geocoding client (possibly cached) and the
// underlying Google client, which the Google zip lookup reuses. Both are
// nil when geocoding is disabled.
func buildGeocoder(ctx context.Context, pools *poolProvider) (geocode.Client, *geocode.GoogleClient, error) {
	g := cfg.Geocode
	if g.Provider != "google" {
		zap.L().Info("geocoding disabled, rows will be normalized only")
		return nil, nil, nil
	}

	opts := []geocode.Option{geocode.WithRateLimit(g.RateLimitRPS)}
	if g.Region != "" {
		opts = append(opts, geocode.WithRegion(g.Region))
	}
	if g.Language != "" {
		opts = append(opts, geocode.WithLanguage(g.Language))
	}
	google := geocode.NewGoogle(g.Google.Key, opts...)

	if !g.Cache.Enabled {
		return google, google, nil
	}
	pool, err := pools.Get(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "geocode cache")
	}
	cached := geocode.NewCachedClient(google, pool, geocode.CacheOptions{Table: g.Cache.Table, TTLDays: g.Cache.TTLDays})
	if err := cached.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	zap.L().Info("geocode cache enabled", zap.String("table", g.Cache.Table))
	return cached, google, nil
}

func buildZipLookup(ctx context.Context, pools *poolProvider, google *geocode.GoogleClient) (enrich.ZipLookup, error) {
	z := cfg.Zip
	switch z.Provider {
	case "none", "":
		return nil, nil
	case "google":
		if google == nil {
			google = geocode.NewGoogle(cfg.Geocode.Google.Key, geocode.WithRateLimit(cfg.Geocode.RateLimitRPS))
		}
		return enrich.NewGoogleZip(google), nil
	case "shapefile":
		idx, err := zones.LoadIndex(z.Shapefile.Path, z.Shapefile.Fields, z.MaxDistanceKm)
		if err != nil {
			return nil, err
		}
		zap.L().Info("postal zones loaded", zap.String("path", z.Shapefile.Path), zap.Int("zones", idx.Len()))
		return idx, nil
	case "postgis":
		pool, err := pools.Get(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "postgis zip lookup")
		}
		return enrich.NewPostGIS(pool, z.PostGIS.Table, z.MaxDistanceKm), nil
	default:
		return nil, eris.Errorf("unsupported zip provider: %s", z.Provider)
	}
}

func buildBreaker() *resilience.CircuitBreaker {
	c := cfg.Geocode.Circuit
	if c.FailureThreshold <= 0 {
		return nil
	}
	cbCfg := resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
	cbCfg.OnStateChange = logBreakerTransition
	return resilience.NewCircuitBreaker("geocoder", cbCfg)
}

func logBreakerTransition(ctx context.Context, t resilience.Transition) {
	zap.L().Warn("circuit breaker state change",
		zap.String("breaker", t.Name),
		zap.String("run_id", pipeline.RunID(ctx)),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
		zap.Int("consecutive_failures", t.Failures),
	)
}

func buildSources() *fetcher.Sources {
	f := cfg.Fetch
	timeout := time.Duration(f.TimeoutSecs) * time.Second
	return &fetcher.Sources{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: f.UserAgent,
			Timeout:   timeout,
			RateLimit: rate.Limit(f.RateLimitRPS),
		}),
		FTP:     fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout}),
		TempDir: f.TempDir,
	}
}

func pipelineConfig() pipeline.Config {
	b := cfg.Batch
	exec := batch.DefaultConfig()
	exec.MaxConcurrent = b.MaxConcurrent
	exec.Timeout = time.Duration(b.TimeoutMs) * time.Millisecond
	exec.MaxRetries = b.MaxRetries
	exec.BackoffBase = time.Duration(b.BackoffBaseMs) * time.Millisecond
	exec.MaxBackoff = time.Duration(b.MaxBackoffMs) * time.Millisecond
	exec.InterWaveDelay = time.Duration(b.InterWaveDelayMs) * time.Millisecond

	return pipeline.Config{
		BatchSize: b.Size,
		Executor:  exec,
		Resolve: resolve.Config{
			ChunkSize:  cfg.Geocode.ChunkSize,
			ChunkDelay: time.Duration(cfg.Geocode.ChunkDelayMs) * time.Millisecond,
			Country:    cfg.Normalizer.Country,
		},
		BackfillFailed:    b.BackfillFailed,
		EnrichConcurrency: cfg.Zip.Concurrency,
		CheckRows:         cfg.Quality.CheckRows,
		Dedupe:            cfg.Quality.Dedupe,
	}
}

func ingestOptions(ic config.IngestConfig, sheet string, limit int) (ingest.Options, error) {
	opts := ingest.Options{Sheet: ic.Sheet, Limit: limit}
	if sheet != "" {
		opts.Sheet = sheet
	}
	if ic.AliasesFile != "" {
		aliases, err := ingest.LoadAliases(ic.AliasesFile)
		if err != nil {
			return opts, err
		}
		opts.Aliases = aliases
	}
	return opts, nil
}
