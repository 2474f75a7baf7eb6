package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geobatch/internal/config"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/resilience"
	"github.com/sells-group/geobatch/internal/store"
)

// withDefaults installs the default configuration as the global cfg for the
// duration of the test.
func withDefaults(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	c, err := config.Load()
	require.NoError(t, err)

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

func TestInitStore(t *testing.T) {
	c := withDefaults(t)
	ctx := context.Background()

	c.Store.Driver = "none"
	st, err := initStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = filepath.Join(t.TempDir(), "runs.db")
	st, err = initStore(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	c.Store.Driver = "mongo"
	_, err = initStore(ctx)
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestBuildNormalizer(t *testing.T) {
	c := withDefaults(t)

	c.Normalizer.Provider = "rules"
	n, err := buildNormalizer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rules", n.Name())

	c.Normalizer.Provider = "anthropic"
	c.Normalizer.Anthropic.Key = "sk-test"
	n, err = buildNormalizer(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, n)

	c.Normalizer.Provider = "openai"
	_, err = buildNormalizer(context.Background())
	assert.ErrorContains(t, err, "unsupported normalizer provider")
}

func TestBuildNormalizer_Authority(t *testing.T) {
	c := withDefaults(t)
	c.Normalizer.Provider = "rules"
	require.True(t, c.Normalizer.Authority.Enabled)

	n, err := buildNormalizer(context.Background())
	require.NoError(t, err)
	got, err := n.Normalize(context.Background(), []model.RawRow{
		model.NewRawRow(0, nil, model.AddressFields{Address: "Ruta 2 km 20", City: "capiata", State: "Cordillera"}),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Capiatá", got[0].Cleaned.City)
	assert.Equal(t, "Central", got[0].Cleaned.State)

	path := filepath.Join(t.TempDir(), "authority.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Capiatá: Cordillera\n"), 0o644))
	c.Normalizer.Authority.File = path
	n, err = buildNormalizer(context.Background())
	require.NoError(t, err)
	got, err = n.Normalize(context.Background(), []model.RawRow{
		model.NewRawRow(0, nil, model.AddressFields{City: "Capiatá", State: "Central"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Cordillera", got[0].Cleaned.State)

	c.Normalizer.Authority.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildNormalizer(context.Background())
	assert.Error(t, err)

	c.Normalizer.Authority = config.AuthorityConfig{}
	n, err = buildNormalizer(context.Background())
	require.NoError(t, err)
	got, err = n.Normalize(context.Background(), []model.RawRow{
		model.NewRawRow(0, nil, model.AddressFields{City: "Capiatá", State: "Cordillera"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Cordillera", got[0].Cleaned.State)
}

func TestBuildGeocoder_Disabled(t *testing.T) {
	c := withDefaults(t)
	c.Geocode.Provider = "none"

	client, google, err := buildGeocoder(context.Background(), &poolProvider{})
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.Nil(t, google)
}

func TestBuildZipLookup(t *testing.T) {
	c := withDefaults(t)

	c.Zip.Provider = "none"
	zip, err := buildZipLookup(context.Background(), &poolProvider{}, nil)
	require.NoError(t, err)
	assert.Nil(t, zip)

	c.Zip.Provider = "shapefile"
	c.Zip.Shapefile.Path = filepath.Join(t.TempDir(), "missing.shp")
	_, err = buildZipLookup(context.Background(), &poolProvider{}, nil)
	assert.Error(t, err)

	c.Zip.Provider = "postgis"
	c.Store.DatabaseURL = ""
	_, err = buildZipLookup(context.Background(), &poolProvider{}, nil)
	assert.ErrorContains(t, err, "store.database_url is required")
}

func TestBuildBreaker(t *testing.T) {
	c := withDefaults(t)

	c.Geocode.Circuit.FailureThreshold = 1
	cb := buildBreaker()
	require.NotNil(t, cb)
	assert.Equal(t, "geocoder", cb.Status().Name)

	_, err := resilience.Call(context.Background(), cb, func(context.Context) (int, error) {
		return 0, errors.New("REQUEST_DENIED")
	})
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, cb.Status().State)

	c.Geocode.Circuit.FailureThreshold = 0
	assert.Nil(t, buildBreaker())
}

func TestPipelineConfig(t *testing.T) {
	c := withDefaults(t)
	c.Batch.Size = 25
	c.Batch.MaxConcurrent = 4
	c.Batch.TimeoutMs = 1500
	c.Batch.BackfillFailed = false
	c.Geocode.ChunkDelayMs = 250
	c.Zip.Concurrency = 3

	pc := pipelineConfig()

	assert.Equal(t, 25, pc.BatchSize)
	assert.Equal(t, 4, pc.Executor.MaxConcurrent)
	assert.Equal(t, 1500*time.Millisecond, pc.Executor.Timeout)
	assert.Equal(t, 3, pc.Executor.MaxRetries)
	assert.Equal(t, time.Second, pc.Executor.BackoffBase)
	assert.Zero(t, pc.Executor.MaxBackoff)
	assert.True(t, pc.CheckRows)
	assert.True(t, pc.Dedupe)
	assert.False(t, pc.BackfillFailed)
	assert.Equal(t, 250*time.Millisecond, pc.Resolve.ChunkDelay)
	assert.Equal(t, "Paraguay", pc.Resolve.Country)
	assert.Equal(t, 3, pc.EnrichConcurrency)
	assert.NoError(t, pc.Validate())
}

func TestIngestOptions(t *testing.T) {
	c := withDefaults(t)
	c.Ingest.Sheet = "Hoja1"

	opts, err := ingestOptions(c.Ingest, "", 10)
	require.NoError(t, err)
	assert.Equal(t, "Hoja1", opts.Sheet)
	assert.Equal(t, 10, opts.Limit)

	opts, err = ingestOptions(c.Ingest, "Direcciones", 0)
	require.NoError(t, err)
	assert.Equal(t, "Direcciones", opts.Sheet)

	c.Ingest.AliasesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = ingestOptions(c.Ingest, "", 0)
	assert.Error(t, err)
}
