package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/enrich"
	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/normalize"
	"github.com/sells-group/geobatch/internal/store"
	"github.com/sells-group/geobatch/pkg/geocode"
)

func makeRows(n int) []model.RawRow {
	out := make([]model.RawRow, n)
	for i := range out {
		out[i] = model.NewRawRow(i, nil, model.AddressFields{
			Address: fmt.Sprintf("Calle %d", i),
			City:    "Asunción",
		})
	}
	return out
}

func echo(_ context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	out := make([]model.NormalizedRow, len(rows))
	for i, r := range rows {
		out[i] = model.NormalizedRow{RowIndex: r.Index, Cleaned: r.Fields, Original: r.Fields}
	}
	return out, nil
}

// failSecond fails every attempt of the batch starting at row 50.
func failSecond(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	if rows[0].Index == 50 {
		return nil, errors.New("llm unavailable")
	}
	return echo(ctx, rows)
}

type rooftopGeocoder struct {
	mu    sync.Mutex
	calls int
}

func (g *rooftopGeocoder) Geocode(_ context.Context, _ geocode.AddressInput) ([]geocode.Candidate, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return []geocode.Candidate{{
		Location:     &geocode.LatLng{Lat: -25.28, Lng: -57.63},
		LocationType: "ROOFTOP",
	}}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestPipeline(t *testing.T, cfg Config, n normalize.Normalizer, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, n, append([]Option{WithSleep(noSleep)}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestProcess_AllSuccess(t *testing.T) {
	geo := &rooftopGeocoder{}
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo), WithGeocoder(geo))

	res, err := p.Process(context.Background(), makeRows(120))
	require.NoError(t, err)

	assert.Equal(t, 120, res.TotalProcessed)
	assert.Equal(t, 120, res.Statistics.Total)
	assert.Equal(t, 120, res.Statistics.High)
	require.Len(t, res.Batches, 3)
	assert.Equal(t, 3, res.RunSummary.CompletedBatches)
	assert.Zero(t, res.RunSummary.TotalRetries)
	assert.InDelta(t, 100.0, res.RunSummary.SuccessRate, 1e-9)
	assert.Equal(t, 120, geo.calls)

	for i, r := range res.Results {
		assert.Equal(t, i, r.RowIndex)
		require.NotNil(t, r.Geocoding)
		assert.Equal(t, model.PrecisionExact, r.Geocoding.PrecisionTier)
	}
}

func TestProcess_OneBatchFailsPermanently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackfillFailed = false
	p := newTestPipeline(t, cfg, normalize.Func(failSecond), WithGeocoder(&rooftopGeocoder{}))

	res, err := p.Process(context.Background(), makeRows(120))
	require.NoError(t, err)

	require.Len(t, res.Results, 120)
	assert.Equal(t, 50, res.Statistics.Failed)
	assert.Equal(t, 70, res.Statistics.High)
	assert.Equal(t, 1, res.RunSummary.FailedBatches)
	assert.Equal(t, 3, res.RunSummary.TotalRetries)
	assert.InDelta(t, 66.67, res.RunSummary.SuccessRate, 1e-9)

	for _, r := range res.Results[50:100] {
		assert.Equal(t, model.StatusFailed, r.Status)
		assert.Equal(t, "llm unavailable", r.Error)
		assert.Nil(t, r.Geocoding)
	}
}

func TestProcess_BackfillsFailedBatch(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(failSecond), WithGeocoder(&rooftopGeocoder{}))

	res, err := p.Process(context.Background(), makeRows(120))
	require.NoError(t, err)

	assert.Zero(t, res.Statistics.Failed)
	assert.Equal(t, 50, res.RunSummary.BackfilledRows)
	r := res.Results[60]
	assert.True(t, r.Backfilled)
	assert.Equal(t, "Calle 60", r.Cleaned.Address)
	assert.Equal(t, model.StatusHigh, r.Status)
}

func TestProcess_NormalizeOnly(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo))

	res, err := p.Process(context.Background(), makeRows(5))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Statistics.Low)
	for _, r := range res.Results {
		assert.Nil(t, r.Geocoding)
		assert.Empty(t, r.Error)
	}
}

func TestProcess_ZipEnrichment(t *testing.T) {
	zip := enrich.LookupFunc(func(_ context.Context, _, _ float64) (*model.ZipInfo, error) {
		return &model.ZipInfo{ZipCode: "1209", Confidence: model.ZipHigh, Source: "test"}, nil
	})
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo),
		WithGeocoder(&rooftopGeocoder{}), WithZipLookup(zip))

	res, err := p.Process(context.Background(), makeRows(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.RunSummary.ZipResolved)
	assert.Equal(t, "1209", res.Results[2].ZipInfo.ZipCode)
}

func TestProcess_Progress(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	progress := func(done, total int, o model.BatchOutcome) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		seen = append(seen, done)
	}
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo), WithProgress(progress))

	_, err := p.Process(context.Background(), makeRows(120))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestProcess_PersistsRun(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo),
		WithGeocoder(&rooftopGeocoder{}), WithStore(st))

	res, err := p.Process(context.Background(), makeRows(10))
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 10, run.Summary.HighConfidence)

	rows, err := st.GetRows(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestProcess_RunIDInContext(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	var mu sync.Mutex
	seen := map[string]bool{}
	tagged := func(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
		mu.Lock()
		seen[RunID(ctx)] = true
		mu.Unlock()
		return echo(ctx, rows)
	}
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(tagged), WithStore(st))

	res, err := p.Process(context.Background(), makeRows(120))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{res.RunID: true}, seen)
	assert.Empty(t, RunID(context.Background()))
}

func TestProcess_CancelledBeforeStart(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, makeRows(3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_Empty(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo))

	res, err := p.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.TotalProcessed)
	assert.Empty(t, res.Batches)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 0
	_, err := New(cfg, normalize.Func(echo))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	cfg = DefaultConfig()
	cfg.Executor.MaxConcurrent = 0
	_, err = New(cfg, normalize.Func(echo))
	assert.Error(t, err)

	_, err = New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestProcessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clientes.csv")
	data := "Nombre,Dirección,Ciudad\nAna,Palma 123,Asunción\nLuis,xxx,Luque\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo), WithGeocoder(&rooftopGeocoder{}))
	res, err := p.ProcessFile(context.Background(), path, ingest.Options{})
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, model.StatusHigh, res.Results[0].Status)
	assert.Equal(t, "Palma 123", res.Results[0].Cleaned.Address)
	// Junk address values are dropped, so the row has nothing to geocode
	// beyond its city.
	assert.Empty(t, res.Results[1].Cleaned.Address)
}

func TestProcessFile_Missing(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(echo))
	_, err := p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), ingest.Options{})
	assert.Error(t, err)
}

// billedGeocoder records one billable request per call.
type billedGeocoder struct{ rooftopGeocoder }

func (g *billedGeocoder) Geocode(ctx context.Context, in geocode.AddressInput) ([]geocode.Candidate, error) {
	cost.FromContext(ctx).AddGeocode(1)
	return g.rooftopGeocoder.Geocode(ctx, in)
}

func TestProcess_TracksUsage(t *testing.T) {
	metered := func(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
		cost.FromContext(ctx).AddTokens("test-model", 1000, 100)
		return echo(ctx, rows)
	}
	geo := &billedGeocoder{}
	p := newTestPipeline(t, DefaultConfig(), normalize.Func(metered),
		WithGeocoder(geo),
		WithRates(cost.Rates{
			Models:  map[string]cost.ModelRate{"test-model": {Input: 1, Output: 10}},
			Geocode: cost.GeocodeRate{PerThousand: 5},
		}),
	)

	res, err := p.Process(context.Background(), makeRows(120))
	require.NoError(t, err)

	s := res.RunSummary
	assert.Equal(t, int64(3000), s.InputTokens)
	assert.Equal(t, int64(300), s.OutputTokens)
	assert.Equal(t, geo.calls, s.GeocodeRequests)
	assert.Positive(t, s.GeocodeRequests)
	assert.InDelta(t, 0.006+float64(geo.calls)*0.005, s.CostUSD, 1e-4)
}
