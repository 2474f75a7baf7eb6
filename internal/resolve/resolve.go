// Package resolve geocodes normalized rows and classifies each one by the
// confidence of its best candidate.
package resolve

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/resilience"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// Config bounds how fast rows are sent to the geocoder.
type Config struct {
	// ChunkSize rows are geocoded concurrently; chunks run one after another.
	ChunkSize int
	// ChunkDelay is slept between chunks.
	ChunkDelay time.Duration
	// Country is appended to queries whose row has no country of its own.
	Country string
}

// DefaultConfig returns chunks of 10 rows 200ms apart.
func DefaultConfig() Config {
	return Config{ChunkSize: 10, ChunkDelay: 200 * time.Millisecond}
}

// Resolver turns normalized rows into processed rows.
type Resolver struct {
	client  geocode.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBreaker routes geocoder calls through a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Resolver) { r.breaker = cb }
}

// WithSleep replaces the inter-chunk sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Resolver) { r.sleep = fn }
}

// New creates a Resolver. A nil client disables geocoding: every row with
// an address is classified low confidence without an outbound call.
func New(client geocode.Client, cfg Config, opts ...Option) *Resolver {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	r := &Resolver{client: client, cfg: cfg, sleep: resilience.SleepContext}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve processes rows and returns one ProcessedRow per input row in the
// same order. A failure on one row never affects another.
func (r *Resolver) Resolve(ctx context.Context, rows []model.NormalizedRow) []model.ProcessedRow {
	out := make([]model.ProcessedRow, len(rows))
	for start := 0; start < len(rows); start += r.cfg.ChunkSize {
		end := min(start+r.cfg.ChunkSize, len(rows))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				out[i] = r.resolveRow(ctx, rows[i])
				return nil
			})
		}
		_ = g.Wait()

		zap.L().Debug("resolve: chunk done", zap.Int("rows_done", end), zap.Int("rows_total", len(rows)))
		if end < len(rows) && r.client != nil {
			_ = r.sleep(ctx, r.cfg.ChunkDelay)
		}
	}
	return out
}

func (r *Resolver) resolveRow(ctx context.Context, n model.NormalizedRow) model.ProcessedRow {
	p := model.ProcessedRow{
		RowIndex:   n.RowIndex,
		Original:   n.Original,
		Cleaned:    n.Cleaned,
		Backfilled: n.Backfilled,
	}

	if n.Error != "" && !n.Backfilled {
		p.Status = model.StatusFailed
		p.Error = n.Error
		return p
	}

	if n.Cleaned.Query() == "" || r.client == nil {
		p.Status = model.StatusLow
		return p
	}

	if err := ctx.Err(); err != nil {
		return failed(p, err)
	}

	country := n.Country
	if country == "" {
		country = r.cfg.Country
	}
	addr := geocode.AddressInput{
		Street:  n.Cleaned.Address,
		City:    n.Cleaned.City,
		State:   n.Cleaned.State,
		Country: country,
	}

	cands, err := r.geocode(ctx, addr)
	if err != nil {
		zap.L().Debug("resolve: geocode failed", zap.Int("row_index", n.RowIndex), zap.Error(err))
		return failed(p, err)
	}

	best := Best(cands)
	if best == nil {
		p.Status = model.StatusLow
		return p
	}
	p.Geocoding = best
	p.Score = best.ConfidenceScore
	p.Status = model.StatusForScore(best.ConfidenceScore)
	return p
}

func (r *Resolver) geocode(ctx context.Context, addr geocode.AddressInput) ([]geocode.Candidate, error) {
	if r.breaker == nil {
		return r.client.Geocode(ctx, addr)
	}
	return resilience.Call(ctx, r.breaker, func(ctx context.Context) ([]geocode.Candidate, error) {
		return r.client.Geocode(ctx, addr)
	})
}

func failed(p model.ProcessedRow, err error) model.ProcessedRow {
	p.Status = model.StatusFailed
	p.Score = 0
	p.Geocoding = nil
	p.Error = err.Error()
	return p
}

// TierFor maps a Google location_type to a precision tier.
func TierFor(locationType string) model.PrecisionTier {
	switch strings.ToUpper(strings.TrimSpace(locationType)) {
	case "ROOFTOP":
		return model.PrecisionExact
	case "RANGE_INTERPOLATED":
		return model.PrecisionInterpolated
	case "GEOMETRIC_CENTER":
		return model.PrecisionCenter
	case "APPROXIMATE":
		return model.PrecisionApproximate
	default:
		return model.PrecisionUnknown
	}
}

// Best returns the candidate with the strictly highest confidence score;
// the first one wins a tie. Candidates without coordinates are skipped.
func Best(cands []geocode.Candidate) *model.GeocodeCandidate {
	var best *model.GeocodeCandidate
	for _, c := range cands {
		if c.Location == nil {
			continue
		}
		gc := model.NewGeocodeCandidate(c.Location.Lat, c.Location.Lng, c.FormattedAddress, TierFor(c.LocationType))
		gc.PostalCode = c.PostalCode
		gc.Locality = c.Locality
		gc.AdminArea = c.AdminArea
		if best == nil || gc.ConfidenceScore > best.ConfidenceScore {
			best = &gc
		}
	}
	return best
}
