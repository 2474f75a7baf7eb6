// Package enrich attaches postal-zone information to geocoded rows.
package enrich

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geobatch/internal/model"
)

// ZipLookup resolves the postal zone at a coordinate. It returns nil, nil
// when no zone applies.
type ZipLookup interface {
	Lookup(ctx context.Context, lat, lng float64) (*model.ZipInfo, error)
}

// LookupFunc adapts a function to ZipLookup.
type LookupFunc func(ctx context.Context, lat, lng float64) (*model.ZipInfo, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, lat, lng float64) (*model.ZipInfo, error) {
	return f(ctx, lat, lng)
}

// Stage runs a ZipLookup over processed rows.
type Stage struct {
	lookup      ZipLookup
	concurrency int
}

// NewStage creates an enrichment stage. A nil lookup disables it.
func NewStage(lookup ZipLookup, concurrency int) *Stage {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Stage{lookup: lookup, concurrency: concurrency}
}

// Apply sets ZipInfo on every row that has a geocoding result. Lookup
// errors and absent zones leave ZipInfo nil; row status is never changed.
// It returns the number of rows enriched.
func (s *Stage) Apply(ctx context.Context, rows []model.ProcessedRow) int {
	if s == nil || s.lookup == nil {
		return 0
	}

	log := zap.L().With(zap.String("component", "enrich"))
	found := make([]bool, len(rows))

	g := errgroup.Group{}
	g.SetLimit(s.concurrency)
	for i := range rows {
		geo := rows[i].Geocoding
		if geo == nil {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			info, err := s.lookup.Lookup(ctx, geo.Latitude, geo.Longitude)
			if err != nil {
				log.Debug("zip lookup failed", zap.Int("row", rows[i].RowIndex), zap.Error(err))
				return nil
			}
			if info != nil {
				rows[i].ZipInfo = info
				found[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range found {
		if ok {
			n++
		}
	}
	log.Info("zip enrichment complete", zap.Int("rows", len(rows)), zap.Int("enriched", n))
	return n
}
