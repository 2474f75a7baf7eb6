package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/db"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/zones"
)

// SourcePostGIS tags ZipInfo values produced by PostGIS.
const SourcePostGIS = "postgis"

// PostGIS looks up postal zones stored in a PostGIS table loaded by
// zones.LoadPostGIS.
type PostGIS struct {
	pool          db.Pool
	query         string
	maxDistanceKm float64
}

// NewPostGIS creates a lookup against table. maxDistanceKm <= 0 uses
// zones.DefaultMaxDistanceKm.
func NewPostGIS(pool db.Pool, table string, maxDistanceKm float64) *PostGIS {
	if maxDistanceKm <= 0 {
		maxDistanceKm = zones.DefaultMaxDistanceKm
	}
	query := fmt.Sprintf(`
		WITH pt AS (SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326) AS g)
		SELECT
			z.zip_code,
			z.department,
			z.district,
			z.neighborhood,
			ST_Contains(z.geom, pt.g),
			ST_Distance(z.geom::geography, pt.g::geography)
		FROM %s z, pt
		ORDER BY z.geom <-> pt.g
		LIMIT 1`, db.Identifier(table).Sanitize())
	return &PostGIS{pool: pool, query: query, maxDistanceKm: maxDistanceKm}
}

// Lookup returns the zone containing the point (high confidence) or the
// nearest zone within the distance bound (medium confidence).
func (p *PostGIS) Lookup(ctx context.Context, lat, lng float64) (*model.ZipInfo, error) {
	var (
		zip              string
		dept, dist, hood sql.NullString
		inside           bool
		meters           float64
	)
	err := p.pool.QueryRow(ctx, p.query, lng, lat).Scan(&zip, &dept, &dist, &hood, &inside, &meters)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		zap.L().Debug("enrich: postgis lookup failed",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "enrich: postgis lookup")
	}

	conf := model.ZipHigh
	if !inside {
		if meters/1000 > p.maxDistanceKm {
			return nil, nil
		}
		conf = model.ZipMedium
	}
	return &model.ZipInfo{
		ZipCode:      zip,
		Department:   dept.String,
		District:     dist.String,
		Neighborhood: hood.String,
		Confidence:   conf,
		Source:       SourcePostGIS,
	}, nil
}
