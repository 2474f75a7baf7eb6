// Package zones loads postal-zone polygons and answers point lookups
// against them.
package zones

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/model"
)

// SourceShapefile tags ZipInfo values produced by an Index.
const SourceShapefile = "shapefile"

// DefaultMaxDistanceKm bounds the nearest-zone fallback.
const DefaultMaxDistanceKm = 2.0

// Zone is one postal-zone polygon and its attributes.
type Zone struct {
	ZipCode      string
	Department   string
	District     string
	Neighborhood string
	Shape        *geom.MultiPolygon
}

func (z Zone) info(conf model.ZipConfidence) *model.ZipInfo {
	return &model.ZipInfo{
		ZipCode:      z.ZipCode,
		Department:   z.Department,
		District:     z.District,
		Neighborhood: z.Neighborhood,
		Confidence:   conf,
		Source:       SourceShapefile,
	}
}

type indexedZone struct {
	Zone
	bounds *geom.Bounds
}

// Index is an in-memory postal-zone index. It is safe for concurrent use
// once built.
type Index struct {
	zones         []indexedZone
	maxDistanceKm float64
}

// NewIndex builds an index over zs. A point inside a zone resolves with high
// confidence; otherwise the nearest zone within maxDistanceKm resolves with
// medium confidence. maxDistanceKm <= 0 uses DefaultMaxDistanceKm.
func NewIndex(zs []Zone, maxDistanceKm float64) *Index {
	if maxDistanceKm <= 0 {
		maxDistanceKm = DefaultMaxDistanceKm
	}
	idx := &Index{
		zones:         make([]indexedZone, 0, len(zs)),
		maxDistanceKm: maxDistanceKm,
	}
	for _, z := range zs {
		if z.Shape == nil || z.Shape.NumPolygons() == 0 {
			continue
		}
		idx.zones = append(idx.zones, indexedZone{Zone: z, bounds: z.Shape.Bounds()})
	}
	return idx
}

// LoadIndex reads a shapefile and builds an index over its polygons.
func LoadIndex(shpPath string, fields FieldMap, maxDistanceKm float64) (*Index, error) {
	zs, err := ReadShapefile(shpPath, fields)
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, eris.Errorf("zones: shapefile %s has no usable polygons", shpPath)
	}
	zap.L().Info("zones: loaded postal zones",
		zap.String("path", shpPath),
		zap.Int("zones", len(zs)),
	)
	return NewIndex(zs, maxDistanceKm), nil
}

// Len returns the number of indexed zones.
func (idx *Index) Len() int { return len(idx.zones) }

// Lookup returns the zone at (lat, lng). It returns nil, nil when no zone
// contains the point and none lies within the distance bound.
func (idx *Index) Lookup(ctx context.Context, lat, lng float64) (*model.ZipInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pt := geom.Coord{lng, lat}
	for _, z := range idx.zones {
		if z.bounds.OverlapsPoint(geom.XY, pt) && containsPoint(z.Shape, lng, lat) {
			return z.info(model.ZipHigh), nil
		}
	}

	nearest := -1
	best := math.Inf(1)
	for i, z := range idx.zones {
		if d := distanceKm(z.Shape, lng, lat); d < best {
			best, nearest = d, i
		}
	}
	if nearest < 0 || best > idx.maxDistanceKm {
		return nil, nil
	}
	return idx.zones[nearest].info(model.ZipMedium), nil
}
