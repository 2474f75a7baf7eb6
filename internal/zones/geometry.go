package zones

import (
	"math"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Approximate kilometres per degree at the equator.
const (
	kmPerDegLat = 110.574
	kmPerDegLng = 111.320
)

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one single-ring polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 3 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("zones: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("zones: skipping malformed part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// EncodeEWKB returns the zone shape as EWKB with SRID 4326, the form
// PostGIS accepts through COPY.
func EncodeEWKB(mp *geom.MultiPolygon) ([]byte, error) {
	if mp == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "zones: encode EWKB")
	}
	return data, nil
}

// containsPoint applies the even-odd rule across every ring of mp, so
// rings nested inside another part act as holes.
func containsPoint(mp *geom.MultiPolygon, lng, lat float64) bool {
	pt := geom.Coord{lng, lat}
	inside := false
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(geom.XY, pt, poly.LinearRing(r).FlatCoords()) {
				inside = !inside
			}
		}
	}
	return inside
}

// distanceKm is the shortest distance in kilometres from the point to any
// ring of mp. Rings are projected equirectangularly around the point so
// planar distance approximates ground distance.
func distanceKm(mp *geom.MultiPolygon, lng, lat float64) float64 {
	scaleX := kmPerDegLng * math.Cos(lat*math.Pi/180)
	origin := geom.Coord{0, 0}
	best := math.Inf(1)
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			flat := poly.LinearRing(r).FlatCoords()
			projected := make([]float64, len(flat))
			for k := 0; k+1 < len(flat); k += 2 {
				projected[k] = (flat[k] - lng) * scaleX
				projected[k+1] = (flat[k+1] - lat) * kmPerDegLat
			}
			if d := xy.DistanceFromPointToLineString(geom.XY, origin, projected); d < best {
				best = d
			}
		}
	}
	return best
}
