package zones

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FieldMap names the DBF attribute columns holding each zone property.
// Matching is case-insensitive.
type FieldMap struct {
	ZipCode      string `mapstructure:"zip_code"`
	Department   string `mapstructure:"department"`
	District     string `mapstructure:"district"`
	Neighborhood string `mapstructure:"neighborhood"`
}

// DefaultFieldMap returns the attribute names used when none are configured.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		ZipCode:      "zip_code",
		Department:   "department",
		District:     "district",
		Neighborhood: "neighborhood",
	}
}

func (m FieldMap) withDefaults() FieldMap {
	def := DefaultFieldMap()
	if m.ZipCode == "" {
		m.ZipCode = def.ZipCode
	}
	if m.Department == "" {
		m.Department = def.Department
	}
	if m.District == "" {
		m.District = def.District
	}
	if m.Neighborhood == "" {
		m.Neighborhood = def.Neighborhood
	}
	return m
}

// ReadShapefile reads polygon records from shpPath into zones. Records
// without a polygon geometry or a zip code are skipped.
func ReadShapefile(shpPath string, fields FieldMap) ([]Zone, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zones: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields = fields.withDefaults()
	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	if _, ok := fieldIdx[strings.ToLower(fields.ZipCode)]; !ok {
		return nil, eris.Errorf("zones: shapefile %s has no %q attribute", shpPath, fields.ZipCode)
	}

	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var zones []Zone
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		z := Zone{
			ZipCode:      attr(fields.ZipCode),
			Department:   attr(fields.Department),
			District:     attr(fields.District),
			Neighborhood: attr(fields.Neighborhood),
			Shape:        mp,
		}
		if z.ZipCode == "" {
			skipped++
			continue
		}
		zones = append(zones, z)
	}

	if skipped > 0 {
		zap.L().Debug("zones: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return zones, nil
}
