package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// SourceGoogle tags ZipInfo values produced by GoogleZip.
const SourceGoogle = "google"

// Reverser reverse-geocodes a coordinate. *geocode.GoogleClient satisfies it.
type Reverser interface {
	Reverse(ctx context.Context, lat, lng float64) ([]geocode.Candidate, error)
}

// GoogleZip reads the postal code from reverse-geocoding results.
type GoogleZip struct {
	client Reverser
}

// NewGoogleZip wraps a reverse geocoder.
func NewGoogleZip(client Reverser) *GoogleZip {
	return &GoogleZip{client: client}
}

// Lookup returns the postal code of the most specific result carrying one.
// The first result yields high confidence, later ones medium.
func (g *GoogleZip) Lookup(ctx context.Context, lat, lng float64) (*model.ZipInfo, error) {
	cands, err := g.client.Reverse(ctx, lat, lng)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: google reverse")
	}

	for i, c := range cands {
		if c.PostalCode == "" {
			continue
		}
		conf := model.ZipHigh
		if i > 0 {
			conf = model.ZipMedium
		}
		district := c.AdminArea2
		if district == "" {
			district = c.Locality
		}
		return &model.ZipInfo{
			ZipCode:      c.PostalCode,
			Department:   c.AdminArea,
			District:     district,
			Neighborhood: c.Sublocality,
			Confidence:   conf,
			Source:       SourceGoogle,
		}, nil
	}
	return nil, nil
}
