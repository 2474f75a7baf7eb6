// Package geocode resolves addresses to candidate locations through the
// Google Geocoding API, with an optional Postgres-backed cache.
package geocode

import (
	"context"
	"strings"
)

// Client returns every candidate location a provider has for an address.
// An empty slice with a nil error means the provider found nothing.
type Client interface {
	Geocode(ctx context.Context, addr AddressInput) ([]Candidate, error)
}

// AddressInput is an address to geocode.
type AddressInput struct {
	Street  string
	City    string
	State   string
	Country string
}

// Query renders the address as a single line.
func (a AddressInput) Query() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Candidate is one provider match. Location is nil when the provider
// returned no usable coordinates.
type Candidate struct {
	Location         *LatLng `json:"location,omitempty"`
	FormattedAddress string  `json:"formatted_address"`
	LocationType     string  `json:"location_type"`
	PostalCode       string  `json:"postal_code,omitempty"`
	Locality         string  `json:"locality,omitempty"`
	Sublocality      string  `json:"sublocality,omitempty"`
	AdminArea        string  `json:"admin_area,omitempty"`
	AdminArea2       string  `json:"admin_area_2,omitempty"`
	Country          string  `json:"country,omitempty"`
}
