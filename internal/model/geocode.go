package model

import "fmt"

// PrecisionTier is the provider-independent precision of a geocode match.
type PrecisionTier string

const (
	PrecisionExact        PrecisionTier = "exact"
	PrecisionInterpolated PrecisionTier = "interpolated"
	PrecisionCenter       PrecisionTier = "center"
	PrecisionApproximate  PrecisionTier = "approximate"
	PrecisionUnknown      PrecisionTier = "unknown"
)

// ConfidenceFor returns the fixed confidence score for a precision tier.
// Unrecognized tiers score 0.5.
func ConfidenceFor(tier PrecisionTier) float64 {
	switch tier {
	case PrecisionExact:
		return 1.0
	case PrecisionInterpolated:
		return 0.8
	case PrecisionCenter:
		return 0.6
	case PrecisionApproximate:
		return 0.4
	default:
		return 0.5
	}
}

// GeocodeCandidate is one resolved location for a row.
type GeocodeCandidate struct {
	Latitude         float64       `json:"latitude"`
	Longitude        float64       `json:"longitude"`
	FormattedAddress string        `json:"formatted_address"`
	PrecisionTier    PrecisionTier `json:"precision_tier"`
	ConfidenceScore  float64       `json:"confidence_score"`
	MapsLink         string        `json:"maps_link"`
	PostalCode       string        `json:"postal_code,omitempty"`
	Locality         string        `json:"locality,omitempty"`
	AdminArea        string        `json:"admin_area,omitempty"`
}

// NewGeocodeCandidate derives the confidence score and maps link from the
// tier and coordinates.
func NewGeocodeCandidate(lat, lng float64, formatted string, tier PrecisionTier) GeocodeCandidate {
	if tier == "" {
		tier = PrecisionUnknown
	}
	return GeocodeCandidate{
		Latitude:         lat,
		Longitude:        lng,
		FormattedAddress: formatted,
		PrecisionTier:    tier,
		ConfidenceScore:  ConfidenceFor(tier),
		MapsLink:         MapsLink(lat, lng),
	}
}

// MapsLink returns a Google Maps URL centred on the coordinates.
func MapsLink(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%g,%g", lat, lng)
}

// ZipConfidence grades a postal-zone lookup.
type ZipConfidence string

const (
	ZipHigh   ZipConfidence = "high"
	ZipMedium ZipConfidence = "medium"
	ZipLow    ZipConfidence = "low"
	ZipNone   ZipConfidence = "none"
)

// ZipInfo is the postal-zone enrichment for a geocoded row.
type ZipInfo struct {
	ZipCode      string        `json:"zip_code"`
	Department   string        `json:"department,omitempty"`
	District     string        `json:"district,omitempty"`
	Neighborhood string        `json:"neighborhood,omitempty"`
	Confidence   ZipConfidence `json:"confidence"`
	Source       string        `json:"source"`
}
