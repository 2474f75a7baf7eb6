package normalize

import (
	"context"
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geobatch/internal/model"
)

// paraguayDepartments maps cities whose department is often misreported
// to the department they belong to.
var paraguayDepartments = map[string]string{
	"Lambaré":              "Central",
	"San Lorenzo":          "Central",
	"Capiatá":              "Central",
	"Fernando de la Mora":  "Central",
	"Luque":                "Central",
	"Villa Elisa":          "Central",
	"Ñemby":                "Central",
	"Itauguá":              "Central",
	"Limpio":               "Central",
	"Areguá":               "Central",
	"Mariano Roque Alonso": "Central",
	"Encarnación":          "Itapúa",
	"Villarrica":           "Guairá",
	"Ciudad del Este":      "Alto Paraná",
	"Hernandarias":         "Alto Paraná",
	"Presidente Franco":    "Alto Paraná",
	"Pedro Juan Caballero": "Amambay",
}

type place struct {
	city, department string
}

// Authority is a table of cities with a known department. Lookups ignore
// case, accents and spacing.
type Authority struct {
	places map[string]place
}

// NewAuthority builds an Authority from a city to department map.
func NewAuthority(departments map[string]string) *Authority {
	a := &Authority{places: make(map[string]place, len(departments))}
	for city, dept := range departments {
		city, dept = strings.TrimSpace(city), strings.TrimSpace(dept)
		if city == "" || dept == "" {
			continue
		}
		a.places[placeKey(city)] = place{city: city, department: dept}
	}
	return a
}

// DefaultAuthority returns the built-in table for Paraguay.
func DefaultAuthority() *Authority {
	return NewAuthority(paraguayDepartments)
}

// LoadAuthority reads a YAML map of city to department.
func LoadAuthority(path string) (*Authority, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read authority %s", path)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "normalize: parse authority %s", path)
	}
	if len(raw) == 0 {
		return nil, eris.Errorf("normalize: authority %s has no entries", path)
	}
	return NewAuthority(raw), nil
}

// Len returns the number of cities in the table.
func (a *Authority) Len() int { return len(a.places) }

// Department returns the canonical city name and its department.
func (a *Authority) Department(city string) (canonical, department string, ok bool) {
	p, ok := a.places[placeKey(city)]
	return p.city, p.department, ok
}

// Apply corrects the department of a known city. When the city is missing
// and the state names a known city instead, both are filled from it.
func (a *Authority) Apply(f model.AddressFields) model.AddressFields {
	if f.City != "" {
		if city, dept, ok := a.Department(f.City); ok {
			f.City, f.State = city, dept
		}
		return f
	}
	if city, dept, ok := a.Department(f.State); ok {
		f.City, f.State = city, dept
	}
	return f
}

// WithAuthority wraps n so every cleaned row passes through a.Apply.
func WithAuthority(n Normalizer, a *Authority) Normalizer {
	return &authorityNormalizer{next: n, authority: a}
}

type authorityNormalizer struct {
	next      Normalizer
	authority *Authority
}

func (an *authorityNormalizer) Name() string { return an.next.Name() }

func (an *authorityNormalizer) Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	out, err := an.next.Normalize(ctx, rows)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Cleaned = an.authority.Apply(out[i].Cleaned)
	}
	return out, nil
}

func placeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
