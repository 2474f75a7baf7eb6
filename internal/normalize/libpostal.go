//go:build libpostal

package normalize

import (
	"context"
	"strings"

	postal "github.com/openvenues/gopostal/parser"

	"github.com/sells-group/geobatch/internal/model"
)

// Libpostal normalizes rows with the libpostal address parser. It requires
// the libpostal C library and the libpostal build tag.
type Libpostal struct {
	country string
}

// NewLibpostal creates a libpostal-backed normalizer.
func NewLibpostal(country string) (Normalizer, error) {
	return &Libpostal{country: country}, nil
}

func (l *Libpostal) Name() string { return "libpostal" }

func (l *Libpostal) Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	out := make([]model.NormalizedRow, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := row.Fields.Clean()
		query := f.Query()
		if l.country != "" && query != "" {
			query += ", " + l.country
		}

		parts := map[string]string{}
		if query != "" {
			for _, c := range postal.ParseAddress(query) {
				parts[c.Label] = strings.TrimSpace(c.Value)
			}
		}

		street := strings.TrimSpace(parts["road"])
		address := strings.TrimSpace(strings.Join([]string{street, parts["house_number"]}, " "))
		if address == "" {
			address = f.Address
		}
		out = append(out, model.NormalizedRow{
			RowIndex: row.Index,
			Original: row.Fields,
			Cleaned: model.AddressFields{
				Address: address,
				City:    firstNonEmpty(parts["city"], parts["suburb"], f.City),
				State:   firstNonEmpty(parts["state"], parts["state_district"], f.State),
				Phone:   cleanPhone(f.Phone),
				Email:   cleanEmail(f.Email),
			},
			Street:  street,
			Country: firstNonEmpty(parts["country"], l.country),
		})
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
