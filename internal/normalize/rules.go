package normalize

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/geobatch/internal/model"
)

var (
	spaceRun   = regexp.MustCompile(`\s+`)
	spaceComma = regexp.MustCompile(`\s*,\s*`)
)

// abbreviations expands common street abbreviations. Keys are lowercase.
var abbreviations = map[string]string{
	"av":    "Avenida",
	"av.":   "Avenida",
	"avda":  "Avenida",
	"avda.": "Avenida",
	"gral.": "General",
	"gral":  "General",
	"tte.":  "Teniente",
	"cnel.": "Coronel",
	"dr.":   "Doctor",
	"pte.":  "Presidente",
	"sta.":  "Santa",
	"sto.":  "Santo",
	"st":    "Street",
	"st.":   "Street",
	"ave":   "Avenue",
	"ave.":  "Avenue",
	"blvd":  "Boulevard",
	"rd":    "Road",
	"rd.":   "Road",
}

// Rules is an offline normalizer: whitespace cleanup, abbreviation
// expansion, title casing, E.164 phones and email validation.
type Rules struct {
	title       cases.Caser
	country     string
	phoneRegion string
}

// RulesOption configures a Rules normalizer.
type RulesOption func(*Rules)

// WithPhoneRegion sets the region for phone numbers written without a
// country code, e.g. "PY".
func WithPhoneRegion(region string) RulesOption {
	return func(r *Rules) { r.phoneRegion = strings.ToUpper(region) }
}

// NewRules creates a Rules normalizer. lang selects title-casing rules.
func NewRules(lang language.Tag, country string, opts ...RulesOption) *Rules {
	r := &Rules{title: cases.Title(lang), country: country}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Rules) Name() string { return "rules" }

func (r *Rules) Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	out := make([]model.NormalizedRow, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := row.Fields.Clean()
		out = append(out, model.NormalizedRow{
			RowIndex: row.Index,
			Original: row.Fields,
			Cleaned: model.AddressFields{
				Address: r.text(f.Address),
				City:    r.text(f.City),
				State:   r.text(f.State),
				Phone:   CleanPhone(f.Phone, r.phoneRegion),
				Email:   CleanEmail(f.Email),
			},
			Country: r.country,
		})
	}
	return out, nil
}

func (r *Rules) text(s string) string {
	s = spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.Trim(spaceComma.ReplaceAllString(s, ", "), ", ")
	if s == "" {
		return ""
	}
	words := strings.Split(s, " ")
	for i, w := range words {
		if full, ok := abbreviations[strings.ToLower(w)]; ok {
			words[i] = full
			continue
		}
		words[i] = r.title.String(w)
	}
	return strings.Join(words, " ")
}
