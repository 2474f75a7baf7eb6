package ingest

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a canonical address column.
type Field string

const (
	FieldAddress Field = "address"
	FieldCity    Field = "city"
	FieldState   Field = "state"
	FieldPhone   Field = "phone"
	FieldEmail   Field = "email"
)

// Fields lists the canonical columns in matching priority order.
var Fields = []Field{FieldAddress, FieldCity, FieldState, FieldPhone, FieldEmail}

// Aliases maps each canonical field to header spellings that identify it.
type Aliases map[Field][]string

// DefaultAliases returns the built-in header spellings, English and Spanish.
func DefaultAliases() Aliases {
	return Aliases{
		FieldAddress: {"address", "addr", "street", "street address", "address line", "direccion", "direc", "domicilio", "calle"},
		FieldCity:    {"city", "town", "ciudad", "localidad", "municipio", "municipality", "locality"},
		FieldState:   {"state", "province", "region", "estado", "provincia", "department", "departamento", "dpto"},
		FieldPhone:   {"phone", "tel", "telephone", "telefono", "celular", "cel", "mobile", "movil"},
		FieldEmail:   {"email", "e-mail", "mail", "correo", "correo electronico", "email address"},
	}
}

// Match scores, highest wins.
const (
	scoreNone     = 0
	scoreContains = 1
	scoreToken    = 2
	scoreExact    = 3
	scoreOverride = 4
)

// Matcher locates canonical fields among arbitrary headers. Matching folds
// case and accents and ignores punctuation.
type Matcher struct {
	aliases   map[Field][]string
	overrides map[Field][]string
}

// NewMatcher creates a matcher over the default aliases. Override aliases
// win over every default match.
func NewMatcher(overrides Aliases) *Matcher {
	m := &Matcher{aliases: foldAliases(DefaultAliases()), overrides: foldAliases(overrides)}
	return m
}

func foldAliases(a Aliases) map[Field][]string {
	out := make(map[Field][]string, len(a))
	for f, list := range a {
		for _, alias := range list {
			if k := fold(alias); k != "" {
				out[f] = append(out[f], k)
			}
		}
	}
	return out
}

// ColumnMap records which headers feed each canonical field. Address may
// span several columns, joined in header order.
type ColumnMap struct {
	Address []string `json:"address,omitempty"`
	City    string   `json:"city,omitempty"`
	State   string   `json:"state,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Email   string   `json:"email,omitempty"`
}

// Missing lists canonical fields no header matched.
func (c ColumnMap) Missing() []Field {
	var out []Field
	if len(c.Address) == 0 {
		out = append(out, FieldAddress)
	}
	for _, p := range []struct {
		f Field
		h string
	}{{FieldCity, c.City}, {FieldState, c.State}, {FieldPhone, c.Phone}, {FieldEmail, c.Email}} {
		if p.h == "" {
			out = append(out, p.f)
		}
	}
	return out
}

// Map assigns each header to at most one canonical field. City, state,
// phone and email take the single best-scoring header (first on ties);
// address takes every header whose best field is address.
func (m *Matcher) Map(headers []string) ColumnMap {
	type pick struct {
		header string
		score  int
	}
	best := make(map[Field]pick)
	var cm ColumnMap

	for _, h := range headers {
		field, score := m.classify(h)
		if score == scoreNone {
			continue
		}
		if field == FieldAddress {
			cm.Address = append(cm.Address, h)
			continue
		}
		if cur, ok := best[field]; !ok || score > cur.score {
			best[field] = pick{header: h, score: score}
		}
	}

	cm.City = best[FieldCity].header
	cm.State = best[FieldState].header
	cm.Phone = best[FieldPhone].header
	cm.Email = best[FieldEmail].header
	return cm
}

// classify returns the best field for header and its score. Ties go to the
// earlier field in Fields.
func (m *Matcher) classify(header string) (Field, int) {
	key := fold(header)
	if key == "" {
		return "", scoreNone
	}
	tokens := strings.Fields(key)

	var bestField Field
	bestScore := scoreNone
	for _, f := range Fields {
		s := scoreAliases(key, tokens, m.aliases[f])
		if slices.Contains(m.overrides[f], key) {
			s = scoreOverride
		}
		if s > bestScore {
			bestField, bestScore = f, s
		}
	}
	return bestField, bestScore
}

func scoreAliases(key string, tokens []string, aliases []string) int {
	best := scoreNone
	for _, alias := range aliases {
		switch {
		case key == alias:
			return scoreExact
		case !strings.Contains(alias, " ") && slices.Contains(tokens, alias):
			best = max(best, scoreToken)
		case len(alias) >= 4 && strings.Contains(key, alias):
			best = max(best, scoreContains)
		}
	}
	return best
}

// fold lowercases s, strips accents and collapses everything that is not a
// letter or digit into single spaces.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
