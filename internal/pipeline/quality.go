package pipeline

import (
	"strings"

	"github.com/sells-group/geobatch/internal/model"
)

// Row issues reported in ProcessedRow.Issues.
const (
	IssueNoLocation = "no_location"
	IssueNoContact  = "no_contact"
)

// RowIssues checks that a cleaned row has somewhere to go (an address, or
// a city and a state) and someone to reach (a phone or an email).
func RowIssues(f model.AddressFields) []string {
	var issues []string
	if f.Address == "" && (f.City == "" || f.State == "") {
		issues = append(issues, IssueNoLocation)
	}
	if f.Phone == "" && f.Email == "" {
		issues = append(issues, IssueNoContact)
	}
	return issues
}

// dedupePlan maps every normalized row onto the unique rows sent to the
// resolver.
type dedupePlan struct {
	unique []model.NormalizedRow
	slot   []int  // per row, its position in unique
	dup    []bool // per row, a later copy of an earlier row
}

// planDedupe groups rows whose cleaned fields match ignoring case and
// surrounding space. Rows that failed normalization or have no cleaned
// fields are never grouped.
func planDedupe(rows []model.NormalizedRow) dedupePlan {
	plan := dedupePlan{slot: make([]int, len(rows)), dup: make([]bool, len(rows))}
	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		key := dedupeKey(r)
		if key != "" {
			if slot, ok := seen[key]; ok {
				plan.slot[i], plan.dup[i] = slot, true
				continue
			}
			seen[key] = len(plan.unique)
		}
		plan.slot[i] = len(plan.unique)
		plan.unique = append(plan.unique, r)
	}
	return plan
}

// expand rebuilds one processed row per normalized row. Copies take the
// resolution of the first occurrence and point back at it.
func (plan dedupePlan) expand(rows []model.NormalizedRow, resolved []model.ProcessedRow) []model.ProcessedRow {
	out := make([]model.ProcessedRow, len(rows))
	for i, r := range rows {
		p := resolved[plan.slot[i]]
		if plan.dup[i] {
			first := p.RowIndex
			p.DuplicateOf = &first
			p.RowIndex = r.RowIndex
			p.Original = r.Original
			p.Cleaned = r.Cleaned
			p.Backfilled = r.Backfilled
			if p.Geocoding != nil {
				g := *p.Geocoding
				p.Geocoding = &g
			}
		}
		out[i] = p
	}
	return out
}

func (plan dedupePlan) duplicates() int {
	n := 0
	for _, d := range plan.dup {
		if d {
			n++
		}
	}
	return n
}

func dedupeKey(r model.NormalizedRow) string {
	if r.Error != "" && !r.Backfilled {
		return ""
	}
	f := r.Cleaned
	if f.IsZero() {
		return ""
	}
	parts := []string{f.Address, f.City, f.State, f.Phone, f.Email}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "\x1f")
}
