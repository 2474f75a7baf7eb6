package normalize

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/model"
)

const systemPrompt = `You clean and parse postal addresses.
For every input row: fix spelling, standardize abbreviations and format, and split the
address into components. Keep phone numbers as digits with an optional leading "+".
Lowercase emails and blank any that are invalid. Never invent data: leave a field
empty when it cannot be determined.`

// buildPrompt renders the user prompt for a batch.
func buildPrompt(rows []model.RawRow, country string) (string, error) {
	data, err := json.Marshal(payload(rows))
	if err != nil {
		return "", eris.Wrap(err, "normalize: marshal payload")
	}

	var b strings.Builder
	if country != "" {
		b.WriteString("All addresses are located in " + country + ".\n")
	}
	b.WriteString(`Return ONLY a JSON array with one object per input row and these keys:
- row_index (number, copied from the input)
- cleaned_address (string, full cleaned address)
- street (string, street names and intersections, no house numbers)
- city (string)
- state (string, state, province or department)
- country (string)
- phone (string)
- email (string)

Rows:
`)
	b.Write(data)
	return b.String(), nil
}

// responseRow is one element of the model's JSON answer.
type responseRow struct {
	RowIndex       *int   `json:"row_index"`
	CleanedAddress string `json:"cleaned_address"`
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	Country        string `json:"country"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost JSON array or object in text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return text
	}
	closing := "}"
	if text[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(text, closing)
	if end < start {
		return text
	}
	return text[start : end+1]
}

// parseResponse maps the model's answer back onto the batch. Elements with
// an unknown or missing row_index are dropped; a single object is accepted
// for one-row batches.
func parseResponse(text string, rows []model.RawRow) ([]model.NormalizedRow, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, eris.New("normalize: empty response")
	}

	var parsed []responseRow
	if strings.HasPrefix(body, "{") {
		var one responseRow
		if err := json.Unmarshal([]byte(body), &one); err != nil {
			return nil, eris.Wrap(err, "normalize: parse response object")
		}
		if one.RowIndex == nil && len(rows) == 1 {
			idx := rows[0].Index
			one.RowIndex = &idx
		}
		parsed = []responseRow{one}
	} else if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, eris.Wrap(err, "normalize: parse response array")
	}

	byIndex := make(map[int]model.RawRow, len(rows))
	for _, r := range rows {
		byIndex[r.Index] = r
	}

	out := make([]model.NormalizedRow, 0, len(parsed))
	seen := make(map[int]bool, len(parsed))
	for _, p := range parsed {
		if p.RowIndex == nil {
			continue
		}
		raw, ok := byIndex[*p.RowIndex]
		if !ok || seen[*p.RowIndex] {
			zap.L().Debug("normalize: dropping response row", zap.Int("row_index", *p.RowIndex))
			continue
		}
		seen[*p.RowIndex] = true
		out = append(out, model.NormalizedRow{
			RowIndex: raw.Index,
			Original: raw.Fields,
			Cleaned: model.AddressFields{
				Address: p.CleanedAddress,
				City:    p.City,
				State:   p.State,
				Phone:   p.Phone,
				Email:   p.Email,
			}.Clean(),
			Street:  model.CleanValue(p.Street),
			Country: model.CleanValue(p.Country),
		})
	}
	return out, nil
}
