package ingest

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// readJSON reads an array of flat objects. Headers are the union of keys,
// each object's keys sorted and appended on first appearance.
func readJSON(ctx context.Context, r io.Reader, limit int) ([]string, [][]string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	var (
		headers []string
		index   = make(map[string]int)
		objects []map[string]any
	)
	for dec.More() && (limit <= 0 || len(objects) < limit) {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, nil, eris.Wrap(err, "json: decode element")
		}

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(headers)
				headers = append(headers, k)
			}
		}
		objects = append(objects, obj)
	}
	if len(headers) == 0 {
		return nil, nil, eris.New("json: no objects")
	}

	records := make([][]string, 0, len(objects))
	for _, obj := range objects {
		rec := make([]string, len(headers))
		for k, v := range obj {
			rec[index[k]] = jsonString(v)
		}
		if blank(rec) {
			continue
		}
		records = append(records, rec)
	}
	return headers, records, nil
}

func jsonString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}
