// Package ingest parses tabular address inputs into raw rows.
package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/model"
)

// ErrNoAddressColumns is returned when no header identifies an address,
// city or state column.
var ErrNoAddressColumns = eris.New("ingest: no address, city or state column found")

// Format is an input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// FormatFromPath infers the format from the file extension. Unknown
// extensions are read as CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatXLSX
	case ".json":
		return FormatJSON
	case ".tsv", ".tab":
		return FormatTSV
	default:
		return FormatCSV
	}
}

// Options configures parsing.
type Options struct {
	// Sheet selects an XLSX sheet by name; empty reads the first sheet.
	Sheet string
	// Delimiter overrides the CSV separator.
	Delimiter rune
	// Aliases adds header spellings on top of the defaults.
	Aliases Aliases
	// Limit caps the number of rows read; 0 reads everything.
	Limit int
}

// Table is a parsed input.
type Table struct {
	Headers []string
	Columns ColumnMap
	Rows    []model.RawRow
}

// ReadFile parses the file at path.
func ReadFile(ctx context.Context, path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := Read(ctx, f, FormatFromPath(path), opts)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", filepath.Base(path))
	}
	return t, nil
}

// Read parses r in the given format.
func Read(ctx context.Context, r io.Reader, format Format, opts Options) (*Table, error) {
	var (
		headers []string
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV, FormatTSV:
		delim := opts.Delimiter
		if delim == 0 && format == FormatTSV {
			delim = '\t'
		}
		headers, records, err = readCSV(ctx, r, delim, opts.Limit)
	case FormatXLSX:
		var data []byte
		if data, err = io.ReadAll(r); err == nil {
			headers, records, err = readXLSX(ctx, data, opts.Sheet, opts.Limit)
		}
	case FormatJSON:
		headers, records, err = readJSON(ctx, r, opts.Limit)
	default:
		return nil, eris.Errorf("ingest: unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}

	return buildTable(headers, records, NewMatcher(opts.Aliases))
}

func buildTable(headers []string, records [][]string, m *Matcher) (*Table, error) {
	headers = uniqueHeaders(headers)
	cols := m.Map(headers)
	if len(cols.Address) == 0 && cols.City == "" && cols.State == "" {
		return nil, ErrNoAddressColumns
	}

	log := zap.L().With(zap.String("component", "ingest"))
	log.Info("columns matched",
		zap.Strings("address", cols.Address),
		zap.String("city", cols.City),
		zap.String("state", cols.State),
		zap.String("phone", cols.Phone),
		zap.String("email", cols.Email),
	)

	t := &Table{Headers: headers, Columns: cols, Rows: make([]model.RawRow, 0, len(records))}
	for _, rec := range records {
		values := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				values[h] = rec[i]
			} else {
				values[h] = ""
			}
		}
		t.Rows = append(t.Rows, model.NewRawRow(len(t.Rows), values, fieldsOf(values, cols)))
	}
	return t, nil
}

func fieldsOf(values map[string]string, cols ColumnMap) model.AddressFields {
	parts := make([]string, 0, len(cols.Address))
	for _, h := range cols.Address {
		if v := model.CleanValue(values[h]); v != "" {
			parts = append(parts, v)
		}
	}
	return model.AddressFields{
		Address: strings.Join(parts, ", "),
		City:    model.CleanValue(values[cols.City]),
		State:   model.CleanValue(values[cols.State]),
		Phone:   model.CleanValue(values[cols.Phone]),
		Email:   model.CleanValue(values[cols.Email]),
	}
}

// uniqueHeaders trims headers, names blank ones by position and suffixes
// repeats so every column keeps its own key.
func uniqueHeaders(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = h + "_" + strconv.Itoa(n+1)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}
