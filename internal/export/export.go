// Package export writes run results as JSON, CSV or Parquet, optionally
// zstd-compressed, and publishes them to a blob bucket.
package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Compression is an output compression codec.
type Compression string

const (
	CompressNone Compression = "none"
	CompressZstd Compression = "zstd"
)

// Options controls WriteFile.
type Options struct {
	Format   Format
	Compress Compression
}

// ParseFormat validates a format name. Empty selects JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// ParseCompression validates a compression name. Empty selects none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressNone, nil
	case CompressNone, CompressZstd:
		return c, nil
	default:
		return "", eris.Errorf("export: unknown compression %q", s)
	}
}

// Write encodes res to w.
func Write(w io.Writer, res *model.Result, format Format) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "export: encode json")
	case FormatCSV:
		return writeCSV(w, res.Results)
	case FormatParquet:
		return writeParquet(w, res.Results)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// WriteFile writes res to path and returns the path written, which gains a
// .zst suffix when compressed.
func WriteFile(path string, res *model.Result, opts Options) (out string, err error) {
	out = path
	if opts.Compress == CompressZstd && !strings.HasSuffix(out, ".zst") {
		out += ".zst"
	}
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", eris.Wrap(err, "export: create output dir")
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return "", eris.Wrapf(err, "export: create %s", out)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "export: close file")
		}
	}()

	var w io.Writer = f
	if opts.Compress == CompressZstd {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return "", eris.Wrap(err, "export: create zstd encoder")
		}
		if err := Write(enc, res, opts.Format); err != nil {
			_ = enc.Close()
			return "", err
		}
		return out, eris.Wrap(enc.Close(), "export: flush zstd")
	}

	if err := Write(w, res, opts.Format); err != nil {
		return "", err
	}
	return out, nil
}
