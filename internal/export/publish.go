package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
)

// Publish uploads the file at path to bucketURL under prefix and returns
// the object URI.
func Publish(ctx context.Context, bucketURL, prefix, path string) (string, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return "", eris.Wrapf(err, "export: open bucket %s", bucketURL)
	}
	defer bucket.Close() //nolint:errcheck

	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	key := filepath.Base(path)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}

	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType(path)})
	if err != nil {
		return "", eris.Wrapf(err, "export: create writer for %s", key)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "export: upload %s", key)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "export: close writer for %s", key)
	}

	uri := strings.TrimRight(bucketURL, "/") + "/" + key
	if i := strings.Index(bucketURL, "?"); i >= 0 {
		uri = strings.TrimRight(bucketURL[:i], "/") + "/" + key
	}
	zap.L().Info("export: published results", zap.String("uri", uri), zap.Int64("bytes", n))
	return uri, nil
}

func contentType(path string) string {
	if strings.HasSuffix(path, ".zst") {
		return "application/zstd"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
