// Package fetcher retrieves run inputs from local paths, HTTP(S) and FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote file.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Sources turns an input reference into a local file path.
type Sources struct {
	HTTP    Fetcher
	FTP     Fetcher
	TempDir string
}

// NewSources creates Sources with default HTTP and FTP fetchers that
// download into tempDir (os.TempDir() when empty).
func NewSources(tempDir string) *Sources {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Sources{
		HTTP:    NewHTTPFetcher(HTTPOptions{}),
		FTP:     NewFTPFetcher(FTPOptions{}),
		TempDir: tempDir,
	}
}

// IsRemote reports whether source is an http, https or ftp URL.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Localize returns a local path for source. Remote sources are downloaded
// into TempDir first. A .zip archive is replaced by the single data file it
// contains.
func (s *Sources) Localize(ctx context.Context, source string) (string, error) {
	local := source
	if IsRemote(source) {
		var err error
		if local, err = s.download(ctx, source); err != nil {
			return "", err
		}
	} else if _, err := os.Stat(source); err != nil {
		return "", eris.Wrapf(err, "fetcher: input %s", source)
	}

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		dir, err := os.MkdirTemp(s.TempDir, "geobatch-zip-*")
		if err != nil {
			return "", eris.Wrap(err, "fetcher: create extract dir")
		}
		return ExtractZIPSingle(local, dir)
	}
	return local, nil
}

func (s *Sources) download(ctx context.Context, source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse url")
	}

	f := s.HTTP
	if strings.EqualFold(u.Scheme, "ftp") {
		f = s.FTP
	}
	if f == nil {
		return "", eris.Errorf("fetcher: no fetcher for scheme %q", u.Scheme)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "input"
	}
	dir, err := os.MkdirTemp(s.TempDir, "geobatch-input-*")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create download dir")
	}
	dest := filepath.Join(dir, name)

	n, err := f.DownloadToFile(ctx, source, dest)
	if err != nil {
		return "", err
	}
	zap.L().Info("fetcher: downloaded input",
		zap.String("host", u.Host),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

func copyToFile(rc io.ReadCloser, path string) (int64, error) {
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
