package main

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/config"
	"github.com/sells-group/geobatch/internal/fetcher"
)

// errInputForbidden marks an API input outside the configured policy.
var errInputForbidden = eris.New("input not allowed")

// inputPolicy decides which inputs an API request may name. The zero value
// rejects everything.
type inputPolicy struct {
	dir   string
	hosts map[string]bool
}

func newInputPolicy(sc config.ServerConfig) inputPolicy {
	p := inputPolicy{dir: sc.InputDir, hosts: make(map[string]bool, len(sc.AllowedHosts))}
	for _, h := range sc.AllowedHosts {
		p.hosts[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return p
}

// resolve maps a requested input to the source handed to the pipeline.
// Remote URLs must name an allowed host. Anything else is a path relative
// to dir that must stay inside it, symlinks included.
func (p inputPolicy) resolve(input string) (string, error) {
	if fetcher.IsRemote(input) {
		u, err := url.Parse(input)
		if err != nil || !p.hosts[strings.ToLower(u.Hostname())] {
			return "", eris.Wrapf(errInputForbidden, "host of %q is not allowed", input)
		}
		return input, nil
	}
	if strings.Contains(input, "://") {
		return "", eris.Wrapf(errInputForbidden, "scheme of %q is not supported", input)
	}
	if p.dir == "" {
		return "", eris.Wrap(errInputForbidden, "file inputs are disabled")
	}
	if filepath.IsAbs(input) || filepath.VolumeName(input) != "" {
		return "", eris.Wrapf(errInputForbidden, "absolute path %q", input)
	}
	rel := filepath.Clean(input)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Wrapf(errInputForbidden, "path %q escapes the input directory", input)
	}

	root, err := filepath.EvalSymlinks(p.dir)
	if err != nil {
		return "", eris.Wrap(err, "resolve input directory")
	}
	full := filepath.Join(root, rel)
	target, err := filepath.EvalSymlinks(full)
	if err != nil {
		// Missing files are reported by the pipeline.
		return full, nil
	}
	if inside, _ := filepath.Rel(root, target); inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", eris.Wrapf(errInputForbidden, "path %q escapes the input directory", input)
	}
	return target, nil
}
