package ingest

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadAliases reads header overrides from a YAML file of the form
//
//	address: ["calle y numero"]
//	state: ["depto"]
//
// Keys must be canonical field names.
func LoadAliases(path string) (Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read aliases %s", path)
	}
	return ParseAliases(data)
}

// ParseAliases decodes YAML alias overrides.
func ParseAliases(data []byte) (Aliases, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "ingest: parse aliases")
	}

	out := make(Aliases, len(raw))
	for key, list := range raw {
		f := Field(fold(key))
		if !validField(f) {
			return nil, eris.Errorf("ingest: unknown alias field %q", key)
		}
		out[f] = append(out[f], list...)
	}
	return out, nil
}

func validField(f Field) bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}
