//go:build !libpostal

package normalize

import "github.com/rotisserie/eris"

// NewLibpostal reports that libpostal support was not compiled in.
func NewLibpostal(string) (Normalizer, error) {
	return nil, eris.New("normalize: libpostal support requires building with -tags libpostal")
}
