// Package normalize cleans the address fields of a batch of rows through an
// LLM or an offline parser.
package normalize

import (
	"context"

	"github.com/sells-group/geobatch/internal/model"
)

// Normalizer cleans one batch of rows. Implementations receive only the
// address subset of each row and may return rows in any order; rows they
// cannot handle may be omitted.
type Normalizer interface {
	Name() string
	Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error)
}

// Func adapts a function to the Normalizer interface.
type Func func(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error)

func (Func) Name() string { return "func" }

func (f Func) Normalize(ctx context.Context, rows []model.RawRow) ([]model.NormalizedRow, error) {
	return f(ctx, rows)
}

// payloadRow is the minimal record sent to a remote normalizer.
type payloadRow struct {
	RowIndex int    `json:"row_index"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

func payload(rows []model.RawRow) []payloadRow {
	out := make([]payloadRow, len(rows))
	for i, r := range rows {
		f := r.Fields.Clean()
		out[i] = payloadRow{
			RowIndex: r.Index,
			Address:  f.Address,
			City:     f.City,
			State:    f.State,
			Phone:    f.Phone,
			Email:    f.Email,
		}
	}
	return out
}
