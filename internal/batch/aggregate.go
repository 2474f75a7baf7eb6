package batch

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/model"
)

// AggregateOptions controls how failed batches are merged.
type AggregateOptions struct {
	// BackfillFailed re-derives the rows of failed batches from their raw
	// columns instead of emitting them with the batch error.
	BackfillFailed bool
}

// Aggregate merges per-batch outcomes into one dataset ordered by row index.
// It does not depend on the order in which outcomes finished. Every input
// row appears exactly once: rows a normalizer omitted come back with empty
// cleaned fields, and rows left without a cleaned address are backfilled
// from the raw row when it has one.
func Aggregate(batches []model.Batch, outcomes []model.BatchOutcome, opts AggregateOptions) []model.NormalizedRow {
	sorted := slices.Clone(outcomes)
	slices.SortStableFunc(sorted, func(a, b model.BatchOutcome) int { return a.BatchIndex - b.BatchIndex })
	byBatch := make(map[int]model.BatchOutcome, len(sorted))
	for _, o := range sorted {
		byBatch[o.BatchIndex] = o
	}

	ordered := slices.Clone(batches)
	slices.SortFunc(ordered, func(a, b model.Batch) int { return a.Index() - b.Index() })

	total := 0
	for _, b := range ordered {
		total += b.Len()
	}
	out := make([]model.NormalizedRow, 0, total)

	for _, b := range ordered {
		o, ok := byBatch[b.Index()]
		if !ok {
			o = model.NewBatchOutcome(b.Index())
			_ = o.Fail(nil, 0)
			o.Error = "no outcome recorded"
		}

		if o.Status == model.BatchCompleted {
			out = append(out, mergeCompleted(b, o)...)
			continue
		}
		out = append(out, mergeFailed(b, o, opts)...)
	}
	return out
}

func mergeCompleted(b model.Batch, o model.BatchOutcome) []model.NormalizedRow {
	got := make(map[int]model.NormalizedRow, len(o.Data))
	for _, n := range o.Data {
		if n.RowIndex < b.StartRow() || n.RowIndex >= b.EndRow() {
			zap.L().Warn("batch: dropping row outside batch",
				zap.Int("batch", b.Index()),
				zap.Int("row_index", n.RowIndex),
			)
			continue
		}
		if _, dup := got[n.RowIndex]; !dup {
			got[n.RowIndex] = n
		}
	}

	rows := make([]model.NormalizedRow, 0, b.Len())
	missing := 0
	for _, raw := range b.Rows() {
		n, ok := got[raw.Index]
		if !ok {
			missing++
			n = model.NormalizedRow{RowIndex: raw.Index}
		}
		n.Original = raw.Fields
		rows = append(rows, backfill(n, raw))
	}
	if missing > 0 {
		zap.L().Warn("batch: normalizer omitted rows",
			zap.Int("batch", b.Index()),
			zap.Int("missing", missing),
		)
	}
	return rows
}

func mergeFailed(b model.Batch, o model.BatchOutcome, opts AggregateOptions) []model.NormalizedRow {
	rows := make([]model.NormalizedRow, 0, b.Len())
	for _, raw := range b.Rows() {
		n := model.NormalizedRow{RowIndex: raw.Index, Original: raw.Fields}
		if opts.BackfillFailed {
			n = backfill(n, raw)
		}
		if !n.Backfilled {
			n.Error = o.Error
		}
		rows = append(rows, n)
	}
	return rows
}

// backfill fills blank cleaned fields from the raw row when the cleaned
// address is blank and the raw row has an address.
func backfill(n model.NormalizedRow, raw model.RawRow) model.NormalizedRow {
	if strings.TrimSpace(n.Cleaned.Address) != "" {
		return n
	}
	src := raw.Fields.Clean()
	if src.Address == "" {
		return n
	}
	n.Cleaned = model.AddressFields{
		Address: src.Address,
		City:    orDefault(n.Cleaned.City, src.City),
		State:   orDefault(n.Cleaned.State, src.State),
		Phone:   orDefault(n.Cleaned.Phone, src.Phone),
		Email:   orDefault(n.Cleaned.Email, src.Email),
	}
	n.Backfilled = true
	return n
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
