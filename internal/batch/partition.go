// Package batch partitions rows into batches, runs them through a
// normalizer in concurrent waves, and reassembles the results.
package batch

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
)

// ErrInvalidBatchSize is returned by Partition for a non-positive size.
var ErrInvalidBatchSize = eris.New("batch: size must be positive")

// Partition splits rows into consecutive batches of at most size rows.
// Every batch but the last holds exactly size rows; an empty input yields
// no batches.
func Partition(rows []model.RawRow, size int) ([]model.Batch, error) {
	if size <= 0 {
		return nil, eris.Wrapf(ErrInvalidBatchSize, "got %d", size)
	}

	batches := make([]model.Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		b, err := model.NewBatch(len(batches), rows[start].Index, rows[start:end:end])
		if err != nil {
			return nil, eris.Wrap(err, "batch: partition")
		}
		batches = append(batches, b)
	}
	return batches, nil
}
