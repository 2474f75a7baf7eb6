package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geobatch/internal/model"
)

func makeRows(n int) []model.RawRow {
	out := make([]model.RawRow, n)
	for i := range out {
		out[i] = model.NewRawRow(i, nil, model.AddressFields{Address: "Calle " + string(rune('A'+i%26))})
	}
	return out
}

func TestPartition_Sizes(t *testing.T) {
	batches, err := Partition(makeRows(120), 50)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, 50, batches[0].Len())
	assert.Equal(t, 50, batches[1].Len())
	assert.Equal(t, 20, batches[2].Len())
	assert.Equal(t, 100, batches[2].StartRow())
	assert.Equal(t, 120, batches[2].EndRow())
}

func TestPartition_Completeness(t *testing.T) {
	for _, n := range []int{0, 1, 7, 49, 50, 51, 100, 333} {
		for _, size := range []int{1, 3, 50, 1000} {
			rows := makeRows(n)
			batches, err := Partition(rows, size)
			require.NoError(t, err)

			var seen []int
			next := 0
			for i, b := range batches {
				assert.Equal(t, i, b.Index())
				assert.Equal(t, next, b.StartRow(), "no gap or overlap")
				assert.LessOrEqual(t, b.Len(), size)
				if i < len(batches)-1 {
					assert.Equal(t, size, b.Len())
				}
				for _, r := range b.Rows() {
					seen = append(seen, r.Index)
				}
				next = b.EndRow()
			}
			assert.Len(t, seen, n)
			for i, idx := range seen {
				assert.Equal(t, i, idx)
			}
		}
	}
}

func TestPartition_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		_, err := Partition(makeRows(3), size)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	}
}

func TestPartition_Empty(t *testing.T) {
	batches, err := Partition(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}
