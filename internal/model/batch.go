package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ErrTerminalOutcome is returned when a transition is attempted on a
// completed or failed outcome.
var ErrTerminalOutcome = eris.New("batch outcome is already terminal")

// Batch is a contiguous slice of the input. EndRow is exclusive.
type Batch struct {
	index    int
	startRow int
	rows     []RawRow
}

// NewBatch validates that rows carry contiguous indices starting at startRow.
func NewBatch(index, startRow int, rows []RawRow) (Batch, error) {
	if index < 0 {
		return Batch{}, eris.Errorf("batch: negative index %d", index)
	}
	for i, r := range rows {
		if r.Index != startRow+i {
			return Batch{}, eris.Errorf("batch %d: row %d has index %d, want %d", index, i, r.Index, startRow+i)
		}
	}
	return Batch{index: index, startRow: startRow, rows: rows}, nil
}

func (b Batch) Index() int     { return b.index }
func (b Batch) StartRow() int  { return b.startRow }
func (b Batch) EndRow() int    { return b.startRow + len(b.rows) }
func (b Batch) Len() int       { return len(b.rows) }
func (b Batch) Rows() []RawRow { return b.rows }

// BatchStatus is the lifecycle state of a BatchOutcome.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchRetrying   BatchStatus = "retrying"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// BatchOutcome records what happened to one batch. Data is populated only
// when Status is BatchCompleted.
type BatchOutcome struct {
	BatchIndex     int             `json:"batch_index"`
	Status         BatchStatus     `json:"status"`
	Data           []NormalizedRow `json:"-"`
	Error          string          `json:"error,omitempty"`
	ProcessingTime time.Duration   `json:"-"`
	RetryCount     int             `json:"retry_count"`
	Attempts       int             `json:"attempts"`
}

// NewBatchOutcome returns a pending outcome for batchIndex.
func NewBatchOutcome(batchIndex int) BatchOutcome {
	return BatchOutcome{BatchIndex: batchIndex, Status: BatchPending}
}

// Begin moves a pending or retrying outcome to processing and counts the attempt.
func (o *BatchOutcome) Begin() error {
	if o.Status.Terminal() {
		return ErrTerminalOutcome
	}
	if o.Status == BatchProcessing {
		return eris.Errorf("batch %d: already processing", o.BatchIndex)
	}
	o.Status = BatchProcessing
	o.Attempts++
	return nil
}

// Retry records a failed attempt that will be retried.
func (o *BatchOutcome) Retry(err error) error {
	if o.Status.Terminal() {
		return ErrTerminalOutcome
	}
	o.Status = BatchRetrying
	o.RetryCount++
	if err != nil {
		o.Error = err.Error()
	}
	return nil
}

// Complete marks the outcome successful. A previous attempt's error is kept.
func (o *BatchOutcome) Complete(rows []NormalizedRow, elapsed time.Duration) error {
	if o.Status.Terminal() {
		return ErrTerminalOutcome
	}
	o.Status = BatchCompleted
	o.Data = rows
	o.ProcessingTime = elapsed
	return nil
}

// Fail marks the outcome permanently failed.
func (o *BatchOutcome) Fail(err error, elapsed time.Duration) error {
	if o.Status.Terminal() {
		return ErrTerminalOutcome
	}
	o.Status = BatchFailed
	o.Data = nil
	if err != nil {
		o.Error = err.Error()
	}
	o.ProcessingTime = elapsed
	return nil
}

// MarshalJSON reports the processing time in milliseconds and the row count
// instead of the rows themselves.
func (o BatchOutcome) MarshalJSON() ([]byte, error) {
	type alias BatchOutcome
	return json.Marshal(struct {
		alias
		ProcessingMs int64 `json:"processing_time_ms"`
		RowCount     int   `json:"row_count"`
	}{alias(o), o.ProcessingTime.Milliseconds(), len(o.Data)})
}
