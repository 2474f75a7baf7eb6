package model

import "time"

// RowStatus is the confidence classification of a processed row.
type RowStatus string

const (
	StatusHigh   RowStatus = "high_confidence"
	StatusMedium RowStatus = "medium_confidence"
	StatusLow    RowStatus = "low_confidence"
	StatusFailed RowStatus = "failed"
)

// StatusForScore classifies a successful lookup: >= 0.8 high,
// [0.6, 0.8) medium, anything lower low.
func StatusForScore(score float64) RowStatus {
	switch {
	case score >= 0.8:
		return StatusHigh
	case score >= 0.6:
		return StatusMedium
	default:
		return StatusLow
	}
}

// ProcessedRow is the final per-row record of a run.
type ProcessedRow struct {
	RowIndex   int               `json:"row_index"`
	Original   AddressFields     `json:"original"`
	Cleaned    AddressFields     `json:"cleaned"`
	Geocoding  *GeocodeCandidate `json:"geocoding"`
	ZipInfo    *ZipInfo          `json:"zip_info,omitempty"`
	Status     RowStatus         `json:"status"`
	Score      float64           `json:"confidence_score"`
	Error      string            `json:"error,omitempty"`
	Backfilled bool              `json:"backfilled,omitempty"`

	// Issues lists failed completeness checks, e.g. "no_contact".
	Issues []string `json:"issues,omitempty"`
	// DuplicateOf is the RowIndex of the earlier row this one repeats.
	DuplicateOf *int `json:"duplicate_of,omitempty"`
}

// RunSummary aggregates statistics over a finished run.
type RunSummary struct {
	TotalRows      int     `json:"total_rows"`
	HighConfidence int     `json:"high_confidence"`
	MediumConf     int     `json:"medium_confidence"`
	LowConfidence  int     `json:"low_confidence"`
	Failed         int     `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`

	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	FailedBatches    int `json:"failed_batches"`
	TotalRetries     int `json:"total_retries"`

	TotalBatchTimeMs int64   `json:"total_batch_time_ms"`
	AvgBatchTimeMs   float64 `json:"avg_batch_time_ms"`
	WallTimeMs       int64   `json:"wall_time_ms"`

	BackfilledRows int `json:"backfilled_rows"`
	ZipResolved    int `json:"zip_resolved"`
	DuplicateRows  int `json:"duplicate_rows"`
	IncompleteRows int `json:"incomplete_rows"`

	// Provider usage and its estimated cost in USD.
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	GeocodeRequests int     `json:"geocode_requests"`
	CostUSD         float64 `json:"cost_usd"`
}

// Statistics is the per-tier count block of a Result.
type Statistics struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Result is what a run hands back to its caller.
type Result struct {
	RunID          string         `json:"run_id,omitempty"`
	TotalProcessed int            `json:"total_processed"`
	Statistics     Statistics     `json:"statistics"`
	Results        []ProcessedRow `json:"results"`
	RunSummary     RunSummary     `json:"run_summary"`
	Batches        []BatchOutcome `json:"batches"`
}

// RunStatus is the persisted state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a persisted record of one pipeline invocation.
type Run struct {
	ID        string      `json:"id"`
	Input     string      `json:"input"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
