// Package store persists run history and processed rows.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Input  string          `json:"input,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`

	// CreatedAfter keeps runs created at or after this time when non-zero.
	CreatedAfter time.Time `json:"created_after,omitempty"`
}

// Store defines the persistence interface for geobatch runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Rows
	SaveRows(ctx context.Context, runID string, rows []model.ProcessedRow) error
	GetRows(ctx context.Context, runID string) ([]model.ProcessedRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// rowColumns is the column order of run_rows.
var rowColumns = []string{"run_id", "row_index", "status", "confidence_score", "latitude", "longitude", "zip_code", "data"}

// rowValues flattens a processed row for insertion. Coordinates and zip
// code are NULL when absent; data holds the full row as JSON.
func rowValues(runID string, r model.ProcessedRow, data []byte) []any {
	var lat, lng, zip any
	if r.Geocoding != nil {
		lat, lng = r.Geocoding.Latitude, r.Geocoding.Longitude
	}
	if r.ZipInfo != nil && r.ZipInfo.ZipCode != "" {
		zip = r.ZipInfo.ZipCode
	}
	return []any{runID, r.RowIndex, string(r.Status), r.Score, lat, lng, zip, data}
}
