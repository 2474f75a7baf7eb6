// Package monitoring watches recent runs for failure spikes and cost
// overruns and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/store"
)

// collectLimit caps how many runs one snapshot reads.
const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Rows of completed runs.
	RowsTotal       int     `json:"rows_total"`
	RowsFailed      int     `json:"rows_failed"`
	RowFailRate     float64 `json:"row_fail_rate"`
	AvgBatchSuccess float64 `json:"avg_batch_success_rate"`

	CostUSD float64 `json:"cost_usd"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var successSum float64
	var summarized int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if s := r.Summary; s != nil {
			snap.RowsTotal += s.TotalRows
			snap.RowsFailed += s.Failed
			snap.CostUSD += s.CostUSD
			successSum += s.SuccessRate
			summarized++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RowsTotal > 0 {
		snap.RowFailRate = float64(snap.RowsFailed) / float64(snap.RowsTotal)
	}
	if summarized > 0 {
		snap.AvgBatchSuccess = successSum / float64(summarized)
	}
	return snap, nil
}
