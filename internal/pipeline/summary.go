package pipeline

import (
	"math"
	"time"

	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/model"
)

// Summarize aggregates the per-row and per-batch results of a run. The
// success rate is the share of batches that completed, as a percentage
// rounded to two decimals.
func Summarize(rows []model.ProcessedRow, outcomes []model.BatchOutcome, wall time.Duration) model.RunSummary {
	s := model.RunSummary{
		TotalRows:    len(rows),
		TotalBatches: len(outcomes),
		WallTimeMs:   wall.Milliseconds(),
	}

	for _, r := range rows {
		switch r.Status {
		case model.StatusHigh:
			s.HighConfidence++
		case model.StatusMedium:
			s.MediumConf++
		case model.StatusLow:
			s.LowConfidence++
		default:
			s.Failed++
		}
		if r.Backfilled {
			s.BackfilledRows++
		}
		if r.ZipInfo != nil {
			s.ZipResolved++
		}
		if r.DuplicateOf != nil {
			s.DuplicateRows++
		}
		if len(r.Issues) > 0 {
			s.IncompleteRows++
		}
	}

	var total time.Duration
	for _, o := range outcomes {
		switch o.Status {
		case model.BatchCompleted:
			s.CompletedBatches++
		case model.BatchFailed:
			s.FailedBatches++
		}
		s.TotalRetries += o.RetryCount
		total += o.ProcessingTime
	}
	s.TotalBatchTimeMs = total.Milliseconds()

	if len(outcomes) > 0 {
		s.AvgBatchTimeMs = round2(float64(total.Microseconds()) / 1000 / float64(len(outcomes)))
		s.SuccessRate = round2(float64(s.CompletedBatches) * 100 / float64(len(outcomes)))
	}
	return s
}

// ApplyUsage copies token and geocode counts into s and prices them.
func ApplyUsage(s *model.RunSummary, u cost.Usage, calc *cost.Calculator) {
	s.InputTokens = u.InputTokens()
	s.OutputTokens = u.OutputTokens()
	s.GeocodeRequests = u.GeocodeRequests
	s.CostUSD = calc.Estimate(u)
}

// Statistics returns the per-tier row counts of the caller-facing result.
func Statistics(rows []model.ProcessedRow) model.Statistics {
	s := Summarize(rows, nil, 0)
	return model.Statistics{
		High:   s.HighConfidence,
		Medium: s.MediumConf,
		Low:    s.LowConfidence,
		Failed: s.Failed,
		Total:  s.TotalRows,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
