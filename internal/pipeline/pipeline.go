// Package pipeline wires the batch executor, geocoding resolver and zip
// enrichment into a single synchronous run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/batch"
	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/enrich"
	"github.com/sells-group/geobatch/internal/fetcher"
	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/normalize"
	"github.com/sells-group/geobatch/internal/resilience"
	"github.com/sells-group/geobatch/internal/resolve"
	"github.com/sells-group/geobatch/internal/store"
	"github.com/sells-group/geobatch/pkg/geocode"
)

type runIDKey struct{}

// RunID returns the ID of the run ctx belongs to, or "" outside a run or
// when no store is configured.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// ErrInvalidBatchSize is returned by New when the batch size is not positive.
var ErrInvalidBatchSize = batch.ErrInvalidBatchSize

// Config holds the tunables of a run.
type Config struct {
	BatchSize         int
	Executor          batch.Config
	Resolve           resolve.Config
	BackfillFailed    bool
	EnrichConcurrency int

	// CheckRows flags rows missing a location or any contact.
	CheckRows bool
	// Dedupe resolves repeated rows once and marks the copies.
	Dedupe bool
}

// DefaultConfig returns batches of 50 with the executor and resolver defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         50,
		Executor:          batch.DefaultConfig(),
		Resolve:           resolve.DefaultConfig(),
		BackfillFailed:    true,
		EnrichConcurrency: 10,
		CheckRows:         true,
		Dedupe:            true,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return eris.Wrapf(ErrInvalidBatchSize, "pipeline: batch size %d", c.BatchSize)
	}
	return c.Executor.Validate()
}

// Pipeline processes row sets end to end.
type Pipeline struct {
	cfg      Config
	executor *batch.Executor
	resolver *resolve.Resolver
	enricher *enrich.Stage
	store    store.Store
	sources  *fetcher.Sources
	calc     *cost.Calculator

	geocoder geocode.Client
	zip      enrich.ZipLookup
	breaker  *resilience.CircuitBreaker
	progress batch.ProgressFunc
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGeocoder sets the geocoding client. Without one rows are normalized
// only.
func WithGeocoder(c geocode.Client) Option {
	return func(p *Pipeline) { p.geocoder = c }
}

// WithZipLookup enables the enrichment stage.
func WithZipLookup(z enrich.ZipLookup) Option {
	return func(p *Pipeline) { p.zip = z }
}

// WithStore persists runs and their rows.
func WithStore(s store.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithBreaker routes geocoder calls through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) { p.breaker = cb }
}

// WithProgress registers a callback fired once per finished batch.
func WithProgress(fn batch.ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithSleep replaces every delay the pipeline takes. Tests use it to run
// retry schedules instantly.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// WithSources sets how ProcessFile resolves remote inputs.
func WithSources(s *fetcher.Sources) Option {
	return func(p *Pipeline) { p.sources = s }
}

// WithRates prices provider usage. Defaults to cost.DefaultRates.
func WithRates(r cost.Rates) Option {
	return func(p *Pipeline) { p.calc = cost.NewCalculator(r) }
}

// New validates cfg and builds a Pipeline around n.
func New(cfg Config, n normalize.Normalizer, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, sleep: resilience.SleepContext, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.sources == nil {
		p.sources = fetcher.NewSources("")
	}
	if p.calc == nil {
		p.calc = cost.NewCalculator(cost.DefaultRates())
	}

	execOpts := []batch.Option{batch.WithSleep(p.sleep)}
	if p.progress != nil {
		execOpts = append(execOpts, batch.WithProgress(p.progress))
	}
	exec, err := batch.NewExecutor(n, cfg.Executor, execOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: executor")
	}
	p.executor = exec

	resOpts := []resolve.Option{resolve.WithSleep(p.sleep)}
	if p.breaker != nil {
		resOpts = append(resOpts, resolve.WithBreaker(p.breaker))
	}
	p.resolver = resolve.New(p.geocoder, cfg.Resolve, resOpts...)

	if p.zip != nil {
		p.enricher = enrich.NewStage(p.zip, cfg.EnrichConcurrency)
	}
	return p, nil
}

// ProcessFile reads source (a local path or an http(s)/ftp URL) and
// processes its rows.
func (p *Pipeline) ProcessFile(ctx context.Context, source string, opts ingest.Options) (*model.Result, error) {
	local, err := p.sources.Localize(ctx, source)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: localize input")
	}
	table, err := ingest.ReadFile(ctx, local, opts)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, source, table.Rows)
}

// Process runs rows through every stage and returns once each row has a
// terminal status. Failed batches and rows are reported in the result;
// an error is returned only when nothing could start.
func (p *Pipeline) Process(ctx context.Context, rows []model.RawRow) (*model.Result, error) {
	return p.run(ctx, "inline", rows)
}

func (p *Pipeline) run(ctx context.Context, input string, rows []model.RawRow) (*model.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: cancelled before start")
	}

	batches, err := batch.Partition(rows, p.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: partition")
	}

	var runID string
	if p.store != nil {
		run, err := p.store.CreateRun(ctx, input)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
		ctx = context.WithValue(ctx, runIDKey{}, runID)
	}

	log := zap.L().With(zap.String("run_id", runID), zap.String("input", input))
	log.Info("pipeline: starting run",
		zap.Int("rows", len(rows)),
		zap.Int("batches", len(batches)),
		zap.String("normalizer", p.executor.NormalizerName()),
	)
	start := p.now()
	tracker := cost.NewTracker()
	ctx = cost.WithTracker(ctx, tracker)

	outcomes := p.executor.Run(ctx, batches)
	normalized := batch.Aggregate(batches, outcomes, batch.AggregateOptions{BackfillFailed: p.cfg.BackfillFailed})
	processed := p.resolve(ctx, log, normalized)
	if p.cfg.CheckRows {
		for i := range processed {
			processed[i].Issues = RowIssues(processed[i].Cleaned)
		}
	}
	if p.enricher != nil {
		p.enricher.Apply(ctx, processed)
	}

	summary := Summarize(processed, outcomes, p.now().Sub(start))
	ApplyUsage(&summary, tracker.Usage(), p.calc)
	result := &model.Result{
		RunID:          runID,
		TotalProcessed: len(processed),
		Statistics:     Statistics(processed),
		Results:        processed,
		RunSummary:     summary,
		Batches:        outcomes,
	}

	log.Info("pipeline: run complete",
		zap.Int("high", summary.HighConfidence),
		zap.Int("medium", summary.MediumConf),
		zap.Int("low", summary.LowConfidence),
		zap.Int("failed", summary.Failed),
		zap.Int("failed_batches", summary.FailedBatches),
		zap.Int("duplicates", summary.DuplicateRows),
		zap.Int("incomplete", summary.IncompleteRows),
		zap.Int64("wall_ms", summary.WallTimeMs),
		zap.Float64("cost_usd", summary.CostUSD),
	)
	if p.breaker != nil {
		if st := p.breaker.Status(); st.Trips > 0 || st.State != resilience.CircuitClosed {
			log.Warn("pipeline: geocoder breaker tripped during run",
				zap.Stringer("state", st.State),
				zap.Int64("trips", st.Trips),
				zap.Int64("rejected", st.Rejected),
			)
		}
	}

	p.persist(context.WithoutCancel(ctx), log, result)
	return result, nil
}

// resolve geocodes rows, once per distinct row when Dedupe is set.
func (p *Pipeline) resolve(ctx context.Context, log *zap.Logger, rows []model.NormalizedRow) []model.ProcessedRow {
	if !p.cfg.Dedupe {
		return p.resolver.Resolve(ctx, rows)
	}
	plan := planDedupe(rows)
	if n := plan.duplicates(); n > 0 {
		log.Info("pipeline: duplicate rows share one lookup", zap.Int("duplicates", n))
	}
	return plan.expand(rows, p.resolver.Resolve(ctx, plan.unique))
}

// persist records the run outcome. Store errors are logged; the result is
// still returned to the caller.
func (p *Pipeline) persist(ctx context.Context, log *zap.Logger, result *model.Result) {
	if p.store == nil || result.RunID == "" {
		return
	}
	if err := p.store.SaveRows(ctx, result.RunID, result.Results); err != nil {
		log.Warn("pipeline: failed to save rows", zap.Error(err))
		if failErr := p.store.FailRun(ctx, result.RunID, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		return
	}
	summary := result.RunSummary
	if err := p.store.CompleteRun(ctx, result.RunID, &summary); err != nil {
		log.Warn("pipeline: failed to complete run", zap.Error(err))
	}
}
