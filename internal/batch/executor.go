package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/normalize"
	"github.com/sells-group/geobatch/internal/resilience"
)

// ErrBatchTimeout is recorded when an attempt outlives Config.Timeout.
var ErrBatchTimeout = eris.New("Batch timeout")

// Config controls wave size, per-attempt timeout and retry schedule.
// Retry n waits BackoffBase * 2^(n-1), capped at MaxBackoff when it is set.
type Config struct {
	MaxConcurrent  int
	Timeout        time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	MaxBackoff     time.Duration // 0 = uncapped
	InterWaveDelay time.Duration
}

// DefaultConfig returns 8 batches per wave, a 60s timeout and 3 retries
// backing off 1s, 2s, 4s.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  8,
		Timeout:        60 * time.Second,
		MaxRetries:     3,
		BackoffBase:    time.Second,
		InterWaveDelay: time.Second,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrent <= 0:
		return eris.Errorf("batch: max concurrent must be positive, got %d", c.MaxConcurrent)
	case c.Timeout <= 0:
		return eris.Errorf("batch: timeout must be positive, got %s", c.Timeout)
	case c.MaxRetries < 0:
		return eris.Errorf("batch: max retries must not be negative, got %d", c.MaxRetries)
	case c.BackoffBase <= 0:
		return eris.Errorf("batch: backoff base must be positive, got %s", c.BackoffBase)
	case c.MaxBackoff < 0 || c.InterWaveDelay < 0:
		return eris.New("batch: delays must not be negative")
	}
	return nil
}

// backoffCap is MaxBackoff, or the last delay of the schedule when unset.
func (c Config) backoffCap() time.Duration {
	if c.MaxBackoff > 0 {
		return c.MaxBackoff
	}
	d := c.BackoffBase
	for i := 1; i < c.MaxRetries && d < 24*time.Hour; i++ {
		d *= 2
	}
	return d
}

// ProgressFunc is called once per batch when it reaches a terminal status.
// Calls are serialized.
type ProgressFunc func(done, total int, outcome model.BatchOutcome)

// Executor runs batches through a Normalizer in waves.
type Executor struct {
	normalizer normalize.Normalizer
	cfg        Config
	sleep      func(ctx context.Context, d time.Duration) error
	progress   ProgressFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the function used for backoff and inter-wave delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.progress = fn }
}

// NewExecutor validates cfg and returns an Executor.
func NewExecutor(n normalize.Normalizer, cfg Config, opts ...Option) (*Executor, error) {
	if n == nil {
		return nil, eris.New("batch: normalizer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{normalizer: n, cfg: cfg, sleep: resilience.SleepContext}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NormalizerName returns the name of the wrapped normalizer.
func (e *Executor) NormalizerName() string {
	return e.normalizer.Name()
}

// Run processes batches in waves of at most MaxConcurrent and returns one
// terminal outcome per batch, in input order. A failing batch never
// cancels its siblings; only ctx cancellation stops the run early, in which
// case unfinished batches are marked failed.
func (e *Executor) Run(ctx context.Context, batches []model.Batch) []model.BatchOutcome {
	outcomes := make([]model.BatchOutcome, len(batches))
	for i, b := range batches {
		outcomes[i] = model.NewBatchOutcome(b.Index())
	}

	var (
		mu   sync.Mutex
		done int
	)
	finish := func(i int) {
		if e.progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		e.progress(done, len(batches), outcomes[i])
	}

	waves := 0
	for start := 0; start < len(batches); start += e.cfg.MaxConcurrent {
		end := min(start+e.cfg.MaxConcurrent, len(batches))

		if err := ctx.Err(); err != nil {
			for i := start; i < len(batches); i++ {
				_ = outcomes[i].Fail(err, 0)
				finish(i)
			}
			break
		}

		zap.L().Debug("batch: starting wave",
			zap.Int("wave", waves),
			zap.Int("first_batch", start),
			zap.Int("batches", end-start),
		)

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				e.runBatch(ctx, batches[i], &outcomes[i])
				finish(i)
				return nil
			})
		}
		_ = g.Wait()
		waves++

		if end < len(batches) {
			_ = e.sleep(ctx, e.cfg.InterWaveDelay)
		}
	}
	return outcomes
}

func (e *Executor) runBatch(ctx context.Context, b model.Batch, out *model.BatchOutcome) {
	log := zap.L().With(
		zap.Int("batch", b.Index()),
		zap.Int("start_row", b.StartRow()),
		zap.Int("rows", b.Len()),
	)
	started := time.Now()

	retryLog := resilience.RetryLogger("batch", zap.Int("batch", b.Index()))
	cfg := resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxRetries + 1,
		InitialBackoff: e.cfg.BackoffBase,
		MaxBackoff:     e.cfg.backoffCap(),
		Multiplier:     2,
		ShouldRetry:    func(error) bool { return true },
		OnRetry: func(retry int, delay time.Duration, err error) {
			_ = out.Retry(err)
			retryLog(retry, delay, err)
		},
		Sleep: e.sleep,
	}

	rows, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.NormalizedRow, error) {
		if err := out.Begin(); err != nil {
			return nil, err
		}
		return e.attempt(ctx, b)
	})

	elapsed := time.Since(started)
	if err != nil {
		_ = out.Fail(err, elapsed)
		log.Error("batch: failed",
			zap.Int("attempts", out.Attempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	_ = out.Complete(rows, elapsed)
	log.Info("batch: completed",
		zap.Int("attempts", out.Attempts),
		zap.Int("normalized", len(rows)),
		zap.Duration("elapsed", elapsed),
	)
}

type attemptResult struct {
	rows []model.NormalizedRow
	err  error
}

// attempt races one Normalize call against the batch timeout. The result
// channel is buffered so an abandoned call can still deliver and exit; its
// result is dropped.
func (e *Executor) attempt(ctx context.Context, b model.Batch) ([]model.NormalizedRow, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptResult{err: eris.Errorf("batch: normalizer panic: %v", r)}
			}
		}()
		rows, err := e.normalizer.Normalize(actx, b.Rows())
		ch <- attemptResult{rows: rows, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, ErrBatchTimeout
		}
		return r.rows, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrBatchTimeout
	}
}
