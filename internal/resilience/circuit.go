// Package resilience provides retry and circuit breaker primitives for calls
// to the normalization and geocoding providers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets one trial call through after the reset timeout.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is returned for calls rejected without reaching the provider.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Transition describes a state change.
type Transition struct {
	Name     string
	From, To CircuitState
	Failures int
}

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before one trial
	// call is let through. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides which errors count as failures. If nil, every
	// error except caller cancellation counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called after each transition, outside the lock, with
	// the context of the call that caused it.
	OnStateChange func(ctx context.Context, t Transition)
}

// DefaultCircuitBreakerConfig returns the defaults used for the geocoder.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
// Non-positive values keep the defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	Name                string       `json:"name"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Trips               int64        `json:"trips"`
	Rejected            int64        `json:"rejected"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	RetryAt             *time.Time   `json:"retry_at,omitempty"`
}

// CircuitBreaker guards calls to one provider. It is shared by every row
// and run that uses the provider and is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
	trips    int64
	rejected int64

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker. name identifies it in logs
// and status output.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// Call runs fn unless the circuit is open. While half-open only one call
// is let through; concurrent callers are rejected until it finishes.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, t, err := cb.admit()
	cb.notify(ctx, t)
	if err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.notify(ctx, cb.record(trial, err))
	return val, err
}

// Status returns the breaker's current status. An open breaker whose
// reset timeout has passed reports half-open.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := BreakerStatus{
		Name:                cb.name,
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		Trips:               cb.trips,
		Rejected:            cb.rejected,
	}
	if cb.state != CircuitClosed {
		opened := cb.openedAt
		retryAt := opened.Add(cb.cfg.ResetTimeout)
		st.OpenedAt, st.RetryAt = &opened, &retryAt
		if cb.state == CircuitOpen && !cb.now().Before(retryAt) {
			st.State = CircuitHalfOpen
		}
	}
	return st
}

// admit decides whether a call may proceed. trial reports that the call
// is the single half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, t *Transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.rejected++
			return false, nil, ErrCircuitOpen
		}
		t = cb.moveTo(CircuitHalfOpen)
		cb.probing = true
		return true, t, nil
	case CircuitHalfOpen:
		if cb.probing {
			cb.rejected++
			return false, nil, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil, nil
	default:
		return false, nil, nil
	}
}

func (cb *CircuitBreaker) record(trial bool, err error) *Transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.probing = false
	}
	if err == nil || !cb.cfg.ShouldTrip(err) {
		switch {
		case trial && err != nil:
			// Inconclusive trial; the next caller tries again.
			return cb.moveTo(CircuitOpen)
		case trial:
			cb.failures = 0
			return cb.moveTo(CircuitClosed)
		}
		cb.failures = 0
		return nil
	}

	cb.failures++
	switch {
	case trial:
		return cb.open()
	case cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		return cb.open()
	}
	return nil
}

func (cb *CircuitBreaker) open() *Transition {
	cb.openedAt = cb.now()
	cb.trips++
	return cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) *Transition {
	if cb.state == to {
		return nil
	}
	t := &Transition{Name: cb.name, From: cb.state, To: to, Failures: cb.failures}
	cb.state = to
	return t
}

func (cb *CircuitBreaker) notify(ctx context.Context, t *Transition) {
	if t != nil && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(ctx, *t)
	}
}
