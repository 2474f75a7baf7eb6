package cost

import (
	"context"
	"sync"
)

// Tokens is the token count attributed to one model.
type Tokens struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Usage is a snapshot of what a run consumed.
type Usage struct {
	Models          map[string]Tokens `json:"models,omitempty"`
	GeocodeRequests int               `json:"geocode_requests"`
}

// InputTokens sums input tokens across models.
func (u Usage) InputTokens() int64 {
	var n int64
	for _, t := range u.Models {
		n += t.Input
	}
	return n
}

// OutputTokens sums output tokens across models.
func (u Usage) OutputTokens() int64 {
	var n int64
	for _, t := range u.Models {
		n += t.Output
	}
	return n
}

// Tracker accumulates usage from concurrent batches. A nil *Tracker
// discards everything, so providers can record unconditionally.
type Tracker struct {
	mu      sync.Mutex
	models  map[string]Tokens
	geocode int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{models: make(map[string]Tokens)}
}

// AddTokens records one model call.
func (t *Tracker) AddTokens(model string, input, output int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.models[model]
	cur.Input += input
	cur.Output += output
	t.models[model] = cur
}

// AddGeocode records n billable geocoding requests.
func (t *Tracker) AddGeocode(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.geocode += n
	t.mu.Unlock()
}

// Usage returns a copy of the accumulated usage.
func (t *Tracker) Usage() Usage {
	if t == nil {
		return Usage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := Usage{GeocodeRequests: t.geocode}
	if len(t.models) > 0 {
		u.Models = make(map[string]Tokens, len(t.models))
		for k, v := range t.models {
			u.Models[k] = v
		}
	}
	return u
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the Tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
