package cost

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"flash": {Input: 0.30, Output: 2.50},
			"haiku": {Input: 1.00, Output: 5.00},
		},
		Geocode: GeocodeRate{PerThousand: 5.00},
	}
}

func TestLLM(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
	}{
		{name: "flash", model: "flash", input: 1_000_000, output: 100_000, want: 0.30 + 0.25},
		{name: "haiku", model: "haiku", input: 200_000, output: 20_000, want: 0.20 + 0.10},
		{name: "zero tokens", model: "haiku", want: 0},
		{name: "unknown model", model: "gpt-x", input: 1_000_000, output: 1_000_000, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.LLM(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestGeocode(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.6, calc.Geocode(120), 1e-9)
	assert.Zero(t, calc.Geocode(0))
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	got := calc.Estimate(Usage{
		Models: map[string]Tokens{
			"flash": {Input: 12_345, Output: 6_789},
		},
		GeocodeRequests: 120,
	})
	// 0.0037035 + 0.0169725 + 0.6
	assert.InDelta(t, 0.6207, got, 1e-9)
	assert.Zero(t, calc.Estimate(Usage{}))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()
	assert.Contains(t, rates.Models, "gemini-2.5-flash")
	assert.Contains(t, rates.Models, "claude-haiku-4-5-20251001")
	assert.Positive(t, rates.Geocode.PerThousand)
}

func TestTracker_Concurrent(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.AddTokens("flash", 100, 10)
			tr.AddGeocode(5)
		}()
	}
	wg.Wait()

	u := tr.Usage()
	assert.Equal(t, Tokens{Input: 2000, Output: 200}, u.Models["flash"])
	assert.Equal(t, 100, u.GeocodeRequests)
	assert.Equal(t, int64(2000), u.InputTokens())
	assert.Equal(t, int64(200), u.OutputTokens())
}

func TestTracker_Nil(t *testing.T) {
	t.Parallel()
	var tr *Tracker
	tr.AddTokens("flash", 1, 1)
	tr.AddGeocode(1)
	assert.Equal(t, Usage{}, tr.Usage())
}

func TestTracker_Context(t *testing.T) {
	t.Parallel()
	assert.Nil(t, FromContext(context.Background()))

	tr := NewTracker()
	ctx := WithTracker(context.Background(), tr)
	require.Same(t, tr, FromContext(ctx))

	FromContext(ctx).AddTokens("haiku", 3, 4)
	assert.Equal(t, Tokens{Input: 3, Output: 4}, tr.Usage().Models["haiku"])
}
