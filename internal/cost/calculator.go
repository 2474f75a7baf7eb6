// Package cost estimates provider spend for a run from the tokens and
// geocoding requests it consumed.
package cost

import "math"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Models  map[string]ModelRate `yaml:"models" mapstructure:"models"`
	Geocode GeocodeRate          `yaml:"geocode" mapstructure:"geocode"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// GeocodeRate holds Google Geocoding pricing.
type GeocodeRate struct {
	PerThousand float64 `yaml:"per_thousand" mapstructure:"per_thousand"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// LLM computes the cost of one model's token usage. Unknown models cost 0.
func (c *Calculator) LLM(model string, input, output int64) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Geocode computes the cost of n billable geocoding requests.
func (c *Calculator) Geocode(n int) float64 {
	return (float64(n) / 1000) * c.rates.Geocode.PerThousand
}

// Estimate prices a usage snapshot, rounded to 4 decimal places.
func (c *Calculator) Estimate(u Usage) float64 {
	total := c.Geocode(u.GeocodeRequests)
	for model, t := range u.Models {
		total += c.LLM(model, t.Input, t.Output)
	}
	return math.Round(total*1e4) / 1e4
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
			"gemini-2.5-flash-lite":      {Input: 0.10, Output: 0.40},
			"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Geocode: GeocodeRate{PerThousand: 5.00},
	}
}
