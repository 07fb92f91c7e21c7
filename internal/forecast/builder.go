// Package forecast converts a point forecast with an uncertainty spread into a
// probability mass over canonical temperature buckets.
package forecast

import (
	"fmt"
	"math"

	"github.com/thientran01/weather-bot/internal/bucket"
)

// Tolerance is the allowed drift of the total mass from 1.0 before the
// builder renormalizes.
const Tolerance = 1e-6

// Input is the forecast for one metric of one city/day. Expected is nil when
// the source had no value for the period. Spread is the standard deviation of
// the forecast error in degrees.
type Input struct {
	Expected *float64
	Spread   float64
}

// InvalidForecastError reports a forecast input that cannot be turned into a
// distribution.
type InvalidForecastError struct {
	Reason string
}

func (e *InvalidForecastError) Error() string {
	return "invalid forecast: " + e.Reason
}

// Validate checks that the input describes a usable distribution.
func (in Input) Validate() error {
	if in.Expected == nil {
		return &InvalidForecastError{Reason: "expected value is missing"}
	}
	if math.IsNaN(*in.Expected) || math.IsInf(*in.Expected, 0) {
		return &InvalidForecastError{Reason: fmt.Sprintf("expected value %v is not a finite number", *in.Expected)}
	}
	if math.IsNaN(in.Spread) || in.Spread <= 0 {
		return &InvalidForecastError{Reason: fmt.Sprintf("spread %v must be positive", in.Spread)}
	}
	if math.IsInf(in.Spread, 0) {
		return &InvalidForecastError{Reason: "spread is infinite"}
	}
	return nil
}

// Distribution is the forecast probability mass per bucket. Masses are
// non-negative and sum to 1 within Tolerance.
type Distribution struct {
	schema bucket.Schema
	probs  []float64
	mean   float64
	spread float64
}

// Schema returns the bucket schema the distribution is built over.
func (d Distribution) Schema() bucket.Schema {
	return d.schema
}

// Len returns the number of buckets.
func (d Distribution) Len() int {
	return len(d.probs)
}

// Empty reports whether the distribution carries no buckets, i.e. the
// forecast was unavailable.
func (d Distribution) Empty() bool {
	return len(d.probs) == 0
}

// Prob returns the mass of bucket i.
func (d Distribution) Prob(i int) float64 {
	return d.probs[i]
}

// Mean returns the center the distribution was built from.
func (d Distribution) Mean() float64 {
	return d.mean
}

// Spread returns the scale the distribution was built from.
func (d Distribution) Spread() float64 {
	return d.spread
}

// Sum returns the total mass.
func (d Distribution) Sum() float64 {
	var s float64
	for _, p := range d.probs {
		s += p
	}
	return s
}

// Build models the forecast as a Normal distribution centered on the expected
// value with the spread as standard deviation and integrates it over each
// bucket of the schema.
func Build(schema bucket.Schema, in Input) (Distribution, error) {
	if err := in.Validate(); err != nil {
		return Distribution{}, err
	}
	if schema.Empty() {
		return Distribution{}, &InvalidForecastError{Reason: "bucket schema is empty"}
	}

	mu, sigma := *in.Expected, in.Spread
	probs := make([]float64, schema.Len())
	var total float64
	for i := 0; i < schema.Len(); i++ {
		b := schema.At(i)
		var p float64
		switch {
		case b.OpenLow && b.OpenHigh:
			p = 1
		case b.OpenLow:
			p = cdf(b.Upper(), mu, sigma)
		case b.OpenHigh:
			p = survival(b.Lower(), mu, sigma)
		default:
			p = cdf(b.Upper(), mu, sigma) - cdf(b.Lower(), mu, sigma)
		}
		if p < 0 || math.IsNaN(p) {
			p = 0
		}
		probs[i] = p
		total += p
	}

	if math.Abs(total-1) > Tolerance && total > 0 {
		for i := range probs {
			probs[i] /= total
		}
	}

	return Distribution{schema: schema, probs: probs, mean: mu, spread: sigma}, nil
}

// cdf is the Normal cumulative distribution function.
func cdf(x, mu, sigma float64) float64 {
	return 0.5 * math.Erfc(-(x-mu)/(sigma*math.Sqrt2))
}

// survival is 1-cdf, computed directly so the upper tail keeps precision.
func survival(x, mu, sigma float64) float64 {
	return 0.5 * math.Erfc((x-mu)/(sigma*math.Sqrt2))
}
