package forecast

import "math"

// SpreadPolicy fills in the spread for sources that report only a point
// forecast. Model disagreement widens or narrows the fallback.
type SpreadPolicy struct {
	Fallback   float64 // used when no better estimate exists
	Tight      float64 // used when models agree within TightBelow
	Wide       float64 // used when models disagree by more than WideAbove
	TightBelow float64
	WideAbove  float64
}

// DefaultSpreadPolicy returns the stock spread rule in °F: 2.5 baseline,
// 2.0 when models agree within 1°, 4.0 when they disagree by more than 3°.
func DefaultSpreadPolicy() SpreadPolicy {
	return SpreadPolicy{
		Fallback:   2.5,
		Tight:      2.0,
		Wide:       4.0,
		TightBelow: 1,
		WideAbove:  3,
	}
}

// Resolve returns the spread for one forecast. An explicit spread from the
// source wins; otherwise the range across model temperatures picks tight,
// wide or fallback, and fewer than two models yields the fallback.
func (p SpreadPolicy) Resolve(explicit *float64, modelTemps []float64) float64 {
	if explicit != nil && *explicit > 0 && !math.IsNaN(*explicit) && !math.IsInf(*explicit, 0) {
		return *explicit
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, t := range modelTemps {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			continue
		}
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
		n++
	}
	if n < 2 {
		return p.Fallback
	}

	switch spread := hi - lo; {
	case spread < p.TightBelow:
		return p.Tight
	case spread > p.WideAbove:
		return p.Wide
	default:
		return p.Fallback
	}
}
