// Package models defines the core domain entities: comparison targets and
// per-bucket gap records.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/thientran01/weather-bot/internal/bucket"
)

// DateLayout is the calendar-date format used for market dates in logs,
// storage and reports.
const DateLayout = "2006-01-02"

// Metric is the daily temperature statistic a market settles on.
type Metric string

const (
	MetricHigh Metric = "high"
	MetricLow  Metric = "low"
)

// Metrics lists the supported metrics in report order.
var Metrics = []Metric{MetricHigh, MetricLow}

// ParseMetric accepts "high" or "low" in any case.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricHigh, MetricLow:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Target identifies one comparison: a city, a metric and a market date.
type Target struct {
	City   string    `json:"city"`
	Metric Metric    `json:"metric"`
	Date   time.Time `json:"date"`
}

// DateString renders the market date as YYYY-MM-DD.
func (t Target) DateString() string {
	return t.Date.Format(DateLayout)
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s %s", t.City, t.Metric, t.DateString())
}

// GapRecord is the comparison result for one bucket. MarketProb and Gap are
// nil when the market did not quote the bucket; a nil gap is not a zero gap.
type GapRecord struct {
	City         string        `json:"city"`
	Metric       Metric        `json:"metric"`
	MarketDate   time.Time     `json:"market_date"`
	Bucket       bucket.Bucket `json:"bucket"`
	MarketProb   *float64      `json:"market_prob,omitempty"`
	ForecastProb float64       `json:"forecast_prob"`
	Gap          *float64      `json:"gap,omitempty"`
	Liquid       bool          `json:"liquid"`
	Timestamp    time.Time     `json:"timestamp"`
}

// HasMarket reports whether the record carries a market probability.
func (r *GapRecord) HasMarket() bool {
	return r.MarketProb != nil
}

// AbsGap returns |gap| and whether a gap exists.
func (r *GapRecord) AbsGap() (float64, bool) {
	if r.Gap == nil {
		return 0, false
	}
	return math.Abs(*r.Gap), true
}

// Validate checks gap record field constraints.
func (r *GapRecord) Validate() error {
	if r.City == "" {
		return errors.New("city must not be empty")
	}
	if r.Metric != MetricHigh && r.Metric != MetricLow {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	if r.ForecastProb < 0.0 || r.ForecastProb > 1.0 || math.IsNaN(r.ForecastProb) {
		return errors.New("forecast probability must be between 0.0 and 1.0")
	}
	if r.MarketProb != nil && (*r.MarketProb < 0.0 || *r.MarketProb > 1.0 || math.IsNaN(*r.MarketProb)) {
		return errors.New("market probability must be between 0.0 and 1.0")
	}
	if (r.MarketProb == nil) != (r.Gap == nil) {
		return errors.New("gap must be present exactly when market probability is present")
	}
	if r.Gap != nil && math.Abs(*r.Gap-(r.ForecastProb-*r.MarketProb)) > 1e-12 {
		return errors.New("gap must equal forecast probability minus market probability")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	return nil
}

// DailyExtremes is one day's forecast high and low in °F. Either side is nil
// when the source has no value for it.
type DailyExtremes struct {
	High *float64 `json:"high,omitempty"`
	Low  *float64 `json:"low,omitempty"`
}

// Get returns the value for the given metric.
func (d DailyExtremes) Get(m Metric) *float64 {
	if m == MetricLow {
		return d.Low
	}
	return d.High
}
