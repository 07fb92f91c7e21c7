// Package divergence aligns a market distribution with a forecast
// distribution over the same bucket schema and produces per-bucket gaps.
package divergence

import (
	"fmt"
	"time"

	"github.com/thientran01/weather-bot/internal/bucket"
	"github.com/thientran01/weather-bot/internal/forecast"
	"github.com/thientran01/weather-bot/internal/market"
	"github.com/thientran01/weather-bot/internal/models"
)

// SchemaMismatchError reports market and forecast distributions built over
// different bucket schemas.
type SchemaMismatchError struct {
	Target   models.Target
	Market   bucket.Schema
	Forecast bucket.Schema
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: market buckets %v do not match forecast buckets %v",
		e.Target, e.Market.Boundaries(), e.Forecast.Boundaries())
}

// Compare produces one GapRecord per bucket, ordered by bucket low with the
// lower tail first. Every record is stamped with at.
//
// An empty forecast yields no records and no error. A market distribution
// with no buckets at all is treated as fully absent. Otherwise the two
// schemas must be compatible.
func Compare(target models.Target, mkt market.Distribution, fc forecast.Distribution, at time.Time) ([]models.GapRecord, error) {
	if fc.Empty() {
		return nil, nil
	}
	schema := fc.Schema()
	if mkt.Len() == 0 {
		mkt = market.Empty(schema)
	}
	if !mkt.Schema().Compatible(schema) {
		return nil, &SchemaMismatchError{Target: target, Market: mkt.Schema(), Forecast: schema}
	}

	// Schema order is bucket low ascending, lower tail first.
	records := make([]models.GapRecord, 0, schema.Len())
	for i := 0; i < schema.Len(); i++ {
		r := models.GapRecord{
			City:         target.City,
			Metric:       target.Metric,
			MarketDate:   target.Date,
			Bucket:       schema.At(i),
			ForecastProb: fc.Prob(i),
			Timestamp:    at,
		}
		if p, ok := mkt.Prob(i); ok {
			gap := r.ForecastProb - p
			r.MarketProb = &p
			r.Gap = &gap
			r.Liquid = mkt.Liquid(i)
		}
		records = append(records, r)
	}

	return records, nil
}
