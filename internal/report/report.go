// Package report assembles one cycle's comparison results into a summary and
// ranks gap records for presentation.
package report

import (
	"sort"
	"time"

	"github.com/thientran01/weather-bot/internal/models"
)

// Reason classifies why a section carries no comparison.
type Reason string

const (
	ReasonFetchFailed     Reason = "fetch_failed"
	ReasonNoForecast      Reason = "no_forecast"
	ReasonInvalidForecast Reason = "invalid_forecast"
	ReasonSchemaMismatch  Reason = "schema_mismatch"
	ReasonConfig          Reason = "config_error"
	ReasonNoSchema        Reason = "no_schema"
)

// Section is the outcome for one (city, metric, date). It carries either gap
// records or NoData with a reason.
type Section struct {
	Target   models.Target
	CityName string

	// Records are in bucket order as produced by the divergence calculator.
	Records []models.GapRecord

	NoData bool
	Reason Reason
	Detail string

	Expected *float64
	// Observed is the station's running extreme when the target is today.
	Observed *float64
	Spread   float64
	Models   int
	Dropped  int
}

// NoDataSection builds a section for a target that produced no comparison.
func NoDataSection(target models.Target, reason Reason, detail string) Section {
	return Section{Target: target, NoData: true, Reason: reason, Detail: detail}
}

// Outcome is "ok" for a compared section, otherwise its reason.
func (s *Section) Outcome() string {
	if s.NoData {
		return string(s.Reason)
	}
	return "ok"
}

// Quoted returns the number of records with a market probability.
func (s *Section) Quoted() int {
	n := 0
	for i := range s.Records {
		if s.Records[i].HasMarket() {
			n++
		}
	}
	return n
}

// Largest returns the record with the largest |gap|, or nil if no record has
// a gap.
func (s *Section) Largest() *models.GapRecord {
	var best *models.GapRecord
	bestGap := -1.0
	for i := range s.Records {
		if g, ok := s.Records[i].AbsGap(); ok && g > bestGap {
			best, bestGap = &s.Records[i], g
		}
	}
	return best
}

// Summary is the result of one cycle.
type Summary struct {
	CycleID  string
	At       time.Time
	Duration time.Duration
	Sections []Section
}

// Counts returns the number of compared and no-data sections.
func (s *Summary) Counts() (ok, noData int) {
	for i := range s.Sections {
		if s.Sections[i].NoData {
			noData++
		} else {
			ok++
		}
	}
	return ok, noData
}

// Records returns the number of gap records across all sections.
func (s *Summary) Records() int {
	n := 0
	for i := range s.Sections {
		n += len(s.Sections[i].Records)
	}
	return n
}

// Dropped returns the number of quotes the parser refused across sections.
func (s *Summary) Dropped() int {
	n := 0
	for i := range s.Sections {
		n += s.Sections[i].Dropped
	}
	return n
}

// Largest returns the record with the largest |gap| in the cycle, or nil.
func (s *Summary) Largest() *models.GapRecord {
	var best *models.GapRecord
	bestGap := -1.0
	for i := range s.Sections {
		r := s.Sections[i].Largest()
		if r == nil {
			continue
		}
		if g, _ := r.AbsGap(); g > bestGap {
			best, bestGap = r, g
		}
	}
	return best
}

// SortSections orders sections by city, then date, then metric (high first).
func (s *Summary) SortSections() {
	sort.SliceStable(s.Sections, func(i, j int) bool {
		a, b := s.Sections[i].Target, s.Sections[j].Target
		if a.City != b.City {
			return a.City < b.City
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return metricRank(a.Metric) < metricRank(b.Metric)
	})
}

func metricRank(m models.Metric) int {
	if m == models.MetricHigh {
		return 0
	}
	return 1
}

// Rank returns a copy of records ordered for presentation: records with a gap
// by |gap| descending, then records without a market by forecast probability
// descending. Ties fall back to bucket order.
func Rank(records []models.GapRecord) []models.GapRecord {
	out := make([]models.GapRecord, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		gi, oki := out[i].AbsGap()
		gj, okj := out[j].AbsGap()
		switch {
		case oki && okj:
			if gi != gj {
				return gi > gj
			}
		case oki != okj:
			return oki
		default:
			if out[i].ForecastProb != out[j].ForecastProb {
				return out[i].ForecastProb > out[j].ForecastProb
			}
		}
		return out[i].Bucket.Less(out[j].Bucket)
	})
	return out
}
