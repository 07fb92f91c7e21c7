// Package monitor runs the comparison cycle: for every configured city it
// fetches markets and forecasts, builds both distributions and records the
// per-bucket gaps.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thientran01/weather-bot/internal/bucket"
	"github.com/thientran01/weather-bot/internal/config"
	"github.com/thientran01/weather-bot/internal/divergence"
	"github.com/thientran01/weather-bot/internal/forecast"
	"github.com/thientran01/weather-bot/internal/kalshi"
	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/market"
	"github.com/thientran01/weather-bot/internal/models"
	"github.com/thientran01/weather-bot/internal/nws"
	"github.com/thientran01/weather-bot/internal/openmeteo"
	"github.com/thientran01/weather-bot/internal/report"
)

// ErrNothingFetched is returned alongside the summary when every section of
// a cycle failed to fetch its inputs.
var ErrNothingFetched = errors.New("no upstream data could be fetched")

// MarketSource lists the open events of a Kalshi series.
type MarketSource interface {
	FetchSeries(ctx context.Context, series string) ([]kalshi.Event, error)
}

// ForecastSource returns the official point forecast for a location.
type ForecastSource interface {
	Forecast(ctx context.Context, loc nws.Location) (*nws.Forecast, error)
}

// ModelSource returns per-model forecasts used to size the spread.
type ModelSource interface {
	Forecasts(ctx context.Context, key string, lat, lon float64) ([]openmeteo.ModelForecast, error)
}

// ObservationSource returns a station's running extremes since a time.
type ObservationSource interface {
	Observations(ctx context.Context, station nws.Station, since time.Time) (*nws.Observations, error)
}

type Config struct {
	Cities      []config.CityConfig
	Location    *time.Location
	DaysAhead   int
	Concurrency int
	Spread      float64 // fixed spread, 0 = resolve from models
	Policy      forecast.SpreadPolicy
	PriceScale  float64
}

func DefaultConfig() Config {
	return Config{
		Cities:      config.DefaultCities(),
		Location:    time.UTC,
		DaysAhead:   1,
		Concurrency: 4,
		Policy:      forecast.DefaultSpreadPolicy(),
		PriceScale:  market.DefaultPriceScale,
	}
}

type Monitor struct {
	markets   MarketSource
	forecasts ForecastSource
	models    ModelSource
	observed  ObservationSource
	parser    market.Parser
	config    Config

	mu   sync.RWMutex
	last *report.Summary
}

// New creates a monitor. models may be nil, in which case every spread is the
// configured fixed spread or the policy fallback.
func New(markets MarketSource, forecasts ForecastSource, models ModelSource, config Config) *Monitor {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.DaysAhead < 0 {
		config.DaysAhead = 0
	}
	return &Monitor{
		markets:   markets,
		forecasts: forecasts,
		models:    models,
		parser:    market.NewParser(config.PriceScale),
		config:    config,
	}
}

// WithObservations bounds today's expected high and low by what the city's
// station has already observed. Cities without a station are unaffected.
func (m *Monitor) WithObservations(src ObservationSource) *Monitor {
	m.observed = src
	return m
}

// LastSummary returns the most recent completed cycle, or nil.
func (m *Monitor) LastSummary() *report.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// RunCycle compares every configured city, metric and target date. A failure
// in one city becomes a no-data section and never aborts the others.
//
// Only cancellation of ctx aborts the cycle, returning a nil summary. When
// ctx hits its deadline, cities still fetching finish as fetch_failed
// sections and the summary is returned together with the deadline error.
// ErrNothingFetched is likewise returned alongside the summary.
func (m *Monitor) RunCycle(ctx context.Context, now time.Time) (*report.Summary, error) {
	start := time.Now()
	id := uuid.New().String()

	perCity := make([][]report.Section, len(m.config.Cities))
	var g errgroup.Group
	g.SetLimit(m.config.Concurrency)
	for i, city := range m.config.Cities {
		g.Go(func() error {
			perCity[i] = m.runCity(ctx, city, now)
			return nil
		})
	}
	_ = g.Wait()

	ctxErr := ctx.Err()
	if errors.Is(ctxErr, context.Canceled) {
		return nil, fmt.Errorf("cycle %s: %w", id, ctxErr)
	}

	sum := &report.Summary{CycleID: id, At: now}
	for _, secs := range perCity {
		sum.Sections = append(sum.Sections, secs...)
	}
	sum.SortSections()
	sum.Duration = time.Since(start)

	ok, noData := sum.Counts()
	logger.Info("Cycle %s: %d sections compared, %d without data, %d records, %d dropped quotes in %s",
		id[:8], ok, noData, sum.Records(), sum.Dropped(), sum.Duration.Round(time.Millisecond))

	m.mu.Lock()
	m.last = sum
	m.mu.Unlock()

	if ctxErr != nil {
		return sum, fmt.Errorf("cycle %s: %w", id, ctxErr)
	}
	if noData > 0 && ok == 0 && allFetchFailed(sum.Sections) {
		return sum, ErrNothingFetched
	}
	return sum, nil
}

func allFetchFailed(sections []report.Section) bool {
	for i := range sections {
		if sections[i].Reason != report.ReasonFetchFailed {
			return false
		}
	}
	return true
}

// targetDates returns today and the following DaysAhead dates in loc, as UTC
// midnights to match Kalshi event dates.
func (m *Monitor) targetDates(now time.Time, loc *time.Location) []time.Time {
	local := now.In(loc)
	dates := make([]time.Time, 0, m.config.DaysAhead+1)
	for i := 0; i <= m.config.DaysAhead; i++ {
		dates = append(dates, time.Date(local.Year(), local.Month(), local.Day()+i, 0, 0, 0, 0, time.UTC))
	}
	return dates
}

// cityInputs is everything fetched for one city in a cycle.
type cityInputs struct {
	at          time.Time
	forecast    *nws.Forecast
	forecastErr error
	models      []openmeteo.ModelForecast

	// observed covers the standard-time day observedDate.
	observed     *nws.Observations
	observedDate time.Time
}

func (m *Monitor) runCity(ctx context.Context, city config.CityConfig, now time.Time) []report.Section {
	log := logger.With(city.Key)
	dates := m.targetDates(now, city.Location(m.config.Location))

	in := cityInputs{at: now}
	in.forecast, in.forecastErr = m.forecasts.Forecast(ctx, nws.Location{
		Key:       city.Key,
		Latitude:  city.Latitude,
		Longitude: city.Longitude,
	})
	if in.forecastErr != nil {
		log.Warn("NWS forecast failed: %v", in.forecastErr)
	}
	if m.models != nil && m.config.Spread <= 0 {
		mf, err := m.models.Forecasts(ctx, city.Key, city.Latitude, city.Longitude)
		if err != nil {
			log.Warn("Model forecasts unavailable, using fallback spread: %v", err)
		}
		in.models = mf
	}

	if m.observed != nil && city.Station != "" {
		since := nws.LSTMidnight(now, city.Location(m.config.Location))
		obs, err := m.observed.Observations(ctx, nws.Station{ID: city.Station, Hourly: city.HourlyStation}, since)
		if err != nil {
			log.Warn("Observations from %s unavailable: %v", city.Station, err)
		} else {
			in.observed = obs
			in.observedDate = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
		}
	}

	var sections []report.Section
	for _, metric := range models.Metrics {
		series := city.Series(metric)
		if series == "" {
			continue
		}
		sections = append(sections, m.runMetric(ctx, city, metric, series, dates, &in)...)
	}
	return sections
}

func (m *Monitor) runMetric(ctx context.Context, city config.CityConfig, metric models.Metric, series string, dates []time.Time, in *cityInputs) []report.Section {
	log := logger.With(city.Key)
	sections := make([]report.Section, 0, len(dates))
	noData := func(target models.Target, reason report.Reason, err error) {
		log.Warn("%s: no data (%s): %v", target, reason, err)
		sec := report.NoDataSection(target, reason, err.Error())
		sec.CityName = city.Name
		sections = append(sections, sec)
	}

	var fixed bucket.Schema
	if boundaries := city.Buckets(metric); len(boundaries) > 0 {
		s, err := bucket.NewSchema(boundaries)
		if err != nil {
			for _, d := range dates {
				noData(models.Target{City: city.Key, Metric: metric, Date: d}, report.ReasonConfig, err)
			}
			return sections
		}
		fixed = s
	}

	events, marketErr := m.markets.FetchSeries(ctx, series)
	if marketErr != nil {
		log.Warn("Kalshi %s failed: %v", series, marketErr)
	}
	byDate := make(map[string]kalshi.Event, len(events))
	for _, ev := range events {
		byDate[ev.Date.Format(models.DateLayout)] = ev
	}

	for _, date := range dates {
		target := models.Target{City: city.Key, Metric: metric, Date: date}
		ev := byDate[target.DateString()]

		schema := fixed
		if schema.Empty() {
			boundaries := market.Boundaries(ev.Quotes)
			if len(boundaries) == 0 {
				if marketErr != nil {
					noData(target, report.ReasonFetchFailed, marketErr)
				} else {
					noData(target, report.ReasonNoSchema, fmt.Errorf("no fixed buckets and no listed markets"))
				}
				continue
			}
			s, err := bucket.NewSchema(boundaries)
			if err != nil {
				noData(target, report.ReasonNoSchema, err)
				continue
			}
			schema = s
		}

		sec, err := m.compare(target, schema, ev, in)
		if err != nil {
			noData(target, reasonFor(err), err)
			continue
		}
		sec.CityName = city.Name
		log.Debug("%s: %d buckets, %d quoted, %d dropped", target, len(sec.Records), sec.Quoted(), sec.Dropped)
		sections = append(sections, sec)
	}
	return sections
}

// compare builds both distributions for one target and aligns them.
func (m *Monitor) compare(target models.Target, schema bucket.Schema, ev kalshi.Event, in *cityInputs) (report.Section, error) {
	if in.forecastErr != nil {
		return report.Section{}, in.forecastErr
	}
	predicted := in.forecast.Value(target.Date, target.Metric)
	observed := in.observedOn(target)
	expected := boundByObservation(target.Metric, predicted, observed)
	if expected == nil {
		return report.Section{}, errNoForecast
	}

	var explicit *float64
	if m.config.Spread > 0 {
		explicit = &m.config.Spread
	}
	temps := openmeteo.Values(in.models, target.DateString(), target.Metric)
	samples := temps
	if predicted != nil {
		samples = append([]float64{*predicted}, temps...)
	}
	spread := m.config.Policy.Resolve(explicit, samples)

	fd, err := forecast.Build(schema, forecast.Input{Expected: expected, Spread: spread})
	if err != nil {
		return report.Section{}, err
	}

	md := m.parser.Parse(schema, ev.Quotes)
	for _, d := range md.Dropped {
		logger.With(target.City).Debug("%s: dropped quote %s: %s", target, d.Quote.Ticker, d.Reason)
	}

	records, err := divergence.Compare(target, md, fd, in.at)
	if err != nil {
		return report.Section{}, err
	}
	return report.Section{
		Target:   target,
		Records:  records,
		Expected: expected,
		Spread:   spread,
		Observed: observed,
		Models:   len(temps),
		Dropped:  len(md.Dropped) + ev.Skipped,
	}, nil
}

var errNoForecast = errors.New("forecast has no value for this date")

// observedOn returns the running extreme for target when the observations
// cover its day.
func (in *cityInputs) observedOn(target models.Target) *float64 {
	if in.observed == nil || !in.observedDate.Equal(target.Date) {
		return nil
	}
	return in.observed.Get(target.Metric)
}

// boundByObservation returns the expected value for a day already in
// progress: the high can be no lower than the running maximum and the low no
// higher than the running minimum. Either input may be nil.
func boundByObservation(metric models.Metric, predicted, observed *float64) *float64 {
	if observed == nil {
		return predicted
	}
	if predicted == nil {
		return observed
	}
	v := *predicted
	if metric == models.MetricLow {
		v = math.Min(v, *observed)
	} else {
		v = math.Max(v, *observed)
	}
	return &v
}

// reasonFor classifies a per-target failure.
func reasonFor(err error) report.Reason {
	var invalid *forecast.InvalidForecastError
	var mismatch *divergence.SchemaMismatchError
	var cfgErr *bucket.ConfigError
	switch {
	case errors.Is(err, errNoForecast):
		return report.ReasonNoForecast
	case errors.As(err, &invalid):
		return report.ReasonInvalidForecast
	case errors.As(err, &mismatch):
		return report.ReasonSchemaMismatch
	case errors.As(err, &cfgErr):
		return report.ReasonConfig
	default:
		return report.ReasonFetchFailed
	}
}
