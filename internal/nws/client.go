// Package nws reads point forecasts from the National Weather Service API.
package nws

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thientran01/weather-bot/internal/fetch"
	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/models"
)

// DefaultBaseURL is the public NWS API.
const DefaultBaseURL = "https://api.weather.gov"

// Location is a forecast point. Key is used for caching and logs.
type Location struct {
	Key       string
	Latitude  float64
	Longitude float64
}

// Grid is the NWS forecast office grid cell covering a location.
type Grid struct {
	Office      string
	X           int
	Y           int
	ForecastURL string
}

// Forecast holds the daily extremes keyed by local date (YYYY-MM-DD).
type Forecast struct {
	Days      map[string]models.DailyExtremes
	UpdatedAt time.Time
}

// Value returns the forecast for the metric on the given date, or nil.
func (f *Forecast) Value(date time.Time, m models.Metric) *float64 {
	if f == nil {
		return nil
	}
	return f.Days[date.Format(models.DateLayout)].Get(m)
}

type pointsResponse struct {
	Properties struct {
		GridID   string `json:"gridId"`
		GridX    int    `json:"gridX"`
		GridY    int    `json:"gridY"`
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		UpdateTime string   `json:"updateTime"`
		Periods    []period `json:"periods"`
	} `json:"properties"`
}

type period struct {
	Name            string   `json:"name"`
	StartTime       string   `json:"startTime"`
	IsDaytime       bool     `json:"isDaytime"`
	Temperature     *float64 `json:"temperature"`
	TemperatureUnit string   `json:"temperatureUnit"`
}

// Client provides access to NWS forecasts. Grid lookups are cached for the
// life of the client.
type Client struct {
	api *fetch.Client

	mu    sync.Mutex
	grids map[string]Grid
}

// NewClient creates an NWS client on top of a configured fetch client.
func NewClient(api *fetch.Client) *Client {
	return &Client{
		api:   api,
		grids: make(map[string]Grid),
	}
}

// Grid resolves the forecast grid for a location, calling /points only on
// the first request for each key.
func (c *Client) Grid(ctx context.Context, loc Location) (Grid, error) {
	c.mu.Lock()
	g, ok := c.grids[loc.Key]
	c.mu.Unlock()
	if ok {
		return g, nil
	}

	var resp pointsResponse
	path := fmt.Sprintf("/points/%.4f,%.4f", loc.Latitude, loc.Longitude)
	if err := c.api.GetJSON(ctx, path, nil, &resp); err != nil {
		return Grid{}, fmt.Errorf("points lookup for %s: %w", loc.Key, err)
	}
	if resp.Properties.Forecast == "" {
		return Grid{}, fmt.Errorf("points lookup for %s: response has no forecast URL", loc.Key)
	}

	g = Grid{
		Office:      resp.Properties.GridID,
		X:           resp.Properties.GridX,
		Y:           resp.Properties.GridY,
		ForecastURL: resp.Properties.Forecast,
	}
	logger.With(loc.Key).Info("NWS grid resolved: %s %d,%d", g.Office, g.X, g.Y)

	c.mu.Lock()
	c.grids[loc.Key] = g
	c.mu.Unlock()
	return g, nil
}

// Forecast fetches the period forecast for a location. Daytime periods give
// the high and overnight periods the low of the date the period starts on.
func (c *Client) Forecast(ctx context.Context, loc Location) (*Forecast, error) {
	g, err := c.Grid(ctx, loc)
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	if err := c.api.GetJSON(ctx, g.ForecastURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", loc.Key, err)
	}

	f := &Forecast{Days: make(map[string]models.DailyExtremes)}
	if t, err := time.Parse(time.RFC3339, resp.Properties.UpdateTime); err == nil {
		f.UpdatedAt = t
	}

	for _, p := range resp.Properties.Periods {
		if p.Temperature == nil {
			continue
		}
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil {
			logger.With(loc.Key).Warn("skipping NWS period %q: %v", p.Name, err)
			continue
		}
		temp := *p.Temperature
		if p.TemperatureUnit == "C" {
			temp = math.Round(CelsiusToFahrenheit(temp))
		}

		// startTime carries the station's offset, so its calendar date is local.
		key := start.Format(models.DateLayout)
		day := f.Days[key]
		if p.IsDaytime {
			day.High = &temp
		} else {
			day.Low = &temp
		}
		f.Days[key] = day
	}

	return f, nil
}

// Station is an observing station. Hourly marks a cooperative observer that
// records whole °F; every other station is treated as 5-minute ASOS.
type Station struct {
	ID     string
	Hourly bool
}

// Observations are a station's running extremes in °F since a start time.
// High and Low are nil when no reading carried a temperature.
type Observations struct {
	Station string
	Since   time.Time
	High    *float64
	Low     *float64
	Count   int
}

// Get returns the running extreme for the metric.
func (o *Observations) Get(m models.Metric) *float64 {
	if o == nil {
		return nil
	}
	return models.DailyExtremes{High: o.High, Low: o.Low}.Get(m)
}

type observationsResponse struct {
	Features []struct {
		Properties struct {
			Temperature               quantity `json:"temperature"`
			MaxTemperatureLast24Hours quantity `json:"maxTemperatureLast24Hours"`
		} `json:"properties"`
	} `json:"features"`
}

type quantity struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

// fahrenheit converts a reading the way the station reports it officially:
// ASOS values are floored, cooperative whole-degree values are rounded.
func (q quantity) fahrenheit(hourly bool) (float64, bool) {
	if q.Value == nil || math.IsNaN(*q.Value) {
		return 0, false
	}
	f := *q.Value
	if !strings.Contains(q.UnitCode, "degF") {
		f = CelsiusToFahrenheit(f)
	}
	if hourly {
		return math.Round(f), true
	}
	return math.Floor(f), true
}

// observationLimit caps the readings requested for one day.
const observationLimit = 500

// Observations fetches a station's readings since the given time and reduces
// them to the running high and low. The 24-hour maximum a station reports in
// its daily summary raises the running high when it is larger.
func (c *Client) Observations(ctx context.Context, st Station, since time.Time) (*Observations, error) {
	query := url.Values{}
	query.Set("start", since.UTC().Format("2006-01-02T15:04:05Z"))
	query.Set("limit", strconv.Itoa(observationLimit))

	var resp observationsResponse
	path := "/stations/" + url.PathEscape(st.ID) + "/observations"
	if err := c.api.GetJSON(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("observations for %s: %w", st.ID, err)
	}

	obs := &Observations{Station: st.ID, Since: since}
	var high, low, dsm float64
	hasDSM := false
	for _, f := range resp.Features {
		if v, ok := f.Properties.MaxTemperatureLast24Hours.fahrenheit(false); ok && (!hasDSM || v > dsm) {
			dsm, hasDSM = v, true
		}
		v, ok := f.Properties.Temperature.fahrenheit(st.Hourly)
		if !ok {
			continue
		}
		if obs.Count == 0 || v > high {
			high = v
		}
		if obs.Count == 0 || v < low {
			low = v
		}
		obs.Count++
	}

	if obs.Count > 0 {
		obs.High, obs.Low = &high, &low
	}
	if hasDSM && (obs.High == nil || dsm > *obs.High) {
		obs.High = &dsm
	}
	return obs, nil
}

// LSTMidnight returns the start of the current local-standard-time day in
// loc. Daily climate values are settled on standard time all year, so during
// daylight saving the day starts an hour after civil midnight.
func LSTMidnight(now time.Time, loc *time.Location) time.Time {
	year := now.In(loc).Year()
	_, jan := time.Date(year, time.January, 1, 0, 0, 0, 0, loc).Zone()
	_, jul := time.Date(year, time.July, 1, 0, 0, 0, 0, loc).Zone()
	std := min(jan, jul)

	lst := now.In(time.FixedZone("LST", std))
	return time.Date(lst.Year(), lst.Month(), lst.Day(), 0, 0, 0, 0, lst.Location())
}

// CelsiusToFahrenheit converts a temperature.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
