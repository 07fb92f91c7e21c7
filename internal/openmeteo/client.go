// Package openmeteo reads daily temperature extremes from several numerical
// weather models via the Open-Meteo forecast API. The results feed the
// forecast spread, never the expected value.
package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/thientran01/weather-bot/internal/fetch"
	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/models"
)

// DefaultBaseURL is the public Open-Meteo API.
const DefaultBaseURL = "https://api.open-meteo.com/v1"

// DefaultModels are ECMWF IFS 0.25°, GFS, GEM and ICON.
var DefaultModels = []string{"ecmwf_ifs025", "gfs_seamless", "gem_seamless", "icon_seamless"}

// ModelForecast is one model's daily extremes keyed by local date.
type ModelForecast struct {
	Model string
	Days  map[string]models.DailyExtremes
}

type dailyResponse struct {
	Daily struct {
		Time []string   `json:"time"`
		Max  []*float64 `json:"temperature_2m_max"`
		Min  []*float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Client provides access to Open-Meteo.
type Client struct {
	api    *fetch.Client
	models []string
	days   int
}

// NewClient creates a client querying the given models. An empty list uses
// DefaultModels.
func NewClient(api *fetch.Client, modelNames []string, forecastDays int) *Client {
	if len(modelNames) == 0 {
		modelNames = DefaultModels
	}
	if forecastDays <= 0 {
		forecastDays = 2
	}
	return &Client{api: api, models: modelNames, days: forecastDays}
}

// Models returns the configured model names.
func (c *Client) Models() []string {
	return c.models
}

// Forecasts fetches every configured model for a location. A failing model is
// logged and omitted; an error is returned only when every model failed.
func (c *Client) Forecasts(ctx context.Context, key string, lat, lon float64) ([]ModelForecast, error) {
	var out []ModelForecast
	var errs []error
	for _, m := range c.models {
		mf, err := c.fetchModel(ctx, m, lat, lon)
		if err != nil {
			logger.With(key).Warn("Open-Meteo (%s) failed: %v", m, err)
			errs = append(errs, err)
			continue
		}
		out = append(out, mf)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("open-meteo: all models failed: %w", errors.Join(errs...))
	}
	return out, nil
}

func (c *Client) fetchModel(ctx context.Context, model string, lat, lon float64) (ModelForecast, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	query.Set("daily", "temperature_2m_max,temperature_2m_min")
	query.Set("temperature_unit", "fahrenheit")
	query.Set("timezone", "auto")
	query.Set("forecast_days", strconv.Itoa(c.days))
	query.Set("models", model)

	var resp dailyResponse
	if err := c.api.GetJSON(ctx, "/forecast", query, &resp); err != nil {
		return ModelForecast{}, err
	}

	mf := ModelForecast{Model: model, Days: make(map[string]models.DailyExtremes)}
	for i, day := range resp.Daily.Time {
		var d models.DailyExtremes
		if i < len(resp.Daily.Max) {
			d.High = resp.Daily.Max[i]
		}
		if i < len(resp.Daily.Min) {
			d.Low = resp.Daily.Min[i]
		}
		mf.Days[day] = d
	}
	return mf, nil
}

// Values collects the non-nil values of a metric on a date across models.
func Values(forecasts []ModelForecast, date string, m models.Metric) []float64 {
	var out []float64
	for _, f := range forecasts {
		if v := f.Days[date].Get(m); v != nil {
			out = append(out, *v)
		}
	}
	return out
}
