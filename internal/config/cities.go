package config

import (
	"fmt"
	"time"
	_ "time/tzdata" // city timezones must resolve in minimal containers

	"github.com/thientran01/weather-bot/internal/models"
)

// CityConfig describes one tracked city: where its forecast comes from and
// which Kalshi series settle on it.
type CityConfig struct {
	Key     string `mapstructure:"key"`
	Name    string `mapstructure:"name"`
	Station string `mapstructure:"station"`
	// HourlyStation marks a cooperative observer reporting whole °F.
	HourlyStation bool    `mapstructure:"hourly_station"`
	Latitude      float64 `mapstructure:"latitude"`
	Longitude     float64 `mapstructure:"longitude"`
	Timezone      string  `mapstructure:"timezone"`
	HighSeries    string  `mapstructure:"high_series"`
	LowSeries     string  `mapstructure:"low_series"`
	// Fixed bucket boundaries. Empty means derive them from the listed markets.
	HighBuckets []int `mapstructure:"high_buckets"`
	LowBuckets  []int `mapstructure:"low_buckets"`
}

// Series returns the Kalshi series ticker for the metric, or "" if the city
// has no market for it.
func (c CityConfig) Series(m models.Metric) string {
	if m == models.MetricLow {
		return c.LowSeries
	}
	return c.HighSeries
}

// Buckets returns the fixed boundaries configured for the metric.
func (c CityConfig) Buckets(m models.Metric) []int {
	if m == models.MetricLow {
		return c.LowBuckets
	}
	return c.HighBuckets
}

// Location returns the city's local timezone, falling back to fallback when
// none is set or it cannot be loaded.
func (c CityConfig) Location(fallback *time.Location) *time.Location {
	if c.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

func (c CityConfig) validate() error {
	if c.Key == "" {
		return fmt.Errorf("key is required")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%s: latitude %v out of range", c.Key, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%s: longitude %v out of range", c.Key, c.Longitude)
	}
	if c.HighSeries == "" && c.LowSeries == "" {
		return fmt.Errorf("%s: at least one of high_series or low_series is required", c.Key)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%s: timezone: %w", c.Key, err)
		}
	}
	return nil
}

// DefaultCities returns every city Kalshi lists daily temperature markets for.
func DefaultCities() []CityConfig {
	return []CityConfig{
		{Key: "NYC", Name: "New York City", Station: "KNYC", HourlyStation: true, Latitude: 40.7790, Longitude: -73.9692, Timezone: "America/New_York", HighSeries: "KXHIGHNY", LowSeries: "KXLOWTNYC"},
		{Key: "CHI", Name: "Chicago", Station: "KMDW", Latitude: 41.7841, Longitude: -87.7551, Timezone: "America/Chicago", HighSeries: "KXHIGHCHI", LowSeries: "KXLOWTCHI"},
		{Key: "LAX", Name: "Los Angeles", Station: "KLAX", Latitude: 33.9382, Longitude: -118.3870, Timezone: "America/Los_Angeles", HighSeries: "KXHIGHLAX", LowSeries: "KXLOWTLAX"},
		{Key: "MIA", Name: "Miami", Station: "KMIA", Latitude: 25.7881, Longitude: -80.3169, Timezone: "America/New_York", HighSeries: "KXHIGHMIA", LowSeries: "KXLOWTMIA"},
		{Key: "DEN", Name: "Denver", Station: "KDEN", Latitude: 39.8466, Longitude: -104.6560, Timezone: "America/Denver", HighSeries: "KXHIGHDEN", LowSeries: "KXLOWTDEN"},
		{Key: "PHX", Name: "Phoenix", Station: "KPHX", Latitude: 33.4373, Longitude: -112.0078, Timezone: "America/Phoenix", HighSeries: "KXHIGHTPHX"},
		{Key: "AUS", Name: "Austin", Station: "KAUS", Latitude: 30.2099, Longitude: -97.6806, Timezone: "America/Chicago", HighSeries: "KXHIGHAUS", LowSeries: "KXLOWTAUS"},
		{Key: "PHL", Name: "Philadelphia", Station: "KPHL", Latitude: 39.8721, Longitude: -75.2407, Timezone: "America/New_York", HighSeries: "KXHIGHPHIL", LowSeries: "KXLOWTPHIL"},
		{Key: "SFO", Name: "San Francisco", Station: "KSFO", Latitude: 37.6213, Longitude: -122.3790, Timezone: "America/Los_Angeles", HighSeries: "KXHIGHTSFO"},
		{Key: "SEA", Name: "Seattle", Station: "KSEA", Latitude: 47.4502, Longitude: -122.3088, Timezone: "America/Los_Angeles", HighSeries: "KXHIGHTSEA"},
		{Key: "DAL", Name: "Dallas", Station: "KDFW", Latitude: 32.8998, Longitude: -97.0403, Timezone: "America/Chicago", HighSeries: "KXHIGHTDAL"},
		{Key: "ATL", Name: "Atlanta", Station: "KATL", Latitude: 33.6304, Longitude: -84.4221, Timezone: "America/New_York", HighSeries: "KXHIGHTATL"},
		{Key: "LAS", Name: "Las Vegas", Station: "KLAS", Latitude: 36.0840, Longitude: -115.1537, Timezone: "America/Los_Angeles", HighSeries: "KXHIGHTLV"},
		{Key: "HOU", Name: "Houston", Station: "KHOU", Latitude: 29.6454, Longitude: -95.2789, Timezone: "America/Chicago", HighSeries: "KXHIGHTHOU"},
		{Key: "DCA", Name: "Washington DC", Station: "KDCA", Latitude: 38.8512, Longitude: -77.0402, Timezone: "America/New_York", HighSeries: "KXHIGHTDC"},
		{Key: "BOS", Name: "Boston", Station: "KBOS", Latitude: 42.3656, Longitude: -71.0096, Timezone: "America/New_York", HighSeries: "KXHIGHTBOS"},
		{Key: "MSY", Name: "New Orleans", Station: "KMSY", Latitude: 29.9934, Longitude: -90.2580, Timezone: "America/Chicago", HighSeries: "KXHIGHTNOLA"},
		{Key: "MSP", Name: "Minneapolis", Station: "KMSP", Latitude: 44.8848, Longitude: -93.2223, Timezone: "America/Chicago", HighSeries: "KXHIGHTMIN"},
		{Key: "SAT", Name: "San Antonio", Station: "KSAT", Latitude: 29.5337, Longitude: -98.4698, Timezone: "America/Chicago", HighSeries: "KXHIGHTSATX"},
		{Key: "OKC", Name: "Oklahoma City", Station: "KOKC", Latitude: 35.3931, Longitude: -97.6007, Timezone: "America/Chicago", HighSeries: "KXHIGHTOKC"},
	}
}
