package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Kalshi    KalshiConfig    `mapstructure:"kalshi"`
	NWS       NWSConfig       `mapstructure:"nws"`
	OpenMeteo OpenMeteoConfig `mapstructure:"openmeteo"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
	Cities    []CityConfig    `mapstructure:"cities"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// HTTPConfig holds the transport settings shared by every upstream API
type HTTPConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst           int           `mapstructure:"burst"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// KalshiConfig holds Kalshi API configuration
type KalshiConfig struct {
	HTTPConfig `mapstructure:",squash"`
	APIKey     string  `mapstructure:"api_key"`
	PageSize   int     `mapstructure:"page_size"`
	PriceScale float64 `mapstructure:"price_scale"`
}

// NWSConfig holds National Weather Service API configuration
type NWSConfig struct {
	HTTPConfig   `mapstructure:",squash"`
	UserAgent    string `mapstructure:"user_agent"`
	Observations bool   `mapstructure:"observations"` // bound today's targets by station observations
}

// OpenMeteoConfig holds Open-Meteo multi-model configuration
type OpenMeteoConfig struct {
	HTTPConfig `mapstructure:",squash"`
	Enabled    bool     `mapstructure:"enabled"`
	Models     []string `mapstructure:"models"`
}

// ForecastConfig holds the spread rule applied to point forecasts
type ForecastConfig struct {
	Spread     float64 `mapstructure:"spread"` // fixed spread in °F, 0 = derive from model agreement
	Fallback   float64 `mapstructure:"fallback_spread"`
	Tight      float64 `mapstructure:"tight_spread"`
	Wide       float64 `mapstructure:"wide_spread"`
	TightBelow float64 `mapstructure:"tight_below"`
	WideAbove  float64 `mapstructure:"wide_above"`
}

// CycleConfig holds cycle scheduling configuration
type CycleConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
	DaysAhead   int           `mapstructure:"days_ahead"` // 1 = today and tomorrow
	Timezone    string        `mapstructure:"timezone"`
	NotifyEmpty bool          `mapstructure:"notify_empty"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig holds gap log persistence configuration
type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"` // 0 = keep forever
}

// ExportConfig holds the export HTTP server configuration
type ExportConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// WEATHER_BOT_TELEGRAM_BOT_TOKEN overrides telegram.bot_token, etc.
	v.SetEnvPrefix("WEATHER_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Cities) == 0 {
		cfg.Cities = DefaultCities()
	}

	return &cfg, nil
}

func setHTTPDefaults(v *viper.Viper, prefix, baseURL string, rps float64) {
	v.SetDefault(prefix+".base_url", baseURL)
	v.SetDefault(prefix+".timeout", "10s")
	v.SetDefault(prefix+".rate_limit", rps)
	v.SetDefault(prefix+".burst", 5)
	v.SetDefault(prefix+".max_retries", 3)
	v.SetDefault(prefix+".retry_backoff", "1s")
	v.SetDefault(prefix+".breaker_failures", 5)
	v.SetDefault(prefix+".breaker_timeout", "2m")
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	setHTTPDefaults(v, "kalshi", "https://api.elections.kalshi.com/trade-api/v2", 10)
	v.SetDefault("kalshi.api_key", "")
	v.SetDefault("kalshi.page_size", 1000)
	v.SetDefault("kalshi.price_scale", 100.0)

	setHTTPDefaults(v, "nws", "https://api.weather.gov", 5)
	v.SetDefault("nws.observations", true)
	v.SetDefault("nws.user_agent", "weather-bot/1.0 (github.com/thientran01/weather-bot)")

	setHTTPDefaults(v, "openmeteo", "https://api.open-meteo.com/v1", 5)
	v.SetDefault("openmeteo.enabled", true)
	v.SetDefault("openmeteo.models", []string{"ecmwf_ifs025", "gfs_seamless", "gem_seamless", "icon_seamless"})

	v.SetDefault("forecast.spread", 0.0)
	v.SetDefault("forecast.fallback_spread", 2.5)
	v.SetDefault("forecast.tight_spread", 2.0)
	v.SetDefault("forecast.wide_spread", 4.0)
	v.SetDefault("forecast.tight_below", 1.0)
	v.SetDefault("forecast.wide_above", 3.0)

	v.SetDefault("cycle.interval", "10m")
	v.SetDefault("cycle.timeout", "5m")
	v.SetDefault("cycle.concurrency", 4)
	v.SetDefault("cycle.days_ahead", 1)
	v.SetDefault("cycle.timezone", "America/New_York")
	v.SetDefault("cycle.notify_empty", false)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	v.SetDefault("storage.db_path", "./data/gaps.db")
	v.SetDefault("storage.retention", "720h")

	v.SetDefault("export.enabled", true)
	v.SetDefault("export.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid. Bucket lists are
// not checked here; a bad list disables only its city and metric at run time.
func (c *Config) Validate() error {
	upstreams := []struct {
		name string
		http HTTPConfig
	}{
		{"kalshi", c.Kalshi.HTTPConfig},
		{"nws", c.NWS.HTTPConfig},
		{"openmeteo", c.OpenMeteo.HTTPConfig},
	}
	for _, u := range upstreams {
		if err := u.http.validate(u.name); err != nil {
			return err
		}
	}
	if c.Kalshi.PageSize < 1 || c.Kalshi.PageSize > 1000 {
		return fmt.Errorf("kalshi.page_size must be between 1 and 1000")
	}
	if c.Kalshi.PriceScale <= 0 {
		return fmt.Errorf("kalshi.price_scale must be positive")
	}
	if c.NWS.UserAgent == "" {
		return fmt.Errorf("nws.user_agent is required")
	}

	// Validate Forecast config
	if c.Forecast.Spread < 0 {
		return fmt.Errorf("forecast.spread must not be negative")
	}
	if c.Forecast.Fallback <= 0 || c.Forecast.Tight <= 0 || c.Forecast.Wide <= 0 {
		return fmt.Errorf("forecast fallback, tight and wide spreads must be positive")
	}
	if c.Forecast.TightBelow < 0 || c.Forecast.WideAbove < c.Forecast.TightBelow {
		return fmt.Errorf("forecast.tight_below must be non-negative and not above forecast.wide_above")
	}

	// Validate Cycle config
	if c.Cycle.Interval < 1*time.Minute {
		return fmt.Errorf("cycle.interval must be at least 1 minute")
	}
	if c.Cycle.Timeout <= 0 || c.Cycle.Timeout > c.Cycle.Interval {
		return fmt.Errorf("cycle.timeout must be positive and not exceed cycle.interval")
	}
	if c.Cycle.Concurrency < 1 {
		return fmt.Errorf("cycle.concurrency must be at least 1")
	}
	if c.Cycle.DaysAhead < 0 || c.Cycle.DaysAhead > 6 {
		return fmt.Errorf("cycle.days_ahead must be between 0 and 6")
	}
	if _, err := time.LoadLocation(c.Cycle.Timezone); err != nil {
		return fmt.Errorf("cycle.timezone: %w", err)
	}

	// Validate Cities
	if len(c.Cities) == 0 {
		return fmt.Errorf("cities must contain at least one city")
	}
	seen := make(map[string]bool)
	for i, city := range c.Cities {
		if err := city.validate(); err != nil {
			return fmt.Errorf("cities[%d]: %w", i, err)
		}
		if seen[city.Key] {
			return fmt.Errorf("cities[%d]: duplicate key %q", i, city.Key)
		}
		seen[city.Key] = true
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}

	// Validate Export config
	if c.Export.Enabled && c.Export.Addr == "" {
		return fmt.Errorf("export.addr is required when export is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (h HTTPConfig) validate(name string) error {
	u, err := url.Parse(h.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s.base_url must be an absolute URL", name)
	}
	if h.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", name)
	}
	if h.RateLimit < 0 {
		return fmt.Errorf("%s.rate_limit must not be negative", name)
	}
	if h.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must not be negative", name)
	}
	return nil
}

// Location returns the configured cycle timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Cycle.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
