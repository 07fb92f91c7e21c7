package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thientran01/weather-bot/internal/config"
	"github.com/thientran01/weather-bot/internal/export"
	"github.com/thientran01/weather-bot/internal/fetch"
	"github.com/thientran01/weather-bot/internal/forecast"
	"github.com/thientran01/weather-bot/internal/kalshi"
	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/metrics"
	"github.com/thientran01/weather-bot/internal/monitor"
	"github.com/thientran01/weather-bot/internal/nws"
	"github.com/thientran01/weather-bot/internal/openmeteo"
	"github.com/thientran01/weather-bot/internal/storage"
	"github.com/thientran01/weather-bot/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	once       = flag.Bool("once", false, "Run a single cycle and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s (%d cities)", *configPath, len(cfg.Cities))

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	kalshiClient := kalshi.NewClient(newFetchClient("kalshi", cfg.Kalshi.HTTPConfig,
		fetch.WithAPIKey(cfg.Kalshi.APIKey)), cfg.Kalshi.PageSize)
	nwsClient := nws.NewClient(newFetchClient("nws", cfg.NWS.HTTPConfig,
		fetch.WithUserAgent(cfg.NWS.UserAgent), fetch.WithAccept("application/geo+json")))

	var modelSource monitor.ModelSource
	if cfg.OpenMeteo.Enabled {
		modelSource = openmeteo.NewClient(newFetchClient("openmeteo", cfg.OpenMeteo.HTTPConfig),
			cfg.OpenMeteo.Models, cfg.Cycle.DaysAhead+2)
	}

	mon := monitor.New(kalshiClient, nwsClient, modelSource, monitor.Config{
		Cities:      cfg.Cities,
		Location:    cfg.Location(),
		DaysAhead:   cfg.Cycle.DaysAhead,
		Concurrency: cfg.Cycle.Concurrency,
		Spread:      cfg.Forecast.Spread,
		Policy: forecast.SpreadPolicy{
			Fallback:   cfg.Forecast.Fallback,
			Tight:      cfg.Forecast.Tight,
			Wide:       cfg.Forecast.Wide,
			TightBelow: cfg.Forecast.TightBelow,
			WideAbove:  cfg.Forecast.WideAbove,
		},
		PriceScale: cfg.Kalshi.PriceScale,
	})
	if cfg.NWS.Observations {
		mon.WithObservations(nwsClient)
	}

	reg := metrics.New()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		if err := runCycle(ctx, mon, store, telegramClient, reg, cfg); err != nil {
			logger.Error("Cycle failed: %v", err)
			os.Exit(1)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, mon)
	}

	if cfg.Export.Enabled {
		srv := export.NewServer(cfg.Export.Addr, store, reg.Handler(), cfg.Export.AllowedOrigins)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Export server failed: %v", err)
			}
		}()
		defer srv.Stop()
	}

	logger.Info("Starting weather bot (interval: %v, days ahead: %d, concurrency: %d)",
		cfg.Cycle.Interval, cfg.Cycle.DaysAhead, cfg.Cycle.Concurrency)

	ticker := time.NewTicker(cfg.Cycle.Interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			consecutiveFailures++
			logger.Error("Cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial cycle")
	handleCycleResult(runCycle(ctx, mon, store, telegramClient, reg, cfg))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled cycle")
			handleCycleResult(runCycle(ctx, mon, store, telegramClient, reg, cfg))
			if cfg.Storage.Retention > 0 {
				if n, err := store.Rotate(cfg.Storage.Retention, time.Now()); err != nil {
					logger.Warn("Failed to rotate gap log: %v", err)
				} else if n > 0 {
					logger.Debug("Rotated %d gap log rows", n)
				}
			}
		}
	}
}

func newFetchClient(name string, h config.HTTPConfig, extra ...fetch.ClientOption) *fetch.Client {
	opts := []fetch.ClientOption{
		fetch.WithTimeout(h.Timeout),
		fetch.WithRetries(h.MaxRetries, h.RetryBackoff),
		fetch.WithRateLimit(h.RateLimit, h.Burst),
		fetch.WithBreaker(h.BreakerFailures, h.BreakerTimeout),
	}
	return fetch.NewClient(name, h.BaseURL, append(opts, extra...)...)
}

// runCycle runs one comparison cycle and hands the summary to the gap log,
// metrics and Telegram. A summary is persisted even when the cycle reports
// that nothing could be fetched.
func runCycle(
	ctx context.Context,
	mon *monitor.Monitor,
	store *storage.Storage,
	telegramClient *telegram.Client,
	reg *metrics.Registry,
	cfg *config.Config,
) error {
	cycleCtx, cancel := context.WithTimeout(ctx, cfg.Cycle.Timeout)
	defer cancel()

	logger.Info("Starting cycle")
	sum, err := mon.RunCycle(cycleCtx, time.Now())
	if sum == nil {
		reg.RecordFailure(err)
		return err
	}
	reg.RecordCycle(sum)

	if storeErr := store.AppendSummary(sum); storeErr != nil {
		logger.Error("Failed to append cycle %s to gap log: %v", sum.CycleID, storeErr)
	}

	ok, _ := sum.Counts()
	if telegramClient != nil && (ok > 0 || cfg.Cycle.NotifyEmpty) {
		if sendErr := telegramClient.SendSummary(sum); sendErr != nil {
			logger.Error("Failed to send Telegram summary: %v", sendErr)
		} else {
			logger.Info("Sent Telegram summary with %d sections", len(sum.Sections))
		}
	}

	return err
}
