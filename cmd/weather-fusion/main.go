package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kelvins/geocoder"
	"github.com/sirupsen/logrus"

	httpapi "github.com/i474232898/weather-fusion/internal/api/http"
	"github.com/i474232898/weather-fusion/internal/config"
	"github.com/i474232898/weather-fusion/internal/observability"
	"github.com/i474232898/weather-fusion/internal/scheduler"
	"github.com/i474232898/weather-fusion/internal/sink"
	"github.com/i474232898/weather-fusion/internal/store"
	"github.com/i474232898/weather-fusion/internal/weather"
	"github.com/i474232898/weather-fusion/internal/weather/providers"
)

func main() {
	// Load() also reads .env when present.
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	cfg.ConfigureLogging()

	// Shared HTTP client for outbound provider calls. Each provider call is
	// additionally bounded by the coordinator's per-call context.
	httpClient := &http.Client{
		Timeout: cfg.ProviderTimeout,
	}

	// Providers with resilience (backoff + circuit breaker). NWS and
	// Open-Meteo need no API key; Visual Crossing joins when one is set.
	adapters := []weather.Adapter{
		providers.NewNWSProvider(httpClient, cfg.NWSUserAgent),
		providers.NewOpenMeteoProvider(httpClient),
	}
	if cfg.VisualCrossingAPIKey != "" {
		adapters = append(adapters, providers.NewVisualCrossingProvider(httpClient, cfg.VisualCrossingAPIKey))
	} else {
		logrus.Info("VISUALCROSSING_API_KEY not set; running without visualcrossing")
	}

	coordinator := weather.NewFetchCoordinator(adapters, cfg.ProviderTimeout)
	if err := cfg.Priority.Validate(coordinator.AdapterNames()); err != nil {
		logrus.WithError(err).Fatal("invalid source priority configuration")
	}

	// History store: Redis when configured, in-memory otherwise.
	var historyStore weather.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logrus.WithError(err).Fatal("failed to connect to redis")
		}
		historyStore = store.NewRedisStore(client, cfg.StoreMaxHistory, cfg.StoreMaxAge)
		logrus.WithField("addr", cfg.RedisAddr).Info("using redis history store")
	} else {
		historyStore = store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	}

	// Optional Kafka sink for fused results.
	var publisher weather.ResultPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := sink.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPub.Close()
		publisher = kafkaPub
		logrus.WithFields(logrus.Fields{
			"brokers": cfg.KafkaBrokers,
			"topic":   cfg.KafkaTopic,
		}).Info("publishing fused results to kafka")
	}

	metrics := observability.NewMetrics()

	service := weather.NewService(weather.ServiceOptions{
		Coordinator: coordinator,
		Priority:    cfg.Priority,
		Aggregator:  weather.NewAlertAggregator(cfg.AlertDedupWindow),
		Cache:       weather.NewFreshnessCache(cfg.CacheTTL),
		Store:       historyStore,
		Publisher:   publisher,
		Metrics:     metrics,
	})

	// Scheduler that keeps configured locations warm.
	sched := scheduler.New(cfg.Locations, cfg.FetchInterval, service, metrics)
	if err := sched.Start(); err != nil {
		logrus.WithError(err).Fatal("failed to start scheduler")
	}
	defer sched.Stop()

	// Geocoding fallback for city-based lookups.
	var geocode httpapi.GeocodeFunc
	if cfg.GeocoderAPIKey != "" {
		geocoder.ApiKey = cfg.GeocoderAPIKey
		geocode = httpapi.GoogleGeocode
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-fusion",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service, geocode)
	httpapi.RegisterOps(app)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logrus.WithError(err).Error("fiber server stopped")
		}
	}()
	logrus.WithField("port", cfg.Port).Info("weather-fusion listening")

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logrus.WithError(err).Error("error during shutdown")
	}
}
