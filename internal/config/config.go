package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-fusion/internal/weather"
)

type AppConfig struct {
	Port      string
	LogLevel  string
	LogFormat string // json, text

	// Provider credentials. Open-Meteo and NWS need none; NWS wants a
	// User-Agent instead.
	VisualCrossingAPIKey string
	GeocoderAPIKey       string
	NWSUserAgent         string

	// ProviderTimeout bounds every individual provider call.
	ProviderTimeout time.Duration

	// CacheTTL is the freshness window for fused results.
	CacheTTL time.Duration

	// AlertDedupWindow is the max onset gap for two alerts to merge.
	AlertDedupWindow time.Duration

	// FetchInterval controls the scheduled cache-warming refresh.
	FetchInterval time.Duration

	// Locations to keep warm.
	Locations []weather.Location

	// History store retention.
	StoreMaxHistory int           // max number of results per location (0 = unlimited)
	StoreMaxAge     time.Duration // max age of results (0 = unlimited)

	// RedisAddr switches the history store from memory to Redis when set.
	RedisAddr string

	// Kafka sink; publishing is disabled when no brokers are set.
	KafkaBrokers []string
	KafkaTopic   string

	// Priority is the merge policy, defaults overlaid with the optional
	// PRIORITY_CONFIG_PATH file.
	Priority weather.SourcePriorityConfig
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	cfg := &AppConfig{
		Port:                 getenvDefault("PORT", "8080"),
		LogLevel:             getenvDefault("LOG_LEVEL", "info"),
		LogFormat:            getenvDefault("LOG_FORMAT", "text"),
		VisualCrossingAPIKey: os.Getenv("VISUALCROSSING_API_KEY"),
		GeocoderAPIKey:       os.Getenv("GEOCODER_API_KEY"),
		NWSUserAgent:         os.Getenv("NWS_USER_AGENT"),
		KafkaTopic:           getenvDefault("KAFKA_TOPIC", "weather.fused"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.ProviderTimeout, err = getenvDuration("PROVIDER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AlertDedupWindow, err = getenvDuration("ALERT_DEDUP_WINDOW", 60*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 96) // roughly 24h at 15-minute intervals

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.Locations, err = parseLocations(getenvDefault("WEATHER_LOCATIONS", "New York:40.7128:-74.0060"))
	if err != nil {
		return nil, err
	}

	cfg.Priority = weather.DefaultSourcePriorityConfig()
	if path := os.Getenv("PRIORITY_CONFIG_PATH"); path != "" {
		if err := loadPriorityFile(path, &cfg.Priority); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ConfigureLogging applies LogLevel and LogFormat to the process logger.
func (c *AppConfig) ConfigureLogging() {
	level, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// parseLocations reads the "name:lat:lon" comma list. The domestic flag is
// derived from the coordinates, never configured.
func parseLocations(raw string) ([]weather.Location, error) {
	var locs []weather.Location
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid WEATHER_LOCATIONS entry %q, want name:lat:lon", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in WEATHER_LOCATIONS entry %q: %w", entry, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in WEATHER_LOCATIONS entry %q: %w", entry, err)
		}
		locs = append(locs, weather.Location{
			Name:      strings.TrimSpace(parts[0]),
			Latitude:  lat,
			Longitude: lng,
			Domestic:  weather.ClassifyDomestic(lat, lng),
		})
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("WEATHER_LOCATIONS must name at least one location")
	}
	return locs, nil
}

// loadPriorityFile overlays the merge policy from a JSON or YAML document.
// Keys absent from the file keep their defaults.
func loadPriorityFile(path string, priority *weather.SourcePriorityConfig) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read priority config %s: %w", path, err)
	}
	if err := v.Unmarshal(priority); err != nil {
		return fmt.Errorf("parse priority config %s: %w", path, err)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
