package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cor0nius/matguard/internal/solar"
	"github.com/cor0nius/matguard/internal/weather"
)

type apiConfig struct {
	settings   settings
	location   *time.Location
	sun        *solar.Calculator
	weather    *weather.Service
	store      Store
	notifier   Notifier
	outlets    []*outletPlan
	httpClient *http.Client
	port       string
	devMode    bool
	logger     *slog.Logger
}

// settings holds everything read from the environment. Fields are exported
// for the validator.
type settings struct {
	Latitude               float64       `validate:"gte=-90,lte=90"`
	Longitude              float64       `validate:"gte=-180,lte=180"`
	Timezone               string        `validate:"required"`
	WeatherCachePath       string        `validate:"required"`
	OpenMeteoURL           string        `validate:"required,url"`
	ForecastHours          int           `validate:"gte=1,lte=384"`
	RefreshInterval        time.Duration `validate:"gt=0"`
	RetryInterval          time.Duration `validate:"gt=0"`
	MaxRetryInterval       time.Duration `validate:"gtefield=RetryInterval"`
	CacheValidHours        float64       `validate:"gt=0"`
	OutageAlertAfter       time.Duration `validate:"gt=0"`
	FetchTimeout           time.Duration `validate:"gt=0"`
	TickInterval           time.Duration `validate:"gte=1s"`
	MaxRuntimeHours        float64       `validate:"gt=0"`
	CooldownMinutes        float64       `validate:"gte=0"`
	BlackIceTempF          float64       `validate:"gte=-100,lte=150"`
	BlackIceLookaheadHours float64       `validate:"gte=0,lte=48"`
	WebhookURL             string        `validate:"omitempty,url"`
	RedisURL               string        `validate:"omitempty,url"`
	SchedulesFile          string        `validate:"required"`
	Port                   string        `validate:"required,numeric"`
}

var validate = validator.New()

// getRequiredEnv retrieves an environment variable that has no sensible default.
func getRequiredEnv(key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", fmt.Errorf("environment variable %s must be set", key)
	}
	return val, nil
}

// getEnv retrieves an environment variable by key, with a fallback value.
func getEnv(key, fallback string, logger *slog.Logger) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	logger.Info("environment variable not set, using fallback", "key", key, "fallback", fallback)
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer, with a fallback value.
func getEnvAsInt(key string, fallback int, logger *slog.Logger) int {
	valStr, ok := os.LookupEnv(key)
	if !ok || valStr == "" {
		logger.Info("environment variable not set, using fallback", "key", key, "fallback", fallback)
		return fallback
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		logger.Warn("invalid integer value for environment variable, using fallback", "key", key, "value", valStr, "error", err)
		return fallback
	}
	return val
}

func getEnvAsFloat(key string, fallback float64, logger *slog.Logger) float64 {
	valStr, ok := os.LookupEnv(key)
	if !ok || valStr == "" {
		logger.Info("environment variable not set, using fallback", "key", key, "fallback", fallback)
		return fallback
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		logger.Warn("invalid number for environment variable, using fallback", "key", key, "value", valStr, "error", err)
		return fallback
	}
	return val
}

// getEnvAsDuration accepts Go duration strings such as "90s" or "30m".
func getEnvAsDuration(key string, fallback time.Duration, logger *slog.Logger) time.Duration {
	valStr, ok := os.LookupEnv(key)
	if !ok || valStr == "" {
		logger.Info("environment variable not set, using fallback", "key", key, "fallback", fallback.String())
		return fallback
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		logger.Warn("invalid duration for environment variable, using fallback", "key", key, "value", valStr, "error", err)
		return fallback
	}
	return val
}

func requiredFloat(key string) (float64, error) {
	s, err := getRequiredEnv(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s: %w", key, err)
	}
	return f, nil
}

// loadSettings reads and validates the environment.
func loadSettings(logger *slog.Logger) (settings, error) {
	lat, latErr := requiredFloat("LATITUDE")
	lon, lonErr := requiredFloat("LONGITUDE")
	if err := errors.Join(latErr, lonErr); err != nil {
		return settings{}, err
	}

	s := settings{
		Latitude:               lat,
		Longitude:              lon,
		Timezone:               getEnv("TIMEZONE", "UTC", logger),
		WeatherCachePath:       getEnv("WEATHER_CACHE_PATH", "weather_cache.json", logger),
		OpenMeteoURL:           getEnv("OPEN_METEO_URL", "https://api.open-meteo.com/v1/forecast", logger),
		ForecastHours:          getEnvAsInt("FORECAST_HOURS", 48, logger),
		RefreshInterval:        getEnvAsDuration("REFRESH_INTERVAL", 30*time.Minute, logger),
		RetryInterval:          getEnvAsDuration("RETRY_INTERVAL", time.Minute, logger),
		MaxRetryInterval:       getEnvAsDuration("MAX_RETRY_INTERVAL", 30*time.Minute, logger),
		CacheValidHours:        getEnvAsFloat("CACHE_VALID_HOURS", 6, logger),
		OutageAlertAfter:       getEnvAsDuration("OUTAGE_ALERT_AFTER", time.Hour, logger),
		FetchTimeout:           getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second, logger),
		TickInterval:           getEnvAsDuration("TICK_INTERVAL", time.Minute, logger),
		MaxRuntimeHours:        getEnvAsFloat("MAX_RUNTIME_HOURS", 8, logger),
		CooldownMinutes:        getEnvAsFloat("COOLDOWN_MINUTES", 30, logger),
		BlackIceTempF:          getEnvAsFloat("BLACK_ICE_TEMP_F", 34, logger),
		BlackIceLookaheadHours: getEnvAsFloat("BLACK_ICE_LOOKAHEAD_HOURS", 3, logger),
		WebhookURL:             os.Getenv("WEBHOOK_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		SchedulesFile:          getEnv("SCHEDULES_FILE", "schedules.yaml", logger),
		Port:                   getEnv("PORT", "8080", logger),
	}
	if err := validate.Struct(s); err != nil {
		return settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return settings{}, fmt.Errorf("invalid TIMEZONE %q: %w", s.Timezone, err)
	}
	return s, nil
}

func (s settings) weatherConfig() weather.Config {
	return weather.Config{
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		ForecastHours:    s.ForecastHours,
		RefreshInterval:  s.RefreshInterval,
		RetryInterval:    s.RetryInterval,
		MaxRetryInterval: s.MaxRetryInterval,
		CacheValidHours:  s.CacheValidHours,
		OutageAlertAfter: s.OutageAlertAfter,
		FetchTimeout:     s.FetchTimeout,
	}
}

func newLogger(devMode bool) *slog.Logger {
	if devMode {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// newAPIConfig wires every component from validated settings. It performs I/O:
// it reads the schedules file and the weather cache and pings Redis if one is
// configured.
func newAPIConfig(ctx context.Context, s settings, devMode bool, logger *slog.Logger) (*apiConfig, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	outlets, err := loadOutlets(s.SchedulesFile, logger)
	if err != nil {
		return nil, err
	}

	var store Store
	if s.RedisURL != "" {
		opt, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("could not parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(opt)
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			return nil, fmt.Errorf("could not connect to Redis: %w", err)
		}
		store = NewRedisStore(redisClient)
	} else {
		logger.Info("REDIS_URL not set, keeping outlet state in memory")
		store = newMemoryStore()
	}

	httpClient := &http.Client{Timeout: s.FetchTimeout}

	var notifier Notifier
	if s.WebhookURL != "" {
		notifier = newWebhookNotifier(s.WebhookURL, httpClient, logger)
	} else {
		notifier = newLogNotifier(logger)
	}

	cache := weather.NewCache(s.WeatherCachePath, logger.With("component", "weather_cache"))
	provider := weather.NewOpenMeteo(s.OpenMeteoURL, s.Latitude, s.Longitude, httpClient)
	service := weather.NewService(s.weatherConfig(), &meteredProvider{next: provider}, cache, notifier, logger.With("component", "weather"))

	return &apiConfig{
		settings:   s,
		location:   loc,
		sun:        solar.New(s.Latitude, s.Longitude, loc),
		weather:    service,
		store:      store,
		notifier:   notifier,
		outlets:    outlets,
		httpClient: httpClient,
		port:       s.Port,
		devMode:    devMode,
		logger:     logger,
	}, nil
}

func config() *apiConfig {
	devModeStr := os.Getenv("DEV_MODE")
	devMode, err := strconv.ParseBool(devModeStr)
	if err != nil {
		devMode = false
	}
	logger := newLogger(devMode)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	s, err := loadSettings(logger)
	if err != nil {
		logger.Error("could not load configuration", "error", err)
		os.Exit(1)
	}

	cfg, err := newAPIConfig(context.Background(), s, devMode, logger)
	if err != nil {
		logger.Error("could not initialize", "error", err)
		os.Exit(1)
	}
	return cfg
}
