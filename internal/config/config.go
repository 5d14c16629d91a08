package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers   []string
	TelemetryTopic string

	PGDSN string

	GoogleMapsKey string
	FXRatesURL    string
	CountriesURL  string

	IPProviderTimeout time.Duration
	RiderOverrideTTL  time.Duration
	DriverOverrideTTL time.Duration
	RateCacheTTL      time.Duration
	RadiusCacheTTL    time.Duration
	CountryCacheTTL   time.Duration

	MaxAccuracyM     float64
	MinPushInterval  time.Duration
	FallbackRadiusKm float64
	DefaultSpeedKmh  float64
	MinReportedSpeed float64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		TelemetryTopic: "ride-telemetry",

		FXRatesURL:   "https://open.er-api.com/v6/latest",
		CountriesURL: "https://restcountries.com/v3.1/alpha",

		IPProviderTimeout: 3 * time.Second,
		RiderOverrideTTL:  14 * 24 * time.Hour,
		DriverOverrideTTL: 6 * time.Hour,
		RateCacheTTL:      6 * time.Hour,
		RadiusCacheTTL:    12 * time.Hour,
		CountryCacheTTL:   24 * time.Hour,

		MaxAccuracyM:     500,
		MinPushInterval:  5 * time.Second,
		FallbackRadiusKm: 50,
		DefaultSpeedKmh:  30,
		MinReportedSpeed: 3,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.TelemetryTopic, "KAFKA_TELEMETRY_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.GoogleMapsKey = os.Getenv("GOOGLE_MAPS_KEY")
	setStringFromEnv(&cfg.FXRatesURL, "FX_RATES_URL")
	setStringFromEnv(&cfg.CountriesURL, "COUNTRIES_URL")

	setDurationFromEnv(&cfg.IPProviderTimeout, "IP_PROVIDER_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RiderOverrideTTL, "RIDER_OVERRIDE_TTL", &errs)
	setDurationFromEnv(&cfg.DriverOverrideTTL, "DRIVER_OVERRIDE_TTL", &errs)
	setDurationFromEnv(&cfg.RateCacheTTL, "RATE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.RadiusCacheTTL, "RADIUS_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.CountryCacheTTL, "COUNTRY_CACHE_TTL", &errs)

	setFloatFromEnv(&cfg.MaxAccuracyM, "MAX_ACCURACY_M", &errs)
	setDurationFromEnv(&cfg.MinPushInterval, "MIN_PUSH_INTERVAL", &errs)
	setFloatFromEnv(&cfg.FallbackRadiusKm, "FALLBACK_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedKmh, "DEFAULT_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.MinReportedSpeed, "MIN_REPORTED_SPEED_KMH", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MaxAccuracyM <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ACCURACY_M must be > 0"))
	}
	if cfg.FallbackRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("FALLBACK_RADIUS_KM must be > 0"))
	}
	if cfg.DefaultSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_SPEED_KMH must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
