package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/city-rides/internal/cache"
	"github.com/example/city-rides/internal/config"
	"github.com/example/city-rides/internal/currency"
	"github.com/example/city-rides/internal/dispatch"
	"github.com/example/city-rides/internal/geo"
	httpapi "github.com/example/city-rides/internal/http"
	"github.com/example/city-rides/internal/ingest"
	"github.com/example/city-rides/internal/location"
	"github.com/example/city-rides/internal/logging"
	"github.com/example/city-rides/internal/matcher"
	"github.com/example/city-rides/internal/offer"
	"github.com/example/city-rides/internal/pricing"
	"github.com/example/city-rides/internal/ride"
	"github.com/example/city-rides/internal/storage"
	"github.com/example/city-rides/internal/tracking"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("no PG_DSN, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var kv cache.Store
	if cfg.RedisAddr != "" {
		kv = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		logger.Warn("no REDIS_ADDR, using in-memory cache")
		kv = cache.NewMemory()
	}

	var geocoder location.Geocoder
	var cityGeocoder geo.CityGeocoder
	if cfg.GoogleMapsKey != "" {
		mg, err := location.NewMapsGeocoder(cfg.GoogleMapsKey)
		if err != nil {
			logger.Error("maps client init failed", "error", err)
			os.Exit(1)
		}
		geocoder = mg
		cityGeocoder = mg
	} else {
		logger.Warn("no GOOGLE_MAPS_KEY, geocoding and city radius estimation degraded")
	}

	fence := geo.NewEngine(cityGeocoder, kv, cfg.RadiusCacheTTL, logger)

	resolver := &location.Resolver{
		Geocoder:        geocoder,
		Providers:       location.DefaultIPProviders(cfg.IPProviderTimeout),
		Overrides:       kv,
		RiderTTL:        cfg.RiderOverrideTTL,
		DriverTTL:       cfg.DriverOverrideTTL,
		ProviderTimeout: cfg.IPProviderTimeout,
		MaxAccuracyM:    cfg.MaxAccuracyM,
		Logger:          logger,
	}

	converter := &currency.Converter{
		Source:     currency.NewERAPISource(cfg.FXRatesURL),
		Directory:  currency.NewRESTCountriesDirectory(cfg.CountriesURL),
		Cache:      kv,
		RateTTL:    cfg.RateCacheTTL,
		CountryTTL: cfg.CountryCacheTTL,
		Logger:     logger,
	}
	pricer := &pricing.Engine{Converter: converter}

	registry := dispatch.NewRegistry(logger)

	var telemetry tracking.TelemetryPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.TelemetryTopic)
		defer kp.Close()
		telemetry = kp
	}

	srv := httpapi.NewServer(logger)
	srv.Resolver = resolver
	srv.Fence = fence
	srv.Pricer = pricer
	srv.Rides = &ride.Service{Store: store, Fence: fence, Pricer: pricer, Events: registry, Logger: logger}
	srv.Offers = &offer.Service{Store: store, Events: registry, Logger: logger}
	srv.Tracking = &tracking.Service{
		Store:            store,
		Telemetry:        telemetry,
		Events:           registry,
		MaxAccuracyM:     cfg.MaxAccuracyM,
		MinInterval:      cfg.MinPushInterval,
		DefaultSpeedKmh:  cfg.DefaultSpeedKmh,
		MinReportedSpeed: cfg.MinReportedSpeed,
		Logger:           logger,
	}
	srv.Matcher = &matcher.Service{Store: store, Events: registry, FallbackRadiusKm: cfg.FallbackRadiusKm, Logger: logger}
	srv.WSReg = registry

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("city-rides listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()

	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_rides.sql")
}
