package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/city-rides/internal/logging"
	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total telemetry messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	msgsStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_stale_total",
		Help: "Total messages rejected by ride state guards",
	})
	applyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_apply_errors_total",
		Help: "Total telemetry apply failures after retries",
	})
	mirrorUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_updates_total",
		Help: "Total successful live position mirror writes",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsStale, applyErrors, mirrorUpdates)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := splitList(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-telemetry"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "city-rides-telemetry"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	var store storage.RideStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := storage.NewPostgresStore(dsn)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("no DATABASE_URL, applying telemetry to an in-memory store")
		store = storage.NewMemoryStore()
	}

	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	mirror := &redisMirror{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var push models.PositionPush
		if err := json.Unmarshal(m.Value, &push); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}
		if push.RideID == "" || push.DriverID == "" {
			msgsInvalid.Inc()
			continue
		}

		if err := applyWithRetry(ctx, store, push, 3, 200*time.Millisecond); err != nil {
			if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
				// Ride finished or never existed here; nothing to apply.
				msgsStale.Inc()
				continue
			}
			applyErrors.Inc()
			logger.Error("telemetry apply failed", "ride_id", push.RideID, "error", err)
			continue
		}

		if err := mirror.Set(ctx, push); err != nil {
			logger.Warn("live position mirror failed", "ride_id", push.RideID, "error", err)
			continue
		}
		mirrorUpdates.Inc()
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PositionApplier is the subset of the store the consumer needs.
type PositionApplier interface {
	UpdateTelemetry(ctx context.Context, push models.PositionPush) error
}

// applyWithRetry writes one telemetry sample, retrying transient
// failures with exponential backoff. State-guard rejections are
// final and returned immediately.
func applyWithRetry(ctx context.Context, store PositionApplier, push models.PositionPush, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = store.UpdateTelemetry(ctx, push)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// LiveMirror keeps the latest position per ride in a Redis hash for
// cheap reads by presentation services.
type LiveMirror interface {
	Set(ctx context.Context, push models.PositionPush) error
}

type redisMirror struct{ c *redis.Client }

func (r *redisMirror) Set(ctx context.Context, push models.PositionPush) error {
	fields := map[string]interface{}{
		"driver_id": push.DriverID,
		"lat":       push.Lat,
		"lng":       push.Lng,
		"at":        push.At.UTC().Format(time.RFC3339),
	}
	if push.SpeedKmh != nil {
		fields["speed_kmh"] = *push.SpeedKmh
	}
	if push.Heading != nil {
		fields["heading"] = *push.Heading
	}
	_, err := r.c.HSet(ctx, "ride:livepos:"+push.RideID, fields).Result()
	return err
}
