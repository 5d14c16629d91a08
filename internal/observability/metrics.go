package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "city_rides", Name: "rides_created_total", Help: "Rides created"})
	AcceptsWon      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "city_rides", Name: "accepts_won_total", Help: "Ride acceptances that won the conditional write"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "city_rides", Name: "accept_conflicts_total", Help: "Ride acceptances lost to another driver"})
	TelemetryWrites = promauto.NewCounter(prometheus.CounterOpts{Namespace: "city_rides", Name: "telemetry_writes_total", Help: "Driver position writes applied"})
	TelemetryDrops  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "city_rides", Name: "telemetry_drops_total", Help: "Driver position pushes suppressed (accuracy or throttle)"})
	GeofenceRejects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "city_rides", Name: "geofence_rejects_total", Help: "Ride endpoints rejected by the geofence"})
	ResolverResults = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "city_rides", Name: "location_resolutions_total", Help: "Location resolutions by cascade step"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "city_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "city_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
