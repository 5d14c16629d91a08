package geo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/city-rides/internal/cache"
	"github.com/example/city-rides/internal/models"
)

// CityGeocoder supplies the bounding geometry of a city. Implemented by
// the location package's geocoder client.
type CityGeocoder interface {
	CityBounds(ctx context.Context, city string) (models.GeoPoint, Bounds, error)
}

// Lock pins ride endpoints to one city. A nil *Lock allows everything.
type Lock struct {
	City     string          `json:"city"`
	Center   models.GeoPoint `json:"center"`
	RadiusKm float64         `json:"radius_km"`
}

// ViolationError names the area the rejected point had to fall in, so
// the caller can surface it verbatim.
type ViolationError struct {
	AllowedArea string
}

func (e *ViolationError) Error() string {
	return "location outside allowed area: " + e.AllowedArea
}

// Engine estimates city radii and checks candidate points against an
// active lock.
type Engine struct {
	geocoder CityGeocoder
	radii    cache.Store
	ttl      time.Duration
	logger   *slog.Logger
}

func NewEngine(geocoder CityGeocoder, radii cache.Store, ttl time.Duration, logger *slog.Logger) *Engine {
	return &Engine{geocoder: geocoder, radii: radii, ttl: ttl, logger: logger}
}

// LockCity builds a lock for the given city, estimating its radius from
// bounding geometry. Radii are cached per normalized city name for the
// duration of a lock session.
func (e *Engine) LockCity(ctx context.Context, city string, center models.GeoPoint) (*Lock, error) {
	if strings.TrimSpace(city) == "" || city == "Unknown" {
		return nil, fmt.Errorf("no city to lock")
	}
	key := "geofence:radius:" + NormalizeName(city)
	if b, err := e.radii.Get(ctx, key); err == nil {
		if r, err := strconv.ParseFloat(string(b), 64); err == nil {
			return &Lock{City: city, Center: center, RadiusKm: r}, nil
		}
	}

	radius := MinCityRadiusKm
	var (
		gcCenter models.GeoPoint
		bounds   Bounds
		err      error
	)
	if e.geocoder == nil {
		err = fmt.Errorf("no geocoder configured")
	} else {
		gcCenter, bounds, err = e.geocoder.CityBounds(ctx, city)
	}
	if err != nil {
		// Degradable: keep the caller's center and the minimum radius.
		e.logger.Warn("city bounds lookup failed", "city", city, "error", err)
	} else {
		if gcCenter.Lat != 0 || gcCenter.Lng != 0 {
			center = gcCenter
		}
		radius = EstimateRadiusKm(center, bounds)
	}

	if err := e.radii.Set(ctx, key, []byte(strconv.FormatFloat(radius, 'f', -1, 64)), e.ttl); err != nil {
		e.logger.Warn("radius cache write failed", "city", city, "error", err)
	}
	return &Lock{City: city, Center: center, RadiusKm: radius}, nil
}

// IsAllowed checks a resolved candidate against the lock. Either a
// normalized name match or a distance within the estimated radius
// satisfies the check. A nil lock allows all points.
func (e *Engine) IsAllowed(candidate models.ResolvedLocation, lock *Lock) error {
	if lock == nil {
		return nil
	}
	want := NormalizeName(lock.City)
	if want != "" {
		if strings.Contains(NormalizeName(candidate.City), want) ||
			strings.Contains(NormalizeName(candidate.Address), want) {
			return nil
		}
	}
	if Haversine(lock.Center, candidate.Point) <= lock.RadiusKm {
		return nil
	}
	area := "near your current city"
	if lock.City != "" && lock.City != "Unknown" {
		area = "inside " + lock.City
	}
	return &ViolationError{AllowedArea: area}
}
