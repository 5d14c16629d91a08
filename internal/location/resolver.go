package location

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/city-rides/internal/cache"
	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/observability"
)

// ErrNoLocation means every cascade step came up empty; the caller
// proceeds without a geofence lock.
var ErrNoLocation = errors.New("no location available")

// Override is the cached last known location for a role.
type Override struct {
	Location  models.ResolvedLocation `json:"location"`
	Source    models.LocationSource   `json:"source"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Resolution is a successful cascade outcome.
type Resolution struct {
	Location models.ResolvedLocation `json:"location"`
	Source   models.LocationSource   `json:"source"`
}

// Resolver walks the fallback cascade: device fix, IP provider
// consensus, cached override.
type Resolver struct {
	Geocoder  Geocoder // nil tolerated; enrichment is skipped
	Providers []IPProvider
	Overrides cache.Store

	RiderTTL        time.Duration
	DriverTTL       time.Duration
	ProviderTimeout time.Duration
	MaxAccuracyM    float64

	Logger *slog.Logger
}

// Resolve returns the participant's location or ErrNoLocation. A device
// fix whose accuracy is worse than MaxAccuracyM counts as "still
// acquiring" and falls through rather than failing.
func (r *Resolver) Resolve(ctx context.Context, role models.Role, participantID string, fix *models.DeviceFix) (Resolution, error) {
	if fix != nil && fix.AccuracyM >= 0 && fix.AccuracyM <= r.MaxAccuracyM {
		loc := r.enrich(ctx, models.ResolvedLocation{Point: fix.Point, City: "Unknown"})
		r.saveOverride(ctx, role, participantID, loc, models.SourceGPS)
		observability.ResolverResults.WithLabelValues(string(models.SourceGPS)).Inc()
		return Resolution{Location: loc, Source: models.SourceGPS}, nil
	}

	if loc, ok := r.resolveByIP(ctx); ok {
		loc = r.enrich(ctx, loc)
		r.saveOverride(ctx, role, participantID, loc, models.SourceIP)
		observability.ResolverResults.WithLabelValues(string(models.SourceIP)).Inc()
		return Resolution{Location: loc, Source: models.SourceIP}, nil
	}

	if ov, ok := r.cachedOverride(ctx, role, participantID); ok {
		observability.ResolverResults.WithLabelValues(string(ov.Source)).Inc()
		return Resolution{Location: ov.Location, Source: ov.Source}, nil
	}

	return Resolution{}, ErrNoLocation
}

// SaveManual records a pin or search selection as the participant's
// override.
func (r *Resolver) SaveManual(ctx context.Context, role models.Role, participantID string, loc models.ResolvedLocation) {
	r.saveOverride(ctx, role, participantID, loc, models.SourceManual)
}

// resolveByIP fans out to all providers in parallel and merges their
// answers: mode city wins and its agreeing coordinates are averaged; if
// no provider names a city, all coordinates are averaged.
func (r *Resolver) resolveByIP(ctx context.Context) (models.ResolvedLocation, bool) {
	if len(r.Providers) == 0 {
		return models.ResolvedLocation{}, false
	}

	fixes := make(chan IPFix, len(r.Providers))
	var wg sync.WaitGroup
	for _, p := range r.Providers {
		wg.Add(1)
		go func(p IPProvider) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.ProviderTimeout)
			defer cancel()
			fix, err := p.Lookup(callCtx)
			if err != nil {
				r.Logger.Debug("ip provider failed", "provider", p.Name(), "error", err)
				return
			}
			fixes <- fix
		}(p)
	}
	wg.Wait()
	close(fixes)

	var collected []IPFix
	for f := range fixes {
		if f.Point != nil {
			collected = append(collected, f)
		}
	}
	if len(collected) == 0 {
		return models.ResolvedLocation{}, false
	}
	return mergeFixes(collected), true
}

func mergeFixes(fixes []IPFix) models.ResolvedLocation {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, f := range fixes {
		key := geo.NormalizeName(f.City)
		if key == "" {
			continue
		}
		counts[key]++
		if _, ok := display[key]; !ok {
			display[key] = f.City
		}
	}

	// A city is the consensus only when it strictly outvotes every
	// other; a tie gives no winner and all coordinates are averaged.
	var winner string
	best := 0
	tied := false
	for key, n := range counts {
		switch {
		case n > best:
			winner, best, tied = key, n, false
		case n == best:
			tied = true
		}
	}
	if tied {
		winner = ""
	}

	agreeing := fixes
	city := "Unknown"
	country := ""
	if winner != "" {
		city = display[winner]
		agreeing = agreeing[:0:0]
		for _, f := range fixes {
			if geo.NormalizeName(f.City) == winner {
				agreeing = append(agreeing, f)
				if country == "" {
					country = f.CountryCode
				}
			}
		}
	}

	var lat, lng float64
	for _, f := range agreeing {
		lat += f.Point.Lat
		lng += f.Point.Lng
	}
	n := float64(len(agreeing))
	return models.ResolvedLocation{
		Point:       models.GeoPoint{Lat: lat / n, Lng: lng / n},
		City:        city,
		CountryCode: country,
	}
}

// enrich reverse-geocodes when the city or address is still unknown.
// Geocoding failures degrade to the un-enriched location.
func (r *Resolver) enrich(ctx context.Context, loc models.ResolvedLocation) models.ResolvedLocation {
	if r.Geocoder == nil {
		return loc
	}
	if loc.City != "" && loc.City != "Unknown" && loc.Address != "" {
		return loc
	}
	rev, err := r.Geocoder.Reverse(ctx, loc.Point)
	if err != nil {
		r.Logger.Debug("reverse geocode failed", "error", err)
		return loc
	}
	if loc.Address == "" {
		loc.Address = rev.Address
	}
	if loc.City == "" || loc.City == "Unknown" {
		loc.City = rev.City
	}
	if loc.CountryCode == "" {
		loc.CountryCode = rev.CountryCode
	}
	return loc
}

func (r *Resolver) ttlFor(role models.Role) time.Duration {
	if role == models.RoleDriver {
		return r.DriverTTL
	}
	return r.RiderTTL
}

func overrideKey(role models.Role, participantID string) string {
	return "location:override:" + string(role) + ":" + participantID
}

func (r *Resolver) saveOverride(ctx context.Context, role models.Role, participantID string, loc models.ResolvedLocation, src models.LocationSource) {
	b, err := json.Marshal(Override{Location: loc, Source: src, UpdatedAt: time.Now()})
	if err != nil {
		return
	}
	if err := r.Overrides.Set(ctx, overrideKey(role, participantID), b, r.ttlFor(role)); err != nil {
		r.Logger.Warn("override cache write failed", "role", role, "error", err)
	}
}

func (r *Resolver) cachedOverride(ctx context.Context, role models.Role, participantID string) (Override, bool) {
	b, err := r.Overrides.Get(ctx, overrideKey(role, participantID))
	if err != nil {
		return Override{}, false
	}
	var ov Override
	if err := json.Unmarshal(b, &ov); err != nil {
		return Override{}, false
	}
	return ov, true
}
