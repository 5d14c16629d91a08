package matcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/observability"
	"github.com/example/city-rides/internal/storage"
)

// Publisher delivers assignment events to connected participants.
type Publisher interface {
	Publish(models.Event)
}

// Service scopes unclaimed rides to a driver's city and runs the
// race-safe direct accept.
type Service struct {
	Store            storage.RideStore
	Events           Publisher
	FallbackRadiusKm float64
	Logger           *slog.Logger
}

// ListAvailable returns unclaimed rides for a driver, newest first.
// The city filter runs first; when it yields nothing and the driver's
// coordinates are known, a radius sweep over all unclaimed rides
// fills in.
func (s *Service) ListAvailable(ctx context.Context, city string, point *models.GeoPoint) ([]models.Ride, error) {
	if city != "" {
		rides, err := s.Store.ListUnclaimedByCity(ctx, city)
		if err != nil {
			return nil, err
		}
		if len(rides) > 0 || point == nil {
			return rides, nil
		}
	}

	rides, err := s.Store.ListUnclaimed(ctx)
	if err != nil {
		return nil, err
	}
	if point == nil {
		return rides, nil
	}

	nearby := rides[:0]
	for _, r := range rides {
		if geo.Haversine(r.Pickup.Point, *point) <= s.FallbackRadiusKm {
			nearby = append(nearby, r)
		}
	}
	return nearby, nil
}

// Accept claims a pending ride for a driver. Losing the race is a
// normal outcome: the caller re-lists instead of retrying.
func (s *Service) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	r, err := s.Store.AcceptRide(ctx, rideID, driverID, nil)
	if err != nil {
		if errors.Is(err, storage.ErrRideTaken) {
			observability.AcceptConflicts.Inc()
			s.Logger.Info("accept lost race", "ride_id", rideID, "driver_id", driverID)
		}
		return nil, err
	}

	observability.AcceptsWon.Inc()
	if s.Events != nil {
		s.Events.Publish(models.Event{
			Type:     models.EventDriverAssigned,
			RideID:   r.ID,
			ClientID: r.ClientID,
			DriverID: driverID,
			At:       time.Now(),
			Ride:     r,
		})
	}
	s.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	return r, nil
}
