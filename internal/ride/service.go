package ride

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/city-rides/internal/currency"
	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/observability"
	"github.com/example/city-rides/internal/pricing"
	"github.com/example/city-rides/internal/storage"
)

// Publisher delivers domain events to connected participants.
type Publisher interface {
	Publish(models.Event)
}

// Service owns ride creation and lifecycle transitions. Every
// state-changing call delegates the race to a conditional store
// write and emits an event only after the write succeeds.
type Service struct {
	Store  storage.RideStore
	Fence  *geo.Engine
	Pricer *pricing.Engine
	Events Publisher
	Logger *slog.Logger
}

// CreateInput is a rider's ride request. LockCity, when set, is the
// rider's resolved city and bounds both endpoints to its geofence.
type CreateInput struct {
	ClientID          string
	Pickup            models.ResolvedLocation
	Dropoff           models.ResolvedLocation
	Passengers        int
	Currency          string
	PaymentMethod     string
	AllowDriverOffers bool
	ClientOfferPrice  *float64
	PriceMode         pricing.Mode
	FixedAmount       float64
	PricePerKm        float64
	LockCity          string
}

func (in CreateInput) validate() error {
	if in.ClientID == "" {
		return fmt.Errorf("%w: client_id required", ErrInvalidInput)
	}
	if in.Pickup.Point == (models.GeoPoint{}) || in.Dropoff.Point == (models.GeoPoint{}) {
		return fmt.Errorf("%w: pickup and dropoff coordinates required", ErrInvalidInput)
	}
	if in.PriceMode == pricing.ModeFixed && in.FixedAmount <= 0 {
		return fmt.Errorf("%w: fixed amount must be positive", ErrInvalidInput)
	}
	if in.PriceMode != pricing.ModeFixed && in.PricePerKm <= 0 {
		return fmt.Errorf("%w: price per km must be positive", ErrInvalidInput)
	}
	if in.ClientOfferPrice != nil && *in.ClientOfferPrice <= 0 {
		return fmt.Errorf("%w: offer price must be positive", ErrInvalidInput)
	}
	return nil
}

// Create validates the request, enforces the geofence on both
// endpoints, prices the ride and stores it in pending state.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Ride, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if in.LockCity != "" && s.Fence != nil {
		lock, err := s.Fence.LockCity(ctx, in.LockCity, in.Pickup.Point)
		if err != nil {
			s.Logger.Warn("geofence lock unavailable, skipping check", "city", in.LockCity, "error", err)
		} else {
			if err := s.Fence.IsAllowed(in.Pickup, lock); err != nil {
				return nil, err
			}
			if err := s.Fence.IsAllowed(in.Dropoff, lock); err != nil {
				return nil, err
			}
		}
	}

	distanceKm := geo.Haversine(in.Pickup.Point, in.Dropoff.Point)
	cur := currency.Normalize(in.Currency, "")
	price := s.Pricer.Price(pricing.Input{
		Mode:        in.PriceMode,
		FixedAmount: in.FixedAmount,
		DistanceKm:  distanceKm,
		PricePerKm:  in.PricePerKm,
		Passengers:  in.Passengers,
		Currency:    cur,
	})

	passengers := in.Passengers
	if passengers < 1 {
		passengers = 1
	}
	r := &models.Ride{
		ID:                uuid.NewString(),
		ClientID:          in.ClientID,
		Pickup:            in.Pickup,
		Dropoff:           in.Dropoff,
		DistanceKm:        distanceKm,
		Passengers:        passengers,
		BasePrice:         price,
		FinalPrice:        price,
		Currency:          cur,
		AllowDriverOffers: in.AllowDriverOffers,
		ClientOfferPrice:  in.ClientOfferPrice,
		PaymentMethod:     in.PaymentMethod,
		Status:            models.StatusPending,
		CreatedAt:         time.Now(),
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, err
	}

	observability.RidesCreated.Inc()
	s.emit(models.EventRideCreated, r)
	s.Logger.Info("ride created", "ride_id", r.ID, "city", r.Pickup.City, "price", r.FinalPrice, "currency", r.Currency)
	return r, nil
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.Store.GetRide(ctx, rideID)
}

// Cancel is a rider-owned conditional write. A ride that is already
// terminal by the time the cancel lands is rejected, not overwritten.
func (s *Service) Cancel(ctx context.Context, rideID, clientID string) (*models.Ride, error) {
	r, err := s.Store.CancelRide(ctx, rideID, clientID)
	if err != nil {
		return nil, err
	}
	s.emit(models.EventRideCancelled, r)
	s.Logger.Info("ride cancelled", "ride_id", rideID)
	return r, nil
}

// Arrived moves an assigned ride to driver_arrived.
func (s *Service) Arrived(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, driverID, models.StatusDriverArrived, models.EventDriverArrived)
}

// Start moves an assigned or arrived ride to in_progress.
func (s *Service) Start(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, driverID, models.StatusInProgress, models.EventTripStarted)
}

// Complete finishes an in-progress trip.
func (s *Service) Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, driverID, models.StatusCompleted, models.EventTripCompleted)
}

func (s *Service) transition(ctx context.Context, rideID, driverID string, to models.RideStatus, event models.EventType) (*models.Ride, error) {
	r, err := s.Store.TransitionRide(ctx, rideID, driverID, From(to), to)
	if err != nil {
		return nil, err
	}
	s.emit(event, r)
	s.Logger.Info("ride transitioned", "ride_id", rideID, "status", to)
	return r, nil
}

func (s *Service) emit(t models.EventType, r *models.Ride) {
	if s.Events == nil {
		return
	}
	e := models.Event{Type: t, RideID: r.ID, ClientID: r.ClientID, At: time.Now(), Ride: r}
	if r.DriverID != nil {
		e.DriverID = *r.DriverID
	}
	s.Events.Publish(e)
}
