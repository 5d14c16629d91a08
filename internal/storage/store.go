package storage

import (
	"context"
	"errors"

	"github.com/example/city-rides/internal/models"
)

var (
	// ErrNotFound is returned when a ride or offer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRideTaken means the conditional accept matched zero rows:
	// another driver already won the ride.
	ErrRideTaken = errors.New("ride already taken")
	// ErrConflict means a guarded write lost its predicate (wrong
	// status, wrong owner, or a terminal ride).
	ErrConflict = errors.New("ride state conflict")
)

// RideStore is the persistence contract for rides and their offers.
// Every state-changing write is a single conditional update; stores
// must never split the predicate from the mutation.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// ListUnclaimedByCity returns pending, unassigned rides whose
	// pickup city contains the given name (case-insensitive),
	// most recent first.
	ListUnclaimedByCity(ctx context.Context, city string) ([]models.Ride, error)
	// ListUnclaimed returns all pending, unassigned rides, most
	// recent first.
	ListUnclaimed(ctx context.Context) ([]models.Ride, error)

	// AcceptRide performs the race-safe assignment: one UPDATE guarded
	// by status='pending' AND driver_id IS NULL. A non-nil agreedPrice
	// also sets final_price (offer acceptance path). Returns
	// ErrRideTaken when another caller won.
	AcceptRide(ctx context.Context, rideID, driverID string, agreedPrice *float64) (*models.Ride, error)

	// TransitionRide moves an assigned ride between active states,
	// guarded by the current status set and the assigned driver.
	TransitionRide(ctx context.Context, rideID, driverID string, from []models.RideStatus, to models.RideStatus) (*models.Ride, error)

	// CancelRide cancels a non-terminal ride, guarded by rider
	// ownership.
	CancelRide(ctx context.Context, rideID, clientID string) (*models.Ride, error)

	// UpdateTelemetry overwrites the ride's live driver position.
	// Writes against non-active rides match zero rows and return
	// ErrConflict.
	UpdateTelemetry(ctx context.Context, p models.PositionPush) error

	UpsertOffer(ctx context.Context, o *models.RideOffer) error
	GetOffer(ctx context.Context, rideID, driverID string) (*models.RideOffer, error)
	ListOffers(ctx context.Context, rideID string) ([]models.RideOffer, error)
	// CounterOffer sets the rider's counter price on a pending offer.
	CounterOffer(ctx context.Context, rideID, driverID string, price float64) (*models.RideOffer, error)
	// MarkOfferAccepted flags the winning offer and rejects the rest.
	MarkOfferAccepted(ctx context.Context, rideID, driverID string) error
}
