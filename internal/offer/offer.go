package offer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/observability"
	"github.com/example/city-rides/internal/storage"
)

var (
	ErrOffersDisabled = errors.New("ride does not accept driver offers")
	ErrNoAgreedPrice  = errors.New("no agreed price to accept")
)

// Publisher delivers negotiation events to connected participants.
type Publisher interface {
	Publish(models.Event)
}

// Service runs price negotiation on dynamic-price rides. Offers only
// matter while the ride is pending; once a ride leaves pending every
// late negotiation write observes a conflict.
type Service struct {
	Store  storage.RideStore
	Events Publisher
	Logger *slog.Logger
}

// Submit records a driver's bid. Re-submitting replaces the previous
// bid and discards any counter on it.
func (s *Service) Submit(ctx context.Context, rideID, driverID string, price float64) (*models.RideOffer, error) {
	if price <= 0 {
		return nil, fmt.Errorf("offer price must be positive")
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !r.AllowDriverOffers {
		return nil, ErrOffersDisabled
	}
	if r.Status != models.StatusPending {
		return nil, storage.ErrConflict
	}

	o := &models.RideOffer{RideID: rideID, DriverID: driverID, PriceOffer: price}
	if err := s.Store.UpsertOffer(ctx, o); err != nil {
		return nil, err
	}
	s.emit(models.EventOfferSubmitted, r, o)
	s.Logger.Info("offer submitted", "ride_id", rideID, "driver_id", driverID, "price", price)
	return o, nil
}

// Counter lets the owning rider name a different price on a driver's
// bid.
func (s *Service) Counter(ctx context.Context, rideID, clientID, driverID string, price float64) (*models.RideOffer, error) {
	if price <= 0 {
		return nil, fmt.Errorf("counter price must be positive")
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.ClientID != clientID {
		return nil, storage.ErrConflict
	}
	if r.Status != models.StatusPending {
		return nil, storage.ErrConflict
	}

	o, err := s.Store.CounterOffer(ctx, rideID, driverID, price)
	if err != nil {
		return nil, err
	}
	s.emit(models.EventOfferCountered, r, o)
	s.Logger.Info("offer countered", "ride_id", rideID, "driver_id", driverID, "price", price)
	return o, nil
}

// Accept settles the negotiation for a driver. The agreed price is
// the rider's counter when one exists, otherwise the driver's own
// bid, otherwise the fixed offer the rider attached at creation. The
// ride assignment itself rides on the same conditional accept write
// as direct dispatch, so exactly one settlement can win.
func (s *Service) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	agreed, err := s.agreedPrice(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}

	r, err := s.Store.AcceptRide(ctx, rideID, driverID, &agreed)
	if err != nil {
		return nil, err
	}
	if err := s.Store.MarkOfferAccepted(ctx, rideID, driverID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Warn("offer settle mark failed", "ride_id", rideID, "error", err)
	}

	observability.AcceptsWon.Inc()
	s.emit(models.EventOfferAccepted, r, nil)
	s.emit(models.EventDriverAssigned, r, nil)
	s.Logger.Info("offer accepted", "ride_id", rideID, "driver_id", driverID, "final_price", r.FinalPrice)
	return r, nil
}

// List returns every bid on a ride, oldest first.
func (s *Service) List(ctx context.Context, rideID string) ([]models.RideOffer, error) {
	return s.Store.ListOffers(ctx, rideID)
}

func (s *Service) agreedPrice(ctx context.Context, rideID, driverID string) (float64, error) {
	o, err := s.Store.GetOffer(ctx, rideID, driverID)
	switch {
	case err == nil:
		if o.ClientCounterPrice != nil {
			return *o.ClientCounterPrice, nil
		}
		return o.PriceOffer, nil
	case errors.Is(err, storage.ErrNotFound):
		r, getErr := s.Store.GetRide(ctx, rideID)
		if getErr != nil {
			return 0, getErr
		}
		if r.ClientOfferPrice != nil {
			return *r.ClientOfferPrice, nil
		}
		return 0, ErrNoAgreedPrice
	default:
		return 0, err
	}
}

func (s *Service) emit(t models.EventType, r *models.Ride, o *models.RideOffer) {
	if s.Events == nil {
		return
	}
	e := models.Event{Type: t, RideID: r.ID, ClientID: r.ClientID, At: time.Now(), Ride: r, Offer: o}
	if o != nil {
		e.DriverID = o.DriverID
	} else if r.DriverID != nil {
		e.DriverID = *r.DriverID
	}
	s.Events.Publish(e)
}
