package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/city-rides/internal/models"
)

// MemoryStore keeps rides in process memory. It mirrors the Postgres
// store's conditional-write semantics under one mutex, which makes it
// the reference implementation for the race guarantees in tests and a
// fallback when no PG_DSN is configured.
type MemoryStore struct {
	mu     sync.Mutex
	rides  map[string]*models.Ride
	offers map[string]map[string]*models.RideOffer // rideID -> driverID -> offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[string]*models.Ride),
		offers: make(map[string]map[string]*models.RideOffer),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListUnclaimedByCity(_ context.Context, city string) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(city))
	var out []models.Ride
	for _, r := range m.rides {
		if r.Status != models.StatusPending || r.DriverID != nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(r.Pickup.City), needle) {
			continue
		}
		out = append(out, *r)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListUnclaimed(_ context.Context) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.Status != models.StatusPending || r.DriverID != nil {
			continue
		}
		out = append(out, *r)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(rides []models.Ride) {
	sort.Slice(rides, func(i, j int) bool { return rides[i].CreatedAt.After(rides[j].CreatedAt) })
}

func (m *MemoryStore) AcceptRide(_ context.Context, rideID, driverID string, agreedPrice *float64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.StatusPending || r.DriverID != nil {
		return nil, ErrRideTaken
	}
	now := time.Now()
	d := driverID
	r.DriverID = &d
	r.Status = models.StatusDriverAssigned
	r.AcceptedAt = &now
	if agreedPrice != nil {
		r.FinalPrice = *agreedPrice
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) TransitionRide(_ context.Context, rideID, driverID string, from []models.RideStatus, to models.RideStatus) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.DriverID == nil || *r.DriverID != driverID || !statusIn(r.Status, from) {
		return nil, ErrConflict
	}
	now := time.Now()
	r.Status = to
	switch to {
	case models.StatusInProgress:
		r.StartedAt = &now
	case models.StatusCompleted:
		r.CompletedAt = &now
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CancelRide(_ context.Context, rideID, clientID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.ClientID != clientID || r.Status.Terminal() {
		return nil, ErrConflict
	}
	now := time.Now()
	r.Status = models.StatusCancelled
	r.CancelledAt = &now
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateTelemetry(_ context.Context, p models.PositionPush) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[p.RideID]
	if !ok {
		return ErrNotFound
	}
	if !r.Status.Active() || r.DriverID == nil || *r.DriverID != p.DriverID {
		return ErrConflict
	}
	at := p.At
	lat, lng := p.Lat, p.Lng
	r.DriverLat = &lat
	r.DriverLng = &lng
	r.DriverSpeedKmh = p.SpeedKmh
	r.DriverHeading = p.Heading
	r.DriverUpdatedAt = &at
	return nil
}

func (m *MemoryStore) UpsertOffer(_ context.Context, o *models.RideOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDriver, ok := m.offers[o.RideID]
	if !ok {
		byDriver = make(map[string]*models.RideOffer)
		m.offers[o.RideID] = byDriver
	}
	now := time.Now()
	if existing, ok := byDriver[o.DriverID]; ok {
		existing.PriceOffer = o.PriceOffer
		existing.ClientCounterPrice = nil
		existing.Status = models.OfferPending
		existing.UpdatedAt = now
		*o = *existing
		return nil
	}
	cp := *o
	cp.Status = models.OfferPending
	cp.CreatedAt = now
	cp.UpdatedAt = now
	byDriver[o.DriverID] = &cp
	*o = cp
	return nil
}

func (m *MemoryStore) GetOffer(_ context.Context, rideID, driverID string) (*models.RideOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.offers[rideID][driverID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListOffers(_ context.Context, rideID string) ([]models.RideOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RideOffer
	for _, o := range m.offers[rideID] {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CounterOffer(_ context.Context, rideID, driverID string, price float64) (*models.RideOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[rideID][driverID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != models.OfferPending && o.Status != models.OfferCountered {
		return nil, ErrConflict
	}
	p := price
	o.ClientCounterPrice = &p
	o.Status = models.OfferCountered
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) MarkOfferAccepted(_ context.Context, rideID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDriver, ok := m.offers[rideID]
	if !ok {
		return ErrNotFound
	}
	winner, ok := byDriver[driverID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	winner.Status = models.OfferAccepted
	winner.UpdatedAt = now
	for id, o := range byDriver {
		if id == driverID {
			continue
		}
		o.Status = models.OfferRejected
		o.UpdatedAt = now
	}
	return nil
}

func statusIn(s models.RideStatus, set []models.RideStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
