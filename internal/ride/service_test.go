package ride

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/city-rides/internal/cache"
	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/pricing"
	"github.com/example/city-rides/internal/storage"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *capturedEvents) Publish(e models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturedEvents) types() []models.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type boundsGeocoder struct{}

func (boundsGeocoder) CityBounds(_ context.Context, _ string) (models.GeoPoint, geo.Bounds, error) {
	center := models.GeoPoint{Lat: 43.238, Lng: 76.889}
	return center, geo.Bounds{MinLat: 43.10, MinLng: 76.70, MaxLat: 43.35, MaxLng: 77.05}, nil
}

func almatySpot(lat, lng float64) models.ResolvedLocation {
	return models.ResolvedLocation{
		Point: models.GeoPoint{Lat: lat, Lng: lng},
		City:  "Almaty",
	}
}

func newService(t *testing.T) (*Service, *capturedEvents) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := &capturedEvents{}
	svc := &Service{
		Store:  storage.NewMemoryStore(),
		Fence:  geo.NewEngine(boundsGeocoder{}, cache.NewMemory(), 12*time.Hour, logger),
		Pricer: &pricing.Engine{},
		Events: events,
		Logger: logger,
	}
	return svc, events
}

func createInput() CreateInput {
	return CreateInput{
		ClientID:   "client-1",
		Pickup:     almatySpot(43.238, 76.889),
		Dropoff:    almatySpot(43.25, 76.95),
		Passengers: 1,
		Currency:   "KZT",
		PriceMode:  pricing.ModeDistance,
		PricePerKm: 150,
		LockCity:   "Almaty",
	}
}

func TestCreateRide(t *testing.T) {
	svc, events := newService(t)
	r, err := svc.Create(context.Background(), createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending", r.Status)
	}
	if r.DistanceKm <= 0 {
		t.Fatalf("distance = %v", r.DistanceKm)
	}
	if r.FinalPrice != r.BasePrice || r.FinalPrice <= 0 {
		t.Fatalf("price = %v / %v", r.BasePrice, r.FinalPrice)
	}
	// KZT has no minor units.
	if r.FinalPrice != float64(int64(r.FinalPrice)) {
		t.Fatalf("KZT price not integral: %v", r.FinalPrice)
	}
	got := events.types()
	if len(got) != 1 || got[0] != models.EventRideCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestCreateRideValidation(t *testing.T) {
	svc, _ := newService(t)
	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing client", func(in *CreateInput) { in.ClientID = "" }},
		{"missing pickup", func(in *CreateInput) { in.Pickup.Point = models.GeoPoint{} }},
		{"zero rate", func(in *CreateInput) { in.PricePerKm = 0 }},
		{"negative offer", func(in *CreateInput) { p := -5.0; in.ClientOfferPrice = &p }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := createInput()
			tc.mutate(&in)
			if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCreateRideGeofence(t *testing.T) {
	svc, _ := newService(t)
	in := createInput()
	// Astana is roughly 970 km from the Almaty lock center.
	in.Dropoff = models.ResolvedLocation{Point: models.GeoPoint{Lat: 51.16, Lng: 71.47}, City: "Astana"}

	_, err := svc.Create(context.Background(), in)
	var violation *geo.ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("err = %v, want geofence violation", err)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, events := newService(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Assignment happens through the matcher's atomic accept.
	if _, err := svc.Store.AcceptRide(ctx, r.ID, "driver-1", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := svc.Arrived(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("arrived: %v", err)
	}
	if _, err := svc.Start(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := svc.Complete(ctx, r.ID, "driver-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("final state: %+v", done)
	}

	got := events.types()
	want := []models.EventType{
		models.EventRideCreated,
		models.EventDriverArrived,
		models.EventTripStarted,
		models.EventTripCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStartFromAssigned(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	r, _ := svc.Create(ctx, createInput())
	if _, err := svc.Store.AcceptRide(ctx, r.ID, "driver-1", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Arrival is optional; a trip may start straight from assignment.
	if _, err := svc.Start(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	r, _ := svc.Create(ctx, createInput())
	if _, err := svc.Store.AcceptRide(ctx, r.ID, "driver-1", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Complete(ctx, r.ID, "driver-1"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCancelAfterCompleteRejected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	r, _ := svc.Create(ctx, createInput())
	if _, err := svc.Store.AcceptRide(ctx, r.ID, "driver-1", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Start(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Complete(ctx, r.ID, "driver-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Cancel(ctx, r.ID, "client-1"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestTransitionTable(t *testing.T) {
	if !CanTransition(models.StatusPending, models.StatusDriverAssigned) {
		t.Fatal("pending -> driver_assigned should be legal")
	}
	if CanTransition(models.StatusCompleted, models.StatusCancelled) {
		t.Fatal("completed is terminal")
	}
	if CanTransition(models.StatusPending, models.StatusInProgress) {
		t.Fatal("pending cannot skip to in_progress")
	}
	for _, terminal := range []models.RideStatus{models.StatusCompleted, models.StatusCancelled} {
		if len(AllowedTransitions[terminal]) != 0 {
			t.Fatalf("%s must have no outgoing transitions", terminal)
		}
	}
}
