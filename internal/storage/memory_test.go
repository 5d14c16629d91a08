package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/city-rides/internal/models"
)

func newRide(id string) *models.Ride {
	return &models.Ride{
		ID:       id,
		ClientID: "client-1",
		Pickup: models.ResolvedLocation{
			Point:   models.GeoPoint{Lat: 43.238, Lng: 76.889},
			Address: "Abay Ave 10",
			City:    "Almaty",
		},
		Dropoff: models.ResolvedLocation{
			Point:   models.GeoPoint{Lat: 43.25, Lng: 76.92},
			Address: "Dostyk Ave 5",
			City:    "Almaty",
		},
		DistanceKm: 3.2,
		Passengers: 1,
		BasePrice:  1200,
		FinalPrice: 1200,
		Currency:   "KZT",
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
}

func TestAcceptRideSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateRide(ctx, newRide("ride-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const drivers = 32
	var wg sync.WaitGroup
	wins := make(chan string, drivers)
	losses := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.AcceptRide(ctx, "ride-1", fmt.Sprintf("driver-%d", n), nil)
			if err != nil {
				losses <- err
				return
			}
			wins <- fmt.Sprintf("driver-%d", n)
		}(i)
	}
	wg.Wait()
	close(wins)
	close(losses)

	if len(wins) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(wins))
	}
	for err := range losses {
		if !errors.Is(err, ErrRideTaken) {
			t.Fatalf("loser should see ErrRideTaken, got %v", err)
		}
	}

	got, err := store.GetRide(ctx, "ride-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusDriverAssigned {
		t.Fatalf("status = %s, want driver_assigned", got.Status)
	}
	if got.DriverID == nil || *got.DriverID != <-wins {
		t.Fatal("driver_id does not match the winner")
	}
	if got.AcceptedAt == nil {
		t.Fatal("accepted_at not set")
	}
}

func TestAcceptRideAgreedPrice(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateRide(ctx, newRide("ride-2")); err != nil {
		t.Fatalf("create: %v", err)
	}
	agreed := 1500.0
	got, err := store.AcceptRide(ctx, "ride-2", "driver-1", &agreed)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.FinalPrice != 1500 {
		t.Fatalf("final_price = %v, want 1500", got.FinalPrice)
	}
}

func TestAcceptRideMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.AcceptRide(context.Background(), "nope", "driver-1", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransitionRide(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateRide(ctx, newRide("ride-3")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.AcceptRide(ctx, "ride-3", "driver-1", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Wrong driver cannot advance the ride.
	_, err := store.TransitionRide(ctx, "ride-3", "driver-2",
		[]models.RideStatus{models.StatusDriverAssigned}, models.StatusDriverArrived)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("foreign driver: err = %v, want ErrConflict", err)
	}

	got, err := store.TransitionRide(ctx, "ride-3", "driver-1",
		[]models.RideStatus{models.StatusDriverAssigned}, models.StatusDriverArrived)
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if got.Status != models.StatusDriverArrived {
		t.Fatalf("status = %s", got.Status)
	}

	got, err = store.TransitionRide(ctx, "ride-3", "driver-1",
		[]models.RideStatus{models.StatusDriverArrived}, models.StatusInProgress)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.StartedAt == nil {
		t.Fatal("started_at not set")
	}

	// Repeating the same transition from a stale state fails.
	_, err = store.TransitionRide(ctx, "ride-3", "driver-1",
		[]models.RideStatus{models.StatusDriverArrived}, models.StatusInProgress)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale start: err = %v, want ErrConflict", err)
	}

	got, err = store.TransitionRide(ctx, "ride-3", "driver-1",
		[]models.RideStatus{models.StatusInProgress}, models.StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestCancelRide(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateRide(ctx, newRide("ride-4")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.CancelRide(ctx, "ride-4", "someone-else"); !errors.Is(err, ErrConflict) {
		t.Fatalf("foreign cancel: err = %v, want ErrConflict", err)
	}

	got, err := store.CancelRide(ctx, "ride-4", "client-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.StatusCancelled || got.CancelledAt == nil {
		t.Fatalf("status = %s, cancelled_at = %v", got.Status, got.CancelledAt)
	}

	// Terminal rides stay cancelled.
	if _, err := store.CancelRide(ctx, "ride-4", "client-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("double cancel: err = %v, want ErrConflict", err)
	}
}

func TestUpdateTelemetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateRide(ctx, newRide("ride-5")); err != nil {
		t.Fatalf("create: %v", err)
	}

	push := models.PositionPush{RideID: "ride-5", DriverID: "driver-1", Lat: 43.24, Lng: 76.9, At: time.Now()}
	if err := store.UpdateTelemetry(ctx, push); !errors.Is(err, ErrConflict) {
		t.Fatalf("pending ride should reject telemetry, got %v", err)
	}

	if _, err := store.AcceptRide(ctx, "ride-5", "driver-1", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := store.UpdateTelemetry(ctx, push); err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	got, _ := store.GetRide(ctx, "ride-5")
	if got.DriverLat == nil || *got.DriverLat != 43.24 {
		t.Fatalf("driver_lat = %v", got.DriverLat)
	}
	if got.DriverUpdatedAt == nil {
		t.Fatal("driver_updated_at not set")
	}

	other := push
	other.DriverID = "driver-2"
	if err := store.UpdateTelemetry(ctx, other); !errors.Is(err, ErrConflict) {
		t.Fatalf("foreign telemetry: err = %v, want ErrConflict", err)
	}
}

func TestListUnclaimedByCity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newRide("ride-a")
	a.CreatedAt = time.Now().Add(-2 * time.Minute)
	b := newRide("ride-b")
	b.CreatedAt = time.Now().Add(-1 * time.Minute)
	c := newRide("ride-c")
	c.Pickup.City = "Astana"
	for _, r := range []*models.Ride{a, b, c} {
		if err := store.CreateRide(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}
	if _, err := store.AcceptRide(ctx, "ride-a", "driver-9", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got, err := store.ListUnclaimedByCity(ctx, "almaty")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ride-b" {
		t.Fatalf("got %d rides, want just ride-b", len(got))
	}

	all, err := store.ListUnclaimed(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unclaimed = %d, want 2", len(all))
	}
	if all[0].ID != "ride-c" {
		t.Fatalf("expected newest first, got %s", all[0].ID)
	}
}

func TestOfferLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateRide(ctx, newRide("ride-6")); err != nil {
		t.Fatalf("create: %v", err)
	}

	o := &models.RideOffer{RideID: "ride-6", DriverID: "driver-1", PriceOffer: 1400}
	if err := store.UpsertOffer(ctx, o); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if o.Status != models.OfferPending {
		t.Fatalf("status = %s", o.Status)
	}

	countered, err := store.CounterOffer(ctx, "ride-6", "driver-1", 1300)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if countered.Status != models.OfferCountered || countered.ClientCounterPrice == nil || *countered.ClientCounterPrice != 1300 {
		t.Fatalf("counter state: %+v", countered)
	}

	// Re-submitting resets the negotiation.
	o2 := &models.RideOffer{RideID: "ride-6", DriverID: "driver-1", PriceOffer: 1350}
	if err := store.UpsertOffer(ctx, o2); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if o2.Status != models.OfferPending || o2.ClientCounterPrice != nil {
		t.Fatalf("re-upsert state: %+v", o2)
	}

	second := &models.RideOffer{RideID: "ride-6", DriverID: "driver-2", PriceOffer: 1600}
	if err := store.UpsertOffer(ctx, second); err != nil {
		t.Fatalf("upsert second: %v", err)
	}

	if err := store.MarkOfferAccepted(ctx, "ride-6", "driver-1"); err != nil {
		t.Fatalf("mark accepted: %v", err)
	}
	offers, err := store.ListOffers(ctx, "ride-6")
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	byDriver := map[string]models.OfferStatus{}
	for _, of := range offers {
		byDriver[of.DriverID] = of.Status
	}
	if byDriver["driver-1"] != models.OfferAccepted {
		t.Fatalf("winner status = %s", byDriver["driver-1"])
	}
	if byDriver["driver-2"] != models.OfferRejected {
		t.Fatalf("loser status = %s", byDriver["driver-2"])
	}

	if _, err := store.CounterOffer(ctx, "ride-6", "driver-2", 1200); !errors.Is(err, ErrConflict) {
		t.Fatalf("counter after settle: err = %v, want ErrConflict", err)
	}
}
