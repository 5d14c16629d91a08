package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/storage"
)

func activeRide(t *testing.T, store storage.RideStore) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:       "ride-1",
		ClientID: "client-1",
		Pickup: models.ResolvedLocation{
			Point: models.GeoPoint{Lat: 43.238, Lng: 76.889}, City: "Almaty",
		},
		Dropoff: models.ResolvedLocation{
			Point: models.GeoPoint{Lat: 43.30, Lng: 76.95}, City: "Almaty",
		},
		Passengers: 1,
		FinalPrice: 1200,
		Currency:   "KZT",
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
	ctx := context.Background()
	if err := store.CreateRide(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	accepted, err := store.AcceptRide(ctx, r.ID, "driver-1", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return accepted
}

func newService(store storage.RideStore, now func() time.Time) *Service {
	return &Service{
		Store:            store,
		MaxAccuracyM:     500,
		MinInterval:      5 * time.Second,
		DefaultSpeedKmh:  30,
		MinReportedSpeed: 3,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:              now,
	}
}

func TestPushWritesPosition(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)
	svc := newService(store, nil)

	speed := 38.0
	written, err := svc.Push(context.Background(), models.PositionPush{
		RideID: r.ID, DriverID: "driver-1", Lat: 43.24, Lng: 76.90, SpeedKmh: &speed,
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !written {
		t.Fatal("push should be written")
	}

	got, _ := store.GetRide(context.Background(), r.ID)
	if got.DriverLat == nil || *got.DriverLat != 43.24 {
		t.Fatalf("driver_lat = %v", got.DriverLat)
	}
	if got.DriverUpdatedAt == nil {
		t.Fatal("driver_updated_at not set")
	}
}

func TestPushSuppressesCoarseFix(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)
	svc := newService(store, nil)

	acc := 900.0
	written, err := svc.Push(context.Background(), models.PositionPush{
		RideID: r.ID, DriverID: "driver-1", Lat: 43.24, Lng: 76.90, AccuracyM: &acc,
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if written {
		t.Fatal("coarse fix must be suppressed, not written")
	}
	got, _ := store.GetRide(context.Background(), r.ID)
	if got.DriverLat != nil {
		t.Fatal("suppressed fix leaked into the ride")
	}
}

func TestPushThrottle(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)

	base := time.Now()
	current := base
	svc := newService(store, func() time.Time { return current })
	ctx := context.Background()

	if written, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: 43.24, Lng: 76.90}); err != nil || !written {
		t.Fatalf("first push: written=%v err=%v", written, err)
	}

	current = base.Add(2 * time.Second)
	written, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: 43.25, Lng: 76.91})
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if written {
		t.Fatal("push inside the minimum interval must be dropped")
	}

	current = base.Add(6 * time.Second)
	written, err = svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: 43.25, Lng: 76.91})
	if err != nil || !written {
		t.Fatalf("third push: written=%v err=%v", written, err)
	}
	got, _ := store.GetRide(ctx, r.ID)
	if *got.DriverLat != 43.25 {
		t.Fatalf("last write should win, lat = %v", *got.DriverLat)
	}
}

func TestPushGuards(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)
	svc := newService(store, nil)
	ctx := context.Background()

	if _, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-2", Lat: 1, Lng: 1}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("foreign driver err = %v, want ErrConflict", err)
	}

	if _, err := store.TransitionRide(ctx, r.ID, "driver-1",
		[]models.RideStatus{models.StatusDriverAssigned}, models.StatusInProgress); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := store.TransitionRide(ctx, r.ID, "driver-1",
		[]models.RideStatus{models.StatusInProgress}, models.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: 1, Lng: 1}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("terminal push err = %v, want ErrConflict", err)
	}
}

func TestTrackTargetsAndEta(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)
	svc := newService(store, nil)
	ctx := context.Background()

	// No position yet: snapshot renders without distance or ETA.
	snap, err := svc.Track(ctx, r.ID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if snap.TargetKind != "pickup" || snap.Driver != nil || snap.EtaMinutes != nil {
		t.Fatalf("bare snapshot: %+v", snap)
	}

	speed := 38.0
	if _, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: 43.20, Lng: 76.85, SpeedKmh: &speed}); err != nil {
		t.Fatalf("push: %v", err)
	}

	snap, err = svc.Track(ctx, r.ID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if snap.DistanceKm == nil || snap.EtaMinutes == nil {
		t.Fatalf("snapshot missing distance/eta: %+v", snap)
	}
	firstEta := *snap.EtaMinutes

	// After the trip starts the target flips to the dropoff.
	if _, err := store.TransitionRide(ctx, r.ID, "driver-1",
		[]models.RideStatus{models.StatusDriverAssigned}, models.StatusInProgress); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err = svc.Track(ctx, r.ID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if snap.TargetKind != "dropoff" || snap.Target != r.Dropoff.Point {
		t.Fatalf("target after start: %+v", snap)
	}

	if firstEta <= 0 {
		t.Fatalf("eta = %d, want positive", firstEta)
	}
}

func TestTrackEtaSpeedFloor(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)
	svc := newService(store, nil)
	ctx := context.Background()

	// A crawl below the reliable threshold falls back to the default
	// speed so the ETA stays bounded.
	crawl := 1.5
	if _, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: 43.25, Lng: 76.90, SpeedKmh: &crawl}); err != nil {
		t.Fatalf("push: %v", err)
	}
	snap, err := svc.Track(ctx, r.ID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if snap.EtaMinutes == nil {
		t.Fatal("eta missing")
	}
	wantMax := int(*snap.DistanceKm/30*60) + 1
	if *snap.EtaMinutes > wantMax {
		t.Fatalf("eta = %d, want at most %d from the 30 km/h floor", *snap.EtaMinutes, wantMax)
	}
}

func TestTrackZeroDistanceNoEta(t *testing.T) {
	store := storage.NewMemoryStore()
	r := activeRide(t, store)
	svc := newService(store, nil)
	ctx := context.Background()

	// Driver is exactly at the pickup point.
	if _, err := svc.Push(ctx, models.PositionPush{RideID: r.ID, DriverID: "driver-1", Lat: r.Pickup.Point.Lat, Lng: r.Pickup.Point.Lng}); err != nil {
		t.Fatalf("push: %v", err)
	}
	snap, err := svc.Track(ctx, r.ID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if snap.EtaMinutes != nil {
		t.Fatalf("eta = %v, want absent at zero distance", *snap.EtaMinutes)
	}
}
