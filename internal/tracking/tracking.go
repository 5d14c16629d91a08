package tracking

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/observability"
	"github.com/example/city-rides/internal/storage"
)

// TelemetryPublisher forwards accepted position samples to the
// telemetry pipeline. Pipeline failures never fail the push.
type TelemetryPublisher interface {
	PublishPosition(ctx context.Context, push models.PositionPush) error
}

// EventPublisher fans position updates out to connected watchers.
type EventPublisher interface {
	Publish(models.Event)
}

// Snapshot is the rider-facing view of an active trip: where the
// driver is and roughly how long until they reach the current target.
type Snapshot struct {
	RideID     string            `json:"ride_id"`
	Status     models.RideStatus `json:"status"`
	Driver     *models.GeoPoint  `json:"driver,omitempty"`
	SpeedKmh   *float64          `json:"speed_kmh,omitempty"`
	Heading    *float64          `json:"heading,omitempty"`
	Target     models.GeoPoint   `json:"target"`
	TargetKind string            `json:"target_kind"`
	DistanceKm *float64          `json:"distance_km,omitempty"`
	EtaMinutes *int              `json:"eta_minutes,omitempty"`
	PositionAt *time.Time        `json:"position_at,omitempty"`
}

// Service applies driver telemetry with overwrite semantics and
// serves trip snapshots.
type Service struct {
	Store            storage.RideStore
	Telemetry        TelemetryPublisher
	Events           EventPublisher
	MaxAccuracyM     float64
	MinInterval      time.Duration
	DefaultSpeedKmh  float64
	MinReportedSpeed float64
	Logger           *slog.Logger

	now func() time.Time
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Push records one driver position sample. The returned bool reports
// whether the sample was written; noisy or too-frequent samples are
// suppressed without error. Only the assigned driver of an active
// ride may push.
func (s *Service) Push(ctx context.Context, push models.PositionPush) (bool, error) {
	r, err := s.Store.GetRide(ctx, push.RideID)
	if err != nil {
		return false, err
	}
	if !r.Status.Active() || r.DriverID == nil || *r.DriverID != push.DriverID {
		return false, storage.ErrConflict
	}

	if push.AccuracyM != nil && *push.AccuracyM > s.MaxAccuracyM {
		observability.TelemetryDrops.Inc()
		s.Logger.Debug("position suppressed, accuracy too coarse", "ride_id", push.RideID, "accuracy_m", *push.AccuracyM)
		return false, nil
	}
	now := s.clock()
	if r.DriverUpdatedAt != nil && now.Sub(*r.DriverUpdatedAt) < s.MinInterval {
		observability.TelemetryDrops.Inc()
		return false, nil
	}

	if push.At.IsZero() {
		push.At = now
	}
	if err := s.Store.UpdateTelemetry(ctx, push); err != nil {
		return false, err
	}
	observability.TelemetryWrites.Inc()

	if s.Telemetry != nil {
		if err := s.Telemetry.PublishPosition(ctx, push); err != nil {
			s.Logger.Warn("telemetry publish failed", "ride_id", push.RideID, "error", err)
		}
	}
	if s.Events != nil {
		s.Events.Publish(models.Event{
			Type:     models.EventDriverPosition,
			RideID:   r.ID,
			ClientID: r.ClientID,
			DriverID: push.DriverID,
			At:       push.At,
		})
	}
	return true, nil
}

// Track builds the current snapshot for a ride. Before the trip
// starts the target is the pickup point; once in progress it is the
// dropoff.
func (s *Service) Track(ctx context.Context, rideID string) (*Snapshot, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		RideID:     r.ID,
		Status:     r.Status,
		Target:     r.Pickup.Point,
		TargetKind: "pickup",
		SpeedKmh:   r.DriverSpeedKmh,
		Heading:    r.DriverHeading,
		PositionAt: r.DriverUpdatedAt,
	}
	if r.Status == models.StatusInProgress {
		snap.Target = r.Dropoff.Point
		snap.TargetKind = "dropoff"
	}

	if r.DriverLat == nil || r.DriverLng == nil {
		return snap, nil
	}
	driver := models.GeoPoint{Lat: *r.DriverLat, Lng: *r.DriverLng}
	snap.Driver = &driver

	distance := geo.Haversine(driver, snap.Target)
	snap.DistanceKm = &distance
	if distance <= 0 {
		return snap, nil
	}

	speed := s.DefaultSpeedKmh
	if r.DriverSpeedKmh != nil && *r.DriverSpeedKmh > s.MinReportedSpeed {
		speed = *r.DriverSpeedKmh
	}
	eta := int(math.Ceil(distance / speed * 60))
	snap.EtaMinutes = &eta
	return snap, nil
}
