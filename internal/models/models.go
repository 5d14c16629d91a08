package models

import "time"

// GeoPoint is a latitude/longitude pair. The two values are only
// meaningful together.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ResolvedLocation is a geocoded point. City may be "Unknown" when
// reverse geocoding yielded nothing usable.
type ResolvedLocation struct {
	Point       GeoPoint `json:"point"`
	Address     string   `json:"address"`
	City        string   `json:"city"`
	CountryCode string   `json:"country_code,omitempty"`
}

// LocationSource tags how a cached location was obtained.
type LocationSource string

const (
	SourceGPS    LocationSource = "gps"
	SourceManual LocationSource = "manual"
	SourceIP     LocationSource = "ip"
)

// Role distinguishes the two participant kinds; cache TTLs differ per role.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

type RideStatus string

const (
	StatusPending        RideStatus = "pending"
	StatusDriverAssigned RideStatus = "driver_assigned"
	StatusDriverArrived  RideStatus = "driver_arrived"
	StatusInProgress     RideStatus = "in_progress"
	StatusCompleted      RideStatus = "completed"
	StatusCancelled      RideStatus = "cancelled"
)

// Terminal reports whether no further transitions or telemetry writes
// are accepted for a ride in this status.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a driver is en route or carrying the rider,
// i.e. whether live telemetry is accepted.
func (s RideStatus) Active() bool {
	return s == StatusDriverAssigned || s == StatusDriverArrived || s == StatusInProgress
}

// Ride is the central entity. DriverID stays nil while pending and is
// set exactly once, atomically with the transition to driver_assigned.
type Ride struct {
	ID       string  `json:"id"`
	ClientID string  `json:"client_id"`
	DriverID *string `json:"driver_id,omitempty"`

	Pickup     ResolvedLocation `json:"pickup"`
	Dropoff    ResolvedLocation `json:"dropoff"`
	DistanceKm float64          `json:"distance_km"`

	Passengers        int      `json:"passengers"`
	BasePrice         float64  `json:"base_price"`
	FinalPrice        float64  `json:"final_price"`
	Currency          string   `json:"currency"`
	AllowDriverOffers bool     `json:"allow_driver_offers"`
	ClientOfferPrice  *float64 `json:"client_offer_price,omitempty"`
	PaymentMethod     string   `json:"payment_method"`

	Status RideStatus `json:"status"`

	DriverLat       *float64   `json:"driver_lat,omitempty"`
	DriverLng       *float64   `json:"driver_lng,omitempty"`
	DriverSpeedKmh  *float64   `json:"driver_speed_kmh,omitempty"`
	DriverHeading   *float64   `json:"driver_heading,omitempty"`
	DriverUpdatedAt *time.Time `json:"driver_updated_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferCountered OfferStatus = "countered"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
)

// RideOffer is one driver's bid on a dynamic-price ride. There is at
// most one per (ride, driver) pair; resubmitting replaces it.
type RideOffer struct {
	RideID             string      `json:"ride_id"`
	DriverID           string      `json:"driver_id"`
	PriceOffer         float64     `json:"price_offer"`
	ClientCounterPrice *float64    `json:"client_counter_price,omitempty"`
	Status             OfferStatus `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// PositionPush is a driver's telemetry sample for an active ride.
type PositionPush struct {
	RideID    string    `json:"ride_id"`
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	SpeedKmh  *float64  `json:"speed_kmh,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	AccuracyM *float64  `json:"accuracy_m,omitempty"`
	At        time.Time `json:"at"`
}

// DeviceFix is a client-reported device positioning result.
type DeviceFix struct {
	Point     GeoPoint `json:"point"`
	AccuracyM float64  `json:"accuracy_m"`
}
