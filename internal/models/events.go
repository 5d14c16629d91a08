package models

import "time"

// EventType enumerates the domain events the core emits. Presentation
// concerns (sounds, OS notifications) live entirely outside the core;
// subscribers react to these.
type EventType string

const (
	EventRideCreated     EventType = "ride_created"
	EventDriverAssigned  EventType = "driver_assigned"
	EventDriverArrived   EventType = "driver_arrived"
	EventTripStarted     EventType = "trip_started"
	EventTripCompleted   EventType = "trip_completed"
	EventRideCancelled   EventType = "ride_cancelled"
	EventOfferSubmitted  EventType = "offer_submitted"
	EventOfferCountered  EventType = "offer_countered"
	EventOfferAccepted   EventType = "offer_accepted"
	EventDriverPosition  EventType = "driver_position"
)

// Event is delivered over the push channel to the ride's participants,
// scoped by client and driver id. Delivery is at-least-once with
// possible misses; polling reconciles.
type Event struct {
	Type     EventType  `json:"type"`
	RideID   string     `json:"ride_id"`
	ClientID string     `json:"client_id,omitempty"`
	DriverID string     `json:"driver_id,omitempty"`
	At       time.Time  `json:"at"`
	Ride     *Ride      `json:"ride,omitempty"`
	Offer    *RideOffer `json:"offer,omitempty"`
}
