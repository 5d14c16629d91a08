package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/pricing"
	"github.com/example/city-rides/internal/ride"
)

type resolveRequest struct {
	Role          models.Role       `json:"role"`
	ParticipantID string            `json:"participant_id"`
	Fix           *models.DeviceFix `json:"fix,omitempty"`
}

func (s *Server) handleResolveLocation(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 400, "invalid_request", err.Error())
		return
	}
	if req.ParticipantID == "" || (req.Role != models.RoleRider && req.Role != models.RoleDriver) {
		writeErr(w, 400, "invalid_request", "participant_id and a valid role are required")
		return
	}
	res, err := s.Resolver.Resolve(r.Context(), req.Role, req.ParticipantID, req.Fix)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, res)
}

type manualLocationRequest struct {
	Role          models.Role              `json:"role"`
	ParticipantID string                   `json:"participant_id"`
	Query         string                   `json:"query,omitempty"`
	Location      *models.ResolvedLocation `json:"location,omitempty"`
}

func (s *Server) handleManualLocation(w http.ResponseWriter, r *http.Request) {
	var req manualLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 400, "invalid_request", err.Error())
		return
	}
	if req.ParticipantID == "" {
		writeErr(w, 400, "invalid_request", "participant_id required")
		return
	}

	var loc models.ResolvedLocation
	switch {
	case req.Query != "" && s.Resolver.Geocoder != nil:
		found, err := s.Resolver.Geocoder.Forward(r.Context(), req.Query)
		if err != nil {
			writeErr(w, 404, "not_found", "no match for query")
			return
		}
		loc = found
	case req.Location != nil:
		loc = *req.Location
	default:
		writeErr(w, 400, "invalid_request", "query or location required")
		return
	}

	s.Resolver.SaveManual(r.Context(), req.Role, req.ParticipantID, loc)
	writeJSON(w, 200, map[string]any{"location": loc, "source": models.SourceManual})
}

func (s *Server) handleGeofenceCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := q.Get("city")
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if city == "" || errLat != nil || errLng != nil {
		writeErr(w, 400, "invalid_request", "city, lat and lng are required")
		return
	}

	candidate := models.ResolvedLocation{
		Point:   models.GeoPoint{Lat: lat, Lng: lng},
		City:    q.Get("candidate_city"),
		Address: q.Get("address"),
	}
	lock, err := s.Fence.LockCity(r.Context(), city, candidate.Point)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if err := s.Fence.IsAllowed(candidate, lock); err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"allowed": true, "city": lock.City, "radius_km": lock.RadiusKm})
}

type createRideRequest struct {
	ClientID          string                  `json:"client_id"`
	Pickup            models.ResolvedLocation `json:"pickup"`
	Dropoff           models.ResolvedLocation `json:"dropoff"`
	Passengers        int                     `json:"passengers"`
	Currency          string                  `json:"currency"`
	PaymentMethod     string                  `json:"payment_method"`
	AllowDriverOffers bool                    `json:"allow_driver_offers"`
	ClientOfferPrice  *float64                `json:"client_offer_price,omitempty"`
	PriceMode         pricing.Mode            `json:"price_mode"`
	FixedAmount       float64                 `json:"fixed_amount,omitempty"`
	PricePerKm        float64                 `json:"price_per_km,omitempty"`
	LockCity          string                  `json:"lock_city,omitempty"`
	ViewerCountry     string                  `json:"viewer_country,omitempty"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, 400, "invalid_request", err.Error())
		return
	}

	created, err := s.Rides.Create(r.Context(), ride.CreateInput{
		ClientID:          req.ClientID,
		Pickup:            req.Pickup,
		Dropoff:           req.Dropoff,
		Passengers:        req.Passengers,
		Currency:          req.Currency,
		PaymentMethod:     req.PaymentMethod,
		AllowDriverOffers: req.AllowDriverOffers,
		ClientOfferPrice:  req.ClientOfferPrice,
		PriceMode:         req.PriceMode,
		FixedAmount:       req.FixedAmount,
		PricePerKm:        req.PricePerKm,
		LockCity:          req.LockCity,
	})
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	display := s.Pricer.Localize(r.Context(), created.FinalPrice, created.Currency, req.ViewerCountry)
	writeJSON(w, 201, map[string]any{"ride": created, "price": display})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	got, err := s.Rides.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, got)
}

type participantRequest struct {
	ClientID string `json:"client_id,omitempty"`
	DriverID string `json:"driver_id,omitempty"`
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeErr(w, 400, "invalid_request", "client_id required")
		return
	}
	got, err := s.Rides.Cancel(r.Context(), mux.Vars(r)["id"], req.ClientID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, got)
}

func (s *Server) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var point *models.GeoPoint
	if q.Get("lat") != "" && q.Get("lng") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
		if errLat != nil || errLng != nil {
			writeErr(w, 400, "invalid_request", "bad coordinates")
			return
		}
		point = &models.GeoPoint{Lat: lat, Lng: lng}
	}

	rides, err := s.Matcher.ListAvailable(r.Context(), q.Get("city"), point)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if rides == nil {
		rides = []models.Ride{}
	}
	writeJSON(w, 200, map[string]any{"rides": rides})
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeErr(w, 400, "invalid_request", "driver_id required")
		return
	}
	got, err := s.Matcher.Accept(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, got)
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.Rides.Arrived)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.Rides.Start)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.Rides.Complete)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, rideID, driverID string) (*models.Ride, error)) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeErr(w, 400, "invalid_request", "driver_id required")
		return
	}
	got, err := fn(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, got)
}

type offerRequest struct {
	ClientID string  `json:"client_id,omitempty"`
	DriverID string  `json:"driver_id"`
	Price    float64 `json:"price,omitempty"`
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeErr(w, 400, "invalid_request", "driver_id required")
		return
	}
	o, err := s.Offers.Submit(r.Context(), mux.Vars(r)["id"], req.DriverID, req.Price)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 201, o)
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.Offers.List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	if offers == nil {
		offers = []models.RideOffer{}
	}
	writeJSON(w, 200, map[string]any{"offers": offers})
}

func (s *Server) handleCounterOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" || req.ClientID == "" {
		writeErr(w, 400, "invalid_request", "client_id and driver_id required")
		return
	}
	o, err := s.Offers.Counter(r.Context(), mux.Vars(r)["id"], req.ClientID, req.DriverID, req.Price)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, o)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeErr(w, 400, "invalid_request", "driver_id required")
		return
	}
	got, err := s.Offers.Accept(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, got)
}

type positionRequest struct {
	DriverID  string   `json:"driver_id"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	SpeedKmh  *float64 `json:"speed_kmh,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

func (s *Server) handlePushPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeErr(w, 400, "invalid_request", "driver_id required")
		return
	}
	written, err := s.Tracking.Push(r.Context(), models.PositionPush{
		RideID:    mux.Vars(r)["id"],
		DriverID:  req.DriverID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		SpeedKmh:  req.SpeedKmh,
		Heading:   req.Heading,
		AccuracyM: req.AccuracyM,
	})
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"written": written})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Tracking.Track(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	writeJSON(w, 200, snap)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["participant_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client.
		s.logger.Debug("websocket upgrade failed", "participant_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)

	// Drain control frames until the peer hangs up.
	go func() {
		defer s.WSReg.Remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
