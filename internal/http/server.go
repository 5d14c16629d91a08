package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/city-rides/internal/dispatch"
	"github.com/example/city-rides/internal/geo"
	"github.com/example/city-rides/internal/location"
	"github.com/example/city-rides/internal/matcher"
	"github.com/example/city-rides/internal/observability"
	"github.com/example/city-rides/internal/offer"
	"github.com/example/city-rides/internal/pricing"
	"github.com/example/city-rides/internal/ride"
	"github.com/example/city-rides/internal/storage"
	"github.com/example/city-rides/internal/tracking"
)

// Server is the HTTP surface over the ride-hailing core.
type Server struct {
	Resolver *location.Resolver
	Fence    *geo.Engine
	Pricer   *pricing.Engine
	Rides    *ride.Service
	Offers   *offer.Service
	Tracking *tracking.Service
	Matcher  *matcher.Service
	WSReg    *dispatch.Registry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger) *Server {
	s := &Server{logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/location/resolve", s.handleResolveLocation).Methods("POST")
	api.HandleFunc("/location/manual", s.handleManualLocation).Methods("POST")
	api.HandleFunc("/geofence/check", s.handleGeofenceCheck).Methods("GET")

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")

	api.HandleFunc("/dispatch/available", s.handleListAvailable).Methods("GET")
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods("POST")
	api.HandleFunc("/rides/{id}/arrived", s.handleArrived).Methods("POST")
	api.HandleFunc("/rides/{id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.handleComplete).Methods("POST")

	api.HandleFunc("/rides/{id}/offers", s.handleSubmitOffer).Methods("POST")
	api.HandleFunc("/rides/{id}/offers", s.handleListOffers).Methods("GET")
	api.HandleFunc("/rides/{id}/offers/counter", s.handleCounterOffer).Methods("POST")
	api.HandleFunc("/rides/{id}/offers/accept", s.handleAcceptOffer).Methods("POST")

	api.HandleFunc("/rides/{id}/position", s.handlePushPosition).Methods("POST")
	api.HandleFunc("/rides/{id}/track", s.handleTrack).Methods("GET")

	s.mux.HandleFunc("/ws/{participant_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type errorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	AllowedArea string `json:"allowed_area,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// writeDomainErr maps service errors onto the wire contract: lost
// conditional writes are 409s the client resolves by re-querying,
// geofence violations carry the allowed area, validation is 400.
func (s *Server) writeDomainErr(w http.ResponseWriter, err error) {
	var violation *geo.ViolationError
	switch {
	case errors.As(err, &violation):
		observability.GeofenceRejects.Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]errorBody{"error": {
			Code:        "outside_geofence",
			Message:     err.Error(),
			AllowedArea: violation.AllowedArea,
		}})
	case errors.Is(err, storage.ErrRideTaken):
		writeErr(w, http.StatusConflict, "ride_taken", "ride already taken")
	case errors.Is(err, storage.ErrConflict):
		writeErr(w, http.StatusConflict, "conflict", "ride state changed, re-query and retry deliberately")
	case errors.Is(err, storage.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "no such ride")
	case errors.Is(err, ride.ErrInvalidInput), errors.Is(err, offer.ErrOffersDisabled), errors.Is(err, offer.ErrNoAgreedPrice):
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, location.ErrNoLocation):
		writeErr(w, http.StatusNotFound, "no_location", "no location available")
	default:
		s.logger.Error("request failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
