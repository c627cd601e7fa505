package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
)

const defaultRadiusKm = 10

type Server struct {
	Rides  *ride.Service
	Gate   *auth.Gate
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(rides *ride.Service, gate *auth.Gate, logger *slog.Logger) *Server {
	s := &Server{Rides: rides, Gate: gate, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/readyz", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/rides", s.authed(s.handleCreate, auth.RoleRider, auth.RoleAdmin)).Methods("POST")
	s.mux.HandleFunc("/rides", s.authed(s.handleListByRider)).Methods("GET")
	s.mux.HandleFunc("/rides/available", s.authed(s.handleAvailable, auth.RoleDriver, auth.RoleAdmin)).Methods("GET")
	s.mux.HandleFunc("/rides/{id}", s.authed(s.handleGet)).Methods("GET")
	s.mux.HandleFunc("/rides/{id}/assign", s.authed(s.handleClaim, auth.RoleDriver)).Methods("POST")
	s.mux.HandleFunc("/rides/{id}/driver-location", s.authed(s.handleDriverLocation, auth.RoleDriver)).Methods("PATCH")
	s.mux.HandleFunc("/rides/{id}/verify-pin", s.authed(s.handleVerifyPIN, auth.RoleDriver)).Methods("POST")
	s.mux.HandleFunc("/rides/{id}/status", s.authed(s.handleStatus)).Methods("PATCH")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Rides.Store.Ping(ctx); err != nil {
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

type createRideRequest struct {
	RiderID       string        `json:"rider_id"`
	Pickup        *models.Coord `json:"pickup"`
	Drop          *models.Coord `json:"drop"`
	DistanceKm    *float64      `json:"distance_km"`
	EstimatedFare *float64      `json:"estimated_fare"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var body createRideRequest
	if !decode(w, r, &body) {
		return
	}
	riderID := p.ID
	if p.Role == auth.RoleAdmin {
		riderID = body.RiderID
	}
	out, err := s.Rides.Create(r.Context(), ride.CreateRequest{
		RiderID:       riderID,
		Pickup:        body.Pickup,
		Drop:          body.Drop,
		DistanceKm:    body.DistanceKm,
		EstimatedFare: body.EstimatedFare,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ride": out})
}

// availableRide annotates a listing entry with the distance from the caller's
// position when one was supplied. It never filters.
type availableRide struct {
	models.Ride
	PickupDistanceKm *float64 `json:"pickup_distance_km,omitempty"`
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	q, err := parseAvailableQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rides, err := s.Rides.ListAvailable(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]availableRide, 0, len(rides))
	for _, rd := range rides {
		item := availableRide{Ride: redact(rd, principal(r))}
		if q.Near != nil {
			d := geo.DistanceKm(*q.Near, rd.Pickup)
			item.PickupDistanceKm = &d
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": out})
}

func parseAvailableQuery(r *http.Request) (ride.AvailableQuery, error) {
	v := r.URL.Query()
	q := ride.AvailableQuery{RadiusKm: defaultRadiusKm}
	lat, lng := v.Get("lat"), v.Get("lng")
	if (lat == "") != (lng == "") {
		return q, badRequest("lat and lng must be given together")
	}
	if lat != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		ln, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return q, badRequest("lat and lng must be numbers")
		}
		q.Near = &models.Coord{Lat: la, Lng: ln}
	}
	if rk := v.Get("radius_km"); rk != "" {
		f, err := strconv.ParseFloat(rk, 64)
		if err != nil {
			return q, badRequest("radius_km must be a number")
		}
		q.RadiusKm = f
	}
	return q, nil
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	out, err := s.Rides.Claim(r.Context(), mux.Vars(r)["id"], p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": redact(out, p)})
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var body locationRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Lat == nil || body.Lng == nil {
		s.writeError(w, r, badRequest("lat and lng required"))
		return
	}
	out, err := s.Rides.UpdateDriverLocation(r.Context(), mux.Vars(r)["id"], *body.Lat, *body.Lng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": redact(out, principal(r))})
}

func (s *Server) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.Rides.VerifyPIN(r.Context(), mux.Vars(r)["id"], body.PIN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": redact(out, principal(r))})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.Status `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.Rides.SetStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": redact(out, principal(r))})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	out, err := s.Rides.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": redact(out, principal(r))})
}

func (s *Server) handleListByRider(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	riderID := r.URL.Query().Get("rider_id")
	if p.Role == auth.RoleRider {
		if riderID != "" && riderID != p.ID {
			s.writeError(w, r, auth.ErrRoleForbidden)
			return
		}
		riderID = p.ID
	}
	if riderID == "" {
		s.writeError(w, r, badRequest("rider_id required"))
		return
	}
	var status *models.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.Status(v)
		status = &st
	}
	rides, err := s.Rides.ListByRider(r.Context(), riderID, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range rides {
		rides[i] = redact(rides[i], p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

// redact hides the PIN from everyone except the ride's rider and admins.
func redact(r models.Ride, p auth.Principal) models.Ride {
	if p.Role == auth.RoleAdmin || (p.Role == auth.RoleRider && p.ID == r.RiderID) {
		return r
	}
	r.PIN = ""
	return r
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": reqErr.msg})
	case errors.Is(err, ride.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ride.ErrInvalidPIN):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ride.ErrNotAvailable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ride.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, auth.ErrRoleForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
