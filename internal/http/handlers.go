package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-tracking/internal/lifecycle"
	"github.com/example/ride-tracking/internal/models"
)

// Rides is the lifecycle surface the HTTP layer drives.
type Rides interface {
	RequestRide(ctx context.Context, cmd lifecycle.RequestCommand) (models.Ride, error)
	AcceptRide(ctx context.Context, cmd lifecycle.AcceptCommand) (models.Ride, error)
	PickUp(ctx context.Context, rideID string) (models.Ride, error)
	CancelRide(ctx context.Context, rideID string) (models.Ride, error)
	GetRide(ctx context.Context, rideID string) (models.Ride, error)
	ListRidesFor(ctx context.Context, userID string, role models.Role) ([]models.Ride, error)
}

// Subscriptions takes over an upgraded connection until it closes.
type Subscriptions interface {
	Serve(userID string, conn *websocket.Conn)
}

type Server struct {
	Rides  Rides
	Subs   Subscriptions
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(rides Rides, subs Subscriptions, logger *slog.Logger) *Server {
	s := &Server{Rides: rides, Subs: subs, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleRequestRide).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods("POST")
	api.HandleFunc("/rides/{id}/pickup", s.handlePickUp).Methods("POST")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/users/{user_id}/rides", s.handleListRides).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type requestRideBody struct {
	PassengerID   string             `json:"passenger_id"`
	Pickup        *models.Coordinate `json:"pickup,omitempty"`
	PickupAddress string             `json:"pickup_address,omitempty"`
	Destination   string             `json:"destination"`
}

type acceptRideBody struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body requestRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.Rides.RequestRide(r.Context(), lifecycle.RequestCommand{
		PassengerID: body.PassengerID,
		Pickup:      lifecycle.PickupInput{Coords: body.Pickup, Address: body.PickupAddress},
		Destination: body.Destination,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var body acceptRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.Rides.AcceptRide(r.Context(), lifecycle.AcceptCommand{RideID: mux.Vars(r)["id"], DriverID: body.DriverID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handlePickUp(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.PickUp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.CancelRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	role := models.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = models.RolePassenger
	}
	rides, err := s.Rides.ListRidesFor(r.Context(), mux.Vars(r)["user_id"], role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	s.Subs.Serve(id, conn)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrPreconditionMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrResolutionFailed):
		return http.StatusBadGateway
	case errors.Is(err, lifecycle.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
