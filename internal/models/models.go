package models

import (
	"fmt"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders the coordinate the way pickup labels are shown to users.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lng)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in-progress"
	StatusArrived    Status = "arrived"
	StatusPickedUp   Status = "picked-up"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// allowedTransitions is the ride state chain. Every non-terminal state may
// also jump to cancelled.
var allowedTransitions = map[Status]Status{
	StatusPending:    StatusAccepted,
	StatusAccepted:   StatusInProgress,
	StatusInProgress: StatusArrived,
	StatusArrived:    StatusPickedUp,
	StatusPickedUp:   StatusCompleted,
}

func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	next, ok := allowedTransitions[from]
	return ok && next == to
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Tracked reports whether a driver position is simulated in this state.
func (s Status) Tracked() bool {
	return s == StatusInProgress || s == StatusArrived || s == StatusPickedUp
}

// HasDriver reports whether a ride in this state carries a driver location.
func (s Status) HasDriver() bool {
	return s == StatusAccepted || s.Tracked()
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusArrived,
		StatusPickedUp, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

type Ride struct {
	ID                 string      `json:"id"`
	PassengerID        string      `json:"passenger_id"`
	DriverID           string      `json:"driver_id,omitempty"`
	PickupAddress      string      `json:"pickup_address"`
	DestinationAddress string      `json:"destination_address"`
	PickupCoords       *Coordinate `json:"pickup_coords,omitempty"`
	DestinationCoords  *Coordinate `json:"destination_coords,omitempty"`
	DriverLocation     *Coordinate `json:"driver_location,omitempty"`
	Status             Status      `json:"status"`
	RequestTime        time.Time   `json:"request_time"`
	PickupTime         *time.Time  `json:"pickup_time,omitempty"`
	DropoffTime        *time.Time  `json:"dropoff_time,omitempty"`
	Fare               *float64    `json:"fare,omitempty"`
}

// Clone returns a copy that shares no pointers with r.
func (r Ride) Clone() Ride {
	out := r
	out.PickupCoords = cloneCoord(r.PickupCoords)
	out.DestinationCoords = cloneCoord(r.DestinationCoords)
	out.DriverLocation = cloneCoord(r.DriverLocation)
	if r.PickupTime != nil {
		t := *r.PickupTime
		out.PickupTime = &t
	}
	if r.DropoffTime != nil {
		t := *r.DropoffTime
		out.DropoffTime = &t
	}
	if r.Fare != nil {
		f := *r.Fare
		out.Fare = &f
	}
	return out
}

func cloneCoord(c *Coordinate) *Coordinate {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

type EventKind string

const (
	EventAccepted    EventKind = "accepted"
	EventApproaching EventKind = "approaching"
	EventArrived     EventKind = "arrived"
	EventCompleted   EventKind = "completed"

	// Feed-only kinds. They go to the ride event feed, never to the
	// notification sinks.
	EventPosition  EventKind = "position"
	EventCancelled EventKind = "cancelled"
)

// Event is a transition notification handed to notification sinks.
type Event struct {
	Kind           EventKind   `json:"kind"`
	RideID         string      `json:"ride_id"`
	PassengerID    string      `json:"passenger_id"`
	DriverID       string      `json:"driver_id,omitempty"`
	Status         Status      `json:"status"`
	DriverLocation *Coordinate `json:"driver_location,omitempty"`
	Geohash        string      `json:"geohash,omitempty"`
	ETASeconds     float64     `json:"eta_seconds,omitempty"`
	Title          string      `json:"title"`
	Body           string      `json:"body"`
	At             time.Time   `json:"at"`
}
