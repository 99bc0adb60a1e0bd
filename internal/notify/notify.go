// Package notify delivers ride transition events to user-facing channels.
// Every sink is best-effort; the engine never waits on or fails because of a
// notification.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
)

type Sink interface {
	Notify(ctx context.Context, e models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e models.Event) error

func (f SinkFunc) Notify(ctx context.Context, e models.Event) error { return f(ctx, e) }

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, models.Event) error { return nil }

var alertText = map[models.EventKind][2]string{
	models.EventAccepted:    {"Ride Accepted!", "Passenger at %s is waiting."},
	models.EventApproaching: {"Driver is Approaching", "Your driver is on the way."},
	models.EventArrived:     {"Driver has Arrived!", "Your driver is at the pickup location."},
	models.EventCompleted:   {"Ride Completed", "You have arrived at your destination."},
}

// NewEvent builds the event for a ride that has just made the transition
// described by kind.
func NewEvent(kind models.EventKind, r models.Ride, at time.Time) models.Event {
	e := models.Event{
		Kind:        kind,
		RideID:      r.ID,
		PassengerID: r.PassengerID,
		DriverID:    r.DriverID,
		Status:      r.Status,
		At:          at,
	}
	if r.DriverLocation != nil {
		loc := *r.DriverLocation
		e.DriverLocation = &loc
		e.Geohash = geo.Geohash(loc)
	}
	if text, ok := alertText[kind]; ok {
		e.Title = text[0]
		e.Body = text[1]
		if kind == models.EventAccepted {
			e.Body = fmt.Sprintf(text[1], r.PickupAddress)
		}
	}
	return e
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, e models.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one structured log line per event.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Notify(_ context.Context, e models.Event) error {
	args := []any{
		"kind", e.Kind,
		"ride_id", e.RideID,
		"passenger_id", e.PassengerID,
		"status", e.Status,
		"title", e.Title,
	}
	if e.DriverID != "" {
		args = append(args, "driver_id", e.DriverID)
	}
	if e.Geohash != "" {
		args = append(args, "geohash", e.Geohash)
	}
	l.Logger.Info("ride_notification", args...)
	return nil
}
