// Package tracking simulates driver movement for active rides and advances
// their status from proximity to the current target.
package tracking

import (
	"time"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
)

const (
	// ArrivalThreshold is the planar distance, in decimal degrees (about
	// 50m), under which the driver counts as being at the target.
	ArrivalThreshold = 0.0005
	// ConvergenceStep is the share of the remaining distance covered per tick.
	ConvergenceStep = 0.1
	DefaultInterval = 2 * time.Second
)

// FareFunc prices a ride at the moment it completes.
type FareFunc func(models.Ride) float64

// Outcome describes what one tick did to a ride.
type Outcome struct {
	Event models.EventKind
	Moved bool
	// Done is set when the ride reached a terminal state on this tick.
	Done bool
	// Skip is set when the ride is not eligible for tracking at all.
	Skip bool
}

func (o Outcome) Changed() bool { return o.Moved || o.Event != "" }

// Eligible reports whether r is in a tracked state with every coordinate the
// tick needs.
func Eligible(r models.Ride) bool {
	return r.Status.Tracked() && r.DriverLocation != nil && r.PickupCoords != nil && r.DestinationCoords != nil
}

// Step computes the next state of r. It is deterministic for identical
// inputs and does not touch r.
func Step(r models.Ride, now time.Time, fare FareFunc) (models.Ride, Outcome) {
	if !Eligible(r) {
		return r, Outcome{Skip: true}
	}
	next := r.Clone()

	target := *r.PickupCoords
	if r.Status == models.StatusPickedUp {
		target = *r.DestinationCoords
	}
	driver := *r.DriverLocation

	if geo.PlanarDistance(driver, target) >= ArrivalThreshold {
		loc := geo.Toward(driver, target, ConvergenceStep)
		next.DriverLocation = &loc
		return next, Outcome{Moved: true}
	}

	switch r.Status {
	case models.StatusInProgress:
		next.Status = models.StatusArrived
		return next, Outcome{Event: models.EventArrived}
	case models.StatusPickedUp:
		next.Status = models.StatusCompleted
		t := now
		next.DropoffTime = &t
		next.DriverLocation = nil
		if fare != nil {
			f := fare(r)
			next.Fare = &f
		}
		return next, Outcome{Event: models.EventCompleted, Done: true}
	}
	// Arrived: wait for the passenger to be picked up.
	return next, Outcome{}
}
