// Package lifecycle is the entry point callers use to move rides between the
// states the tracking scheduler does not own: request, accept, pick-up and
// cancel.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-tracking/internal/eta"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/geocode"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/notify"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/storage"
)

var (
	ErrNotFound            = errors.New("ride not found")
	ErrInvalidState        = errors.New("invalid state for operation")
	ErrResolutionFailed    = errors.New("address resolution failed")
	ErrPreconditionMissing = errors.New("required coordinate missing")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Tracker is the part of the tracking scheduler the lifecycle drives.
type Tracker interface {
	Register(id string)
	Deregister(id string)
}

type Config struct {
	GeocodeTimeout time.Duration
	// DispatchDelay models the gap between acceptance and the driver
	// setting off. Zero makes the move to in-progress immediate.
	DispatchDelay     time.Duration
	DriverStartOffset float64
	ETASpeedMps       float64
}

func DefaultConfig() Config {
	return Config{
		GeocodeTimeout:    5 * time.Second,
		DispatchDelay:     2 * time.Second,
		DriverStartOffset: 0.05,
		ETASpeedMps:       10,
	}
}

type Service struct {
	store    storage.Store
	geocoder geocode.Geocoder
	tracker  Tracker
	sink     notify.Sink
	feed     notify.Sink
	logger   *slog.Logger
	cfg      Config
	eta      *eta.Estimator
	now      func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

type Option func(*Service)

// WithFeed sets a sink that receives every event the service emits plus a
// cancellation record, for consumers that mirror ride state.
func WithFeed(f notify.Sink) Option {
	return func(s *Service) {
		if f != nil {
			s.feed = f
		}
	}
}

func NewService(store storage.Store, geocoder geocode.Geocoder, tracker Tracker, sink notify.Sink, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		geocoder: geocoder,
		tracker:  tracker,
		sink:     sink,
		feed:     notify.Nop{},
		logger:   logger,
		cfg:      cfg,
		eta:      &eta.Estimator{SpeedMps: cfg.ETASpeedMps, Cache: eta.NewCache(time.Minute)},
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PickupInput is either a known coordinate or an address to resolve.
type PickupInput struct {
	Coords  *models.Coordinate
	Address string
}

type RequestCommand struct {
	PassengerID string
	Pickup      PickupInput
	Destination string
}

type AcceptCommand struct {
	RideID   string
	DriverID string
}

// RequestRide creates a pending ride. The destination must resolve or the
// whole request fails and nothing is stored. An unresolvable pickup address
// is tolerated here and rejected later by AcceptRide.
func (s *Service) RequestRide(ctx context.Context, cmd RequestCommand) (models.Ride, error) {
	if cmd.PassengerID == "" || cmd.Destination == "" {
		return models.Ride{}, fmt.Errorf("%w: passenger and destination are required", ErrInvalidArgument)
	}
	if cmd.Pickup.Coords == nil && cmd.Pickup.Address == "" {
		return models.Ride{}, fmt.Errorf("%w: pickup is required", ErrInvalidArgument)
	}
	if cmd.Pickup.Coords != nil && !geo.Finite(*cmd.Pickup.Coords) {
		return models.Ride{}, fmt.Errorf("%w: pickup coordinate is not finite", ErrInvalidArgument)
	}

	dest, err := s.resolve(ctx, cmd.Destination)
	if err != nil {
		return models.Ride{}, fmt.Errorf("%w: destination %q: %w", ErrResolutionFailed, cmd.Destination, err)
	}

	ride := models.Ride{
		ID:                 newID(),
		PassengerID:        cmd.PassengerID,
		DestinationAddress: cmd.Destination,
		DestinationCoords:  &dest,
		Status:             models.StatusPending,
		RequestTime:        s.now(),
	}
	if c := cmd.Pickup.Coords; c != nil {
		pickup := *c
		ride.PickupCoords = &pickup
		ride.PickupAddress = pickup.String()
	} else {
		ride.PickupAddress = cmd.Pickup.Address
		if pickup, err := s.resolve(ctx, cmd.Pickup.Address); err == nil {
			ride.PickupCoords = &pickup
		} else {
			s.logger.Warn("pickup address unresolved", "address", cmd.Pickup.Address, "error", err)
		}
	}

	if err := s.store.Upsert(ctx, ride); err != nil {
		return models.Ride{}, err
	}
	observability.RidesRequested.Inc()
	s.logger.Info("ride requested", "ride_id", ride.ID, "passenger_id", ride.PassengerID)
	return ride, nil
}

// AcceptRide assigns a driver to a pending ride and schedules its move to
// in-progress after the dispatch delay.
func (s *Service) AcceptRide(ctx context.Context, cmd AcceptCommand) (models.Ride, error) {
	if cmd.DriverID == "" {
		return models.Ride{}, fmt.Errorf("%w: driver is required", ErrInvalidArgument)
	}
	resolved, err := s.retryPickup(ctx, cmd.RideID)
	if err != nil {
		return models.Ride{}, s.storeErr(cmd.RideID, err)
	}
	ride, err := s.store.Transition(ctx, cmd.RideID, func(cur models.Ride) (models.Ride, error) {
		if cur.Status != models.StatusPending {
			return cur, fmt.Errorf("%w: cannot accept a %s ride", ErrInvalidState, cur.Status)
		}
		if cur.PickupCoords == nil && resolved != nil {
			cur.PickupCoords = resolved
		}
		if cur.PickupCoords == nil || cur.DestinationCoords == nil {
			return cur, fmt.Errorf("%w: ride %s has no pickup or destination coordinate", ErrPreconditionMissing, cur.ID)
		}
		start := geo.Offset(*cur.PickupCoords, s.cfg.DriverStartOffset)
		cur.DriverID = cmd.DriverID
		cur.DriverLocation = &start
		cur.Status = models.StatusAccepted
		return cur, nil
	})
	if err != nil {
		return models.Ride{}, s.storeErr(cmd.RideID, err)
	}
	s.transitioned(ride.ID, models.StatusPending, models.StatusAccepted)
	s.emit(ctx, models.EventAccepted, ride, 0)

	s.scheduleDispatch(ride.ID)
	return ride, nil
}

// Resume re-arms the dispatch of every accepted ride. Dispatch timers live
// in memory only, so after a restart on a durable store they are started
// again with the full delay.
func (s *Service) Resume(ctx context.Context) (int, error) {
	rides, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rides {
		if r.Status == models.StatusAccepted {
			s.scheduleDispatch(r.ID)
			n++
		}
	}
	return n, nil
}

func (s *Service) scheduleDispatch(id string) {
	if s.cfg.DispatchDelay <= 0 {
		s.dispatch(id)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.cfg.DispatchDelay, func() { s.dispatch(id) })
}

// retryPickup makes one more attempt at resolving the pickup address of a
// pending ride that was created without pickup coordinates.
func (s *Service) retryPickup(ctx context.Context, id string) (*models.Coordinate, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.StatusPending || cur.PickupCoords != nil || cur.PickupAddress == "" {
		return nil, nil
	}
	c, err := s.resolve(ctx, cur.PickupAddress)
	if err != nil {
		s.logger.Warn("pickup address unresolved", "ride_id", id, "address", cur.PickupAddress, "error", err)
		return nil, nil
	}
	return &c, nil
}

// dispatch moves an accepted ride to in-progress and starts tracking it. A
// ride cancelled in the meantime is left alone.
func (s *Service) dispatch(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	ctx := context.Background()
	ride, err := s.store.Transition(ctx, id, func(cur models.Ride) (models.Ride, error) {
		if cur.Status != models.StatusAccepted {
			return cur, ErrInvalidState
		}
		cur.Status = models.StatusInProgress
		return cur, nil
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidState) {
			s.logger.Warn("dispatch failed", "ride_id", id, "error", err)
		}
		return
	}
	s.transitioned(id, models.StatusAccepted, models.StatusInProgress)
	var etaSeconds float64
	if ride.DriverLocation != nil && ride.PickupCoords != nil {
		etaSeconds = s.eta.Seconds(*ride.DriverLocation, *ride.PickupCoords)
	}
	s.emit(ctx, models.EventApproaching, ride, etaSeconds)
	s.tracker.Register(id)
}

// PickUp records that the passenger boarded. Tracking then heads for the
// destination.
func (s *Service) PickUp(ctx context.Context, rideID string) (models.Ride, error) {
	ride, err := s.store.Transition(ctx, rideID, func(cur models.Ride) (models.Ride, error) {
		if cur.Status != models.StatusArrived {
			return cur, fmt.Errorf("%w: cannot pick up a %s ride", ErrInvalidState, cur.Status)
		}
		if cur.DriverLocation == nil || cur.DestinationCoords == nil {
			return cur, fmt.Errorf("%w: ride %s has no driver or destination coordinate", ErrPreconditionMissing, cur.ID)
		}
		t := s.now()
		cur.Status = models.StatusPickedUp
		cur.PickupTime = &t
		return cur, nil
	})
	if err != nil {
		return models.Ride{}, s.storeErr(rideID, err)
	}
	s.transitioned(rideID, models.StatusArrived, models.StatusPickedUp)
	s.tracker.Register(rideID)
	return ride, nil
}

// CancelRide works from any non-terminal state.
func (s *Service) CancelRide(ctx context.Context, rideID string) (models.Ride, error) {
	var prev models.Status
	ride, err := s.store.Transition(ctx, rideID, func(cur models.Ride) (models.Ride, error) {
		if !models.CanTransition(cur.Status, models.StatusCancelled) {
			return cur, fmt.Errorf("%w: ride is already %s", ErrInvalidState, cur.Status)
		}
		prev = cur.Status
		cur.Status = models.StatusCancelled
		cur.DriverLocation = nil
		return cur, nil
	})
	if err != nil {
		return models.Ride{}, s.storeErr(rideID, err)
	}

	s.mu.Lock()
	if t, ok := s.timers[rideID]; ok {
		t.Stop()
		delete(s.timers, rideID)
	}
	s.mu.Unlock()
	s.tracker.Deregister(rideID)

	s.transitioned(rideID, prev, models.StatusCancelled)
	if err := s.feed.Notify(context.WithoutCancel(ctx), notify.NewEvent(models.EventCancelled, ride, s.now())); err != nil {
		s.logger.Warn("feed publish failed", "ride_id", rideID, "kind", models.EventCancelled, "error", err)
	}
	return ride, nil
}

func (s *Service) GetRide(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, s.storeErr(rideID, err)
	}
	return r, nil
}

// ListRidesFor returns the rides visible to a user, newest first. Drivers
// see their own rides plus every open request.
func (s *Service) ListRidesFor(ctx context.Context, userID string, role models.Role) ([]models.Ride, error) {
	var keep func(models.Ride) bool
	switch role {
	case models.RolePassenger:
		keep = func(r models.Ride) bool { return r.PassengerID == userID }
	case models.RoleDriver:
		keep = func(r models.Ride) bool { return r.DriverID == userID || r.Status == models.StatusPending }
	case models.RoleAdmin:
		keep = func(models.Ride) bool { return true }
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Ride, 0, len(all))
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close cancels pending dispatch timers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) resolve(ctx context.Context, address string) (models.Coordinate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GeocodeTimeout)
	defer cancel()

	start := time.Now()
	c, err := s.geocoder.Resolve(ctx, address)
	outcome := "ok"
	switch {
	case errors.Is(err, geocode.ErrNoMatch):
		outcome = "no_match"
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		outcome = "timeout"
		if err == nil {
			err = ctx.Err()
		}
	case err != nil:
		outcome = "error"
	case !geo.Finite(c):
		outcome = "error"
		err = fmt.Errorf("geocoder returned a non-finite coordinate")
	}
	observability.GeocodeDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return c, err
}

func (s *Service) storeErr(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (s *Service) transitioned(id string, from, to models.Status) {
	observability.RecordTransition(string(from), string(to))
	s.logger.Info("ride status changed", "ride_id", id, "from", from, "to", to)
}

func (s *Service) emit(ctx context.Context, kind models.EventKind, r models.Ride, etaSeconds float64) {
	e := notify.NewEvent(kind, r, s.now())
	e.ETASeconds = etaSeconds
	ctx = context.WithoutCancel(ctx)
	if err := s.sink.Notify(ctx, e); err != nil {
		s.logger.Warn("notification failed", "ride_id", r.ID, "kind", kind, "error", err)
	}
	if err := s.feed.Notify(ctx, e); err != nil {
		s.logger.Warn("feed publish failed", "ride_id", r.ID, "kind", kind, "error", err)
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
