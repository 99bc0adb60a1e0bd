package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/notify"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/storage"
)

var errUnchanged = errors.New("tracking: ride unchanged")

type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	// writeMu is held while the task writes to the store. prev is the task
	// this one replaced; it is halted before the first tick.
	writeMu sync.Mutex
	prev    *task
}

// halt cancels t and every task it replaced, then waits for any store write
// still in flight. It never waits for the goroutines themselves, so a sink
// running on the task's goroutine may call it.
func (t *task) halt() {
	t.cancel()
	t.writeMu.Lock()
	p := t.prev
	t.prev = nil
	t.writeMu.Unlock()
	if p != nil {
		p.halt()
	}
}

// Scheduler runs one ticking goroutine per tracked ride.
type Scheduler struct {
	store    storage.Store
	sink     notify.Sink
	feed     notify.Sink
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	fare     FareFunc

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithFare(f FareFunc) Option {
	return func(s *Scheduler) { s.fare = f }
}

// WithFeed sets a sink that receives every transition event plus a position
// record for each tick that moves a driver.
func WithFeed(f notify.Sink) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.feed = f
		}
	}
}

func NewScheduler(store storage.Store, sink notify.Sink, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		sink:     sink,
		feed:     notify.Nop{},
		logger:   logger,
		interval: DefaultInterval,
		now:      time.Now,
		tasks:    make(map[string]*task),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register starts ticking ride id. An existing task for the same id is
// cancelled and replaced; the new task does not tick until the old one has
// finished writing, so a ride is never advanced twice per interval.
func (s *Scheduler) Register(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	if old, ok := s.tasks[id]; ok {
		old.cancel()
		t.prev = old
	} else {
		observability.ActiveTrackers.Inc()
	}
	s.tasks[id] = t
	go s.run(ctx, id, t)
	s.logger.Debug("tracking started", "ride_id", id)
}

// Deregister stops ticking ride id. When it returns, the task will not write
// to the store again. Unknown ids are a no-op. Only the ride's own task is
// waited on, and it is safe to call from a sink.
func (s *Scheduler) Deregister(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		observability.ActiveTrackers.Dec()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.halt()
	s.logger.Debug("tracking stopped", "ride_id", id)
}

// release removes t from the registry if it is still the registered task.
func (s *Scheduler) release(id string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[id]; ok && cur == t {
		delete(s.tasks, id)
		observability.ActiveTrackers.Dec()
	}
}

func (s *Scheduler) Tracking(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Resume registers every ride in the store that is eligible for tracking.
// Used after a restart on a durable store.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	rides, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rides {
		if Eligible(r) {
			s.Register(r.ID)
			n++
		}
	}
	return n, nil
}

// Close stops every task and waits for the goroutines to exit. It must not
// be called from a sink.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*task, 0, len(s.tasks))
	for id, t := range s.tasks {
		tasks = append(tasks, t)
		delete(s.tasks, id)
		observability.ActiveTrackers.Dec()
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.halt()
		<-t.done
	}
}

func (s *Scheduler) run(ctx context.Context, id string, t *task) {
	defer close(t.done)

	t.writeMu.Lock()
	if t.prev != nil {
		t.prev.halt()
		t.prev = nil
	}
	t.writeMu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t.writeMu.Lock()
		if ctx.Err() != nil {
			t.writeMu.Unlock()
			return
		}
		res, err := s.advance(ctx, id)
		t.writeMu.Unlock()

		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.release(id, t)
				return
			}
			s.logger.Warn("tracking tick failed", "ride_id", id, "error", err)
			continue
		}
		s.publish(ctx, id, res)
		if res.out.Done || res.out.Skip {
			s.release(id, t)
			return
		}
	}
}

type tickResult struct {
	out     Outcome
	ride    models.Ride
	prev    models.Status
	at      time.Time
	written bool
}

// Tick evaluates ride id once and publishes what it did.
func (s *Scheduler) Tick(ctx context.Context, id string) (Outcome, error) {
	res, err := s.advance(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	s.publish(ctx, id, res)
	return res.out, nil
}

// advance runs the read-compute-write inside the store's Transition, so a
// concurrent cancellation either lands first and turns the tick into a
// no-op, or lands after the tick's write.
func (s *Scheduler) advance(ctx context.Context, id string) (tickResult, error) {
	observability.TicksTotal.Inc()
	res := tickResult{at: s.now()}
	r, err := s.store.Transition(ctx, id, func(cur models.Ride) (models.Ride, error) {
		res.prev = cur.Status
		next, o := Step(cur, res.at, s.fare)
		res.out = o
		if o.Skip || !o.Changed() {
			return cur, errUnchanged
		}
		return next, nil
	})
	if errors.Is(err, errUnchanged) {
		return res, nil
	}
	if err != nil {
		return tickResult{}, err
	}
	res.ride = r
	res.written = true
	return res, nil
}

// publish reports a written tick. Sinks are called without any scheduler
// lock held.
func (s *Scheduler) publish(ctx context.Context, id string, res tickResult) {
	if !res.written {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r := res.ride
	if r.Status != res.prev {
		observability.RecordTransition(string(res.prev), string(r.Status))
		s.logger.Info("ride status changed", "ride_id", id, "from", res.prev, "to", r.Status)
	}
	if res.out.Event != "" {
		e := notify.NewEvent(res.out.Event, r, res.at)
		if err := s.sink.Notify(ctx, e); err != nil {
			s.logger.Warn("notification failed", "ride_id", id, "kind", res.out.Event, "error", err)
		}
		if err := s.feed.Notify(ctx, e); err != nil {
			s.logger.Warn("feed publish failed", "ride_id", id, "kind", res.out.Event, "error", err)
		}
		return
	}
	if res.out.Moved {
		if err := s.feed.Notify(ctx, notify.NewEvent(models.EventPosition, r, res.at)); err != nil {
			s.logger.Warn("feed publish failed", "ride_id", id, "kind", models.EventPosition, "error", err)
		}
	}
}
