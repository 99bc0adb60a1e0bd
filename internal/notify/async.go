package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

const deliveryTimeout = 5 * time.Second

// Async decouples callers from a slow or unavailable sink. Notify never
// blocks: when the queue is full the event is dropped and counted.
type Async struct {
	sink   Sink
	logger *slog.Logger
	queue  chan models.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsync(sink Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{sink: sink, logger: logger, queue: make(chan models.Event, size)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, e models.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		observability.NotificationsTotal.WithLabelValues(string(e.Kind), "dropped").Inc()
		return nil
	}
	select {
	case a.queue <- e:
	default:
		observability.NotificationsTotal.WithLabelValues(string(e.Kind), "dropped").Inc()
		a.logger.Warn("notification queue full, dropping event", "kind", e.Kind, "ride_id", e.RideID)
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := a.sink.Notify(ctx, e)
		cancel()
		if err != nil {
			observability.NotificationsTotal.WithLabelValues(string(e.Kind), "error").Inc()
			a.logger.Warn("notification delivery failed", "kind", e.Kind, "ride_id", e.RideID, "error", err)
			continue
		}
		observability.NotificationsTotal.WithLabelValues(string(e.Kind), "sent").Inc()
	}
}

// Close drains queued events and stops the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
