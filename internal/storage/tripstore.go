package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNotFound = errors.New("ride not found")

// Mutator computes the next version of a ride from the current one. A
// non-nil error aborts the write and is returned to the caller as-is.
type Mutator func(models.Ride) (models.Ride, error)

// Store is the authoritative set of ride records. It does not validate
// cross-field invariants; callers do.
type Store interface {
	Get(ctx context.Context, id string) (models.Ride, error)
	Upsert(ctx context.Context, r models.Ride) error
	// Transition applies fn atomically with respect to every other writer of
	// the same ride id. Writers of different ids do not block each other.
	Transition(ctx context.Context, id string, fn Mutator) (models.Ride, error)
	// List returns all rides, newest request first.
	List(ctx context.Context) ([]models.Ride, error)
}

type entry struct {
	mu   sync.Mutex
	ride models.Ride
}

// MemoryStore keeps rides in process memory with one lock per ride.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*entry)}
}

func (m *MemoryStore) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rides[id]
	return e, ok
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Ride, error) {
	e, ok := m.lookup(id)
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ride.Clone(), nil
}

func (m *MemoryStore) Upsert(_ context.Context, r models.Ride) error {
	r = r.Clone()
	m.mu.Lock()
	e, ok := m.rides[r.ID]
	if !ok {
		m.rides[r.ID] = &entry{ride: r}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	e.mu.Lock()
	e.ride = r
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, fn Mutator) (models.Ride, error) {
	e, ok := m.lookup(id)
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(e.ride.Clone())
	if err != nil {
		return models.Ride{}, err
	}
	next.ID = e.ride.ID
	e.ride = next.Clone()
	return next, nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.Ride, error) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.rides))
	for _, e := range m.rides {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]models.Ride, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.ride.Clone())
		e.mu.Unlock()
	}
	SortNewestFirst(out)
	return out, nil
}

// SortNewestFirst orders by request time descending, then id descending.
func SortNewestFirst(rides []models.Ride) {
	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].RequestTime.Equal(rides[j].RequestTime) {
			return rides[i].RequestTime.After(rides[j].RequestTime)
		}
		return rides[i].ID > rides[j].ID
	})
}
