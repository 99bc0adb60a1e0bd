package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

// fakeMirror implements PositionMirror for tests
type fakeMirror struct {
	failUpsert  int // number of times to fail Upsert before succeeding
	upsertCalls int
	removeCalls int
	last        models.Coordinate
}

func (f *fakeMirror) Upsert(_ context.Context, _, _ string, _ models.Status, c models.Coordinate) error {
	f.upsertCalls++
	if f.upsertCalls <= f.failUpsert {
		return errors.New("geo fail")
	}
	f.last = c
	return nil
}

func (f *fakeMirror) Remove(context.Context, string) error {
	f.removeCalls++
	return nil
}

func approaching() models.Event {
	return models.Event{
		Kind:           models.EventApproaching,
		RideID:         "r1",
		DriverID:       "d1",
		Status:         models.StatusInProgress,
		DriverLocation: &models.Coordinate{Lat: 1, Lng: 2},
	}
}

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeMirror{failUpsert: 2}
	start := time.Now()
	require.NoError(t, applyWithRetry(context.Background(), f, approaching(), 3, 10*time.Millisecond))
	assert.Equal(t, 3, f.upsertCalls)
	assert.Equal(t, models.Coordinate{Lat: 1, Lng: 2}, f.last)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeMirror{failUpsert: 5}
	require.Error(t, applyWithRetry(context.Background(), f, approaching(), 3, time.Millisecond))
	assert.Equal(t, 3, f.upsertCalls)
}

func TestApplyWithRetryStopsOnCancel(t *testing.T) {
	f := &fakeMirror{failUpsert: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, applyWithRetry(ctx, f, approaching(), 3, time.Second))
	assert.Equal(t, 1, f.upsertCalls)
}

func TestApplyRemovesTerminalRides(t *testing.T) {
	f := &fakeMirror{}
	e := models.Event{Kind: models.EventCompleted, RideID: "r1", Status: models.StatusCompleted}
	require.NoError(t, apply(context.Background(), f, e))
	assert.Equal(t, 1, f.removeCalls)
	assert.Zero(t, f.upsertCalls)
}

func TestApplyIgnoresEventsWithoutPosition(t *testing.T) {
	f := &fakeMirror{}
	e := approaching()
	e.DriverLocation = nil
	require.NoError(t, apply(context.Background(), f, e))
	assert.Zero(t, f.upsertCalls)
	assert.Zero(t, f.removeCalls)
}

func TestApplyRemovesCancelledRides(t *testing.T) {
	f := &fakeMirror{}
	e := models.Event{
		Kind:           models.EventCancelled,
		RideID:         "r1",
		DriverID:       "d1",
		Status:         models.StatusCancelled,
		DriverLocation: &models.Coordinate{Lat: 1, Lng: 2},
	}
	require.NoError(t, apply(context.Background(), f, e))
	assert.Equal(t, 1, f.removeCalls)
	assert.Zero(t, f.upsertCalls)
}

func TestApplyMovesDriverOnPositionRecord(t *testing.T) {
	f := &fakeMirror{}
	e := approaching()
	e.Kind = models.EventPosition
	e.DriverLocation = &models.Coordinate{Lat: 1.5, Lng: 2.5}
	require.NoError(t, apply(context.Background(), f, e))
	assert.Equal(t, 1, f.upsertCalls)
	assert.Equal(t, models.Coordinate{Lat: 1.5, Lng: 2.5}, f.last)
}
