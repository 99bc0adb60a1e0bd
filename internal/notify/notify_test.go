package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func acceptedRide() models.Ride {
	return models.Ride{
		ID:             "r1",
		PassengerID:    "p1",
		DriverID:       "d1",
		PickupAddress:  "Main St",
		Status:         models.StatusAccepted,
		DriverLocation: &models.Coordinate{Lat: 39.5995, Lng: -89.2437},
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewEvent(models.EventAccepted, acceptedRide(), at)

	assert.Equal(t, models.EventAccepted, e.Kind)
	assert.Equal(t, "r1", e.RideID)
	assert.Equal(t, "Ride Accepted!", e.Title)
	assert.Equal(t, "Passenger at Main St is waiting.", e.Body)
	assert.Len(t, e.Geohash, 7)
	assert.Equal(t, at, e.At)
	require.NotNil(t, e.DriverLocation)
}

func TestNewEventWithoutDriverLocation(t *testing.T) {
	r := acceptedRide()
	r.DriverLocation = nil
	e := NewEvent(models.EventCompleted, r, time.Now())
	assert.Nil(t, e.DriverLocation)
	assert.Empty(t, e.Geohash)
	assert.Equal(t, "Ride Completed", e.Title)
}

func TestFanoutJoinsErrors(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, models.Event) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, models.Event) error { calls++; return errors.New("down") })

	err := Fanout{ok, bad, ok}.Notify(context.Background(), models.Event{})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestAsyncNeverBlocks(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []string
	slow := SinkFunc(func(_ context.Context, e models.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		delivered = append(delivered, e.RideID)
		mu.Unlock()
		return nil
	})

	a := NewAsync(slow, 1, discardLogger())
	require.NoError(t, a.Notify(context.Background(), models.Event{RideID: "a"}))
	<-started
	require.NoError(t, a.Notify(context.Background(), models.Event{RideID: "b"}))

	done := make(chan struct{})
	go func() {
		_ = a.Notify(context.Background(), models.Event{RideID: "dropped"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(release)
	a.Close()
	assert.Equal(t, []string{"a", "b"}, delivered)

	require.NoError(t, a.Notify(context.Background(), models.Event{RideID: "after-close"}))
}

func TestAsyncSwallowsSinkErrors(t *testing.T) {
	var n int
	var mu sync.Mutex
	failing := SinkFunc(func(context.Context, models.Event) error {
		mu.Lock()
		n++
		mu.Unlock()
		return errors.New("sink unavailable")
	})
	a := NewAsync(failing, 4, discardLogger())
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Notify(context.Background(), models.Event{RideID: "r"}))
	}
	a.Close()
	assert.Equal(t, 3, n)
}

func TestWebhookPostsEvent(t *testing.T) {
	var got map[string]map[string]json.RawMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "secret")
	e := NewEvent(models.EventArrived, acceptedRide(), time.Now())
	require.NoError(t, w.Notify(context.Background(), e))

	assert.Equal(t, "Bearer secret", auth)
	assert.JSONEq(t, `"ride-r1"`, string(got["message"]["topic"]))
	var data models.Event
	require.NoError(t, json.Unmarshal(got["message"]["data"], &data))
	assert.Equal(t, models.EventArrived, data.Kind)
}

func TestWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "").Notify(context.Background(), models.Event{RideID: "r1"})
	require.Error(t, err)
}

func TestHubDeliversToParticipants(t *testing.T) {
	hub := NewHub(discardLogger())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(strings.TrimPrefix(r.URL.Path, "/"), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/p1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connected("p1") }, time.Second, 5*time.Millisecond)

	e := NewEvent(models.EventArrived, acceptedRide(), time.Now())
	require.NoError(t, hub.Notify(context.Background(), e))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.EventArrived, got.Kind)
	assert.Equal(t, "r1", got.RideID)

	require.ErrorIs(t, hub.Send("nobody", e), ErrNoSession)
}
