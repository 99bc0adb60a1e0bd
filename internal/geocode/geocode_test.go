package geocode

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/example/ride-tracking/internal/models"
)

func TestParseCoordinate(t *testing.T) {
	c, ok := ParseCoordinate(" 39.54950, -89.29370 ")
	require.True(t, ok)
	assert.Equal(t, models.Coordinate{Lat: 39.5495, Lng: -89.2937}, c)

	for _, in := range []string{"", "Main St", "1,2,3", "91, 0", "0, 181", "NaN, 1"} {
		_, ok := ParseCoordinate(in)
		assert.False(t, ok, in)
	}
}

type countingGeocoder struct {
	calls int
	coord models.Coordinate
	err   error
}

func (c *countingGeocoder) Resolve(context.Context, string) (models.Coordinate, error) {
	c.calls++
	return c.coord, c.err
}

func TestLiteralShortCircuits(t *testing.T) {
	next := &countingGeocoder{coord: models.Coordinate{Lat: 1, Lng: 2}}
	g := Literal{Next: next}

	c, err := g.Resolve(context.Background(), "10.5, 20.25")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinate{Lat: 10.5, Lng: 20.25}, c)
	assert.Zero(t, next.calls)

	_, err = g.Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, ErrNoMatch)

	c, err = g.Resolve(context.Background(), "Springfield")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinate{Lat: 1, Lng: 2}, c)
	assert.Equal(t, 1, next.calls)
}

func TestNominatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "ride-tracking-test", r.Header.Get("User-Agent"))
		switch r.URL.Query().Get("q") {
		case "Springfield":
			_, _ = w.Write([]byte(`[{"lat":"39.5312","lon":"-89.3248","display_name":"Springfield"}]`))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, "ride-tracking-test")
	ctx := context.Background()

	c, err := n.Resolve(ctx, "Springfield")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinate{Lat: 39.5312, Lng: -89.3248}, c)

	_, err = n.Resolve(ctx, "nowhere at all")
	require.ErrorIs(t, err, ErrNoMatch)

	_, err = n.Resolve(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatch)
}

func TestNominatimHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewNominatim(srv.URL, "").Resolve(ctx, "slow")
	require.Error(t, err)
}

func TestGoogle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("address") == "Springfield" {
			_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":39.5312,"lng":-89.3248}}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer srv.Close()

	g, err := NewGoogle("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	c, err := g.Resolve(context.Background(), "Springfield")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinate{Lat: 39.5312, Lng: -89.3248}, c)

	_, err = g.Resolve(context.Background(), "nowhere")
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestCachedResolvesOnce(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping redis-backed cache test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Del(ctx, cacheKey("Cache  Test Street")).Err())

	next := &countingGeocoder{coord: models.Coordinate{Lat: 39.5312, Lng: -89.3248}}
	c := NewCached(next, client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 3; i++ {
		got, err := c.Resolve(ctx, "cache test  street")
		require.NoError(t, err)
		assert.InDelta(t, 39.5312, got.Lat, 1e-6)
	}
	assert.Equal(t, 1, next.calls)
}

func TestCacheKeyNormalizes(t *testing.T) {
	assert.Equal(t, cacheKey("Main  St "), cacheKey("main st"))
}
