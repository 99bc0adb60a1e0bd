package geo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

func TestRedisGeoUpsertAndRemove(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping redis-backed geo test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	key := fmt.Sprintf("rides_geo_test_%d", time.Now().UnixNano())
	rideID := "geo-ride-1"
	t.Cleanup(func() { _ = client.Del(ctx, key, metaKey(rideID)).Err() })
	g := NewRedisGeo(client, key)

	c := models.Coordinate{Lat: 39.5495, Lng: -89.2937}
	require.NoError(t, g.Upsert(ctx, rideID, "d1", models.StatusInProgress, c))

	pos, err := client.GeoPos(ctx, key, rideID).Result()
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0])
	assert.InDelta(t, c.Lat, pos[0].Latitude, 1e-5)
	assert.InDelta(t, c.Lng, pos[0].Longitude, 1e-5)

	meta, err := client.HGetAll(ctx, metaKey(rideID)).Result()
	require.NoError(t, err)
	assert.Equal(t, "d1", meta["driver_id"])
	assert.Equal(t, "in-progress", meta["status"])
	assert.NotEmpty(t, meta["updated"])

	moved := models.Coordinate{Lat: 39.5400, Lng: -89.3000}
	require.NoError(t, g.Upsert(ctx, rideID, "d1", models.StatusArrived, moved))
	n, err := client.ZCard(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "a ride has one position")

	require.NoError(t, g.Remove(ctx, rideID))
	n, err = client.ZCard(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	exists, err := client.Exists(ctx, metaKey(rideID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	require.NoError(t, g.Remove(ctx, rideID), "removing twice is fine")
}
