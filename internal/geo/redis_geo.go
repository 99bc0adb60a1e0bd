package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

// RedisGeo mirrors live driver positions of tracked rides into a Redis GEO
// set so other services can query who is where.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

// Upsert stores the position under the ride id, with ride metadata in a hash.
func (r *RedisGeo) Upsert(ctx context.Context, rideID, driverID string, status models.Status, c models.Coordinate) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lng, Latitude: c.Lat, Name: rideID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(rideID), map[string]interface{}{
		"driver_id": driverID,
		"status":    string(status),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, rideID string) error {
	if err := r.client.ZRem(ctx, r.key, rideID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(rideID)).Err()
}

func metaKey(rideID string) string { return "ride:driver:" + rideID }
