package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

// Cached remembers successful resolutions in Redis. Misses and failures are
// not cached, and Redis errors fall through to the wrapped geocoder.
type Cached struct {
	next   Geocoder
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Geocoder, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) Resolve(ctx context.Context, address string) (models.Coordinate, error) {
	key := cacheKey(address)
	if v, err := c.client.Get(ctx, key).Result(); err == nil {
		if coord, ok := ParseCoordinate(v); ok {
			return coord, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("geocode cache read failed", "error", err)
	}

	coord, err := c.next.Resolve(ctx, address)
	if err != nil {
		return models.Coordinate{}, err
	}
	val := fmt.Sprintf("%.7f,%.7f", coord.Lat, coord.Lng)
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn("geocode cache write failed", "error", err)
	}
	return coord, nil
}

func cacheKey(address string) string {
	return "geocode:" + strings.ToLower(strings.Join(strings.Fields(address), " "))
}
