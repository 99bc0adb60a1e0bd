// Package geocode resolves free-text addresses to coordinates.
package geocode

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
)

// ErrNoMatch means the provider answered but found nothing. Any other error
// from a Geocoder is a transient failure.
var ErrNoMatch = errors.New("geocode: no match")

type Geocoder interface {
	Resolve(ctx context.Context, address string) (models.Coordinate, error)
}

// ParseCoordinate accepts a "lat, lng" literal such as "39.54950, -89.29370".
func ParseCoordinate(text string) (models.Coordinate, bool) {
	parts := strings.Split(strings.TrimSpace(text), ",")
	if len(parts) != 2 {
		return models.Coordinate{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return models.Coordinate{}, false
	}
	c := models.Coordinate{Lat: lat, Lng: lng}
	if !geo.Finite(c) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.Coordinate{}, false
	}
	return c, true
}

// Literal short-circuits coordinate literals and sends everything else to
// the wrapped geocoder.
type Literal struct {
	Next Geocoder
}

func (l Literal) Resolve(ctx context.Context, address string) (models.Coordinate, error) {
	if c, ok := ParseCoordinate(address); ok {
		return c, nil
	}
	if strings.TrimSpace(address) == "" {
		return models.Coordinate{}, ErrNoMatch
	}
	return l.Next.Resolve(ctx, address)
}
