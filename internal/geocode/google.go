package geocode

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/example/ride-tracking/internal/models"
)

// Google resolves addresses with the Google Maps Geocoding API.
type Google struct {
	client *maps.Client
}

func NewGoogle(apiKey string, opts ...maps.ClientOption) (*Google, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client}, nil
}

func (g *Google) Resolve(ctx context.Context, address string) (models.Coordinate, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		// Some client versions report an empty answer as a status error.
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return models.Coordinate{}, ErrNoMatch
		}
		return models.Coordinate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return models.Coordinate{}, ErrNoMatch
	}
	loc := results[0].Geometry.Location
	return models.Coordinate{Lat: loc.Lat, Lng: loc.Lng}, nil
}
