package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim queries the OpenStreetMap search API.
type Nominatim struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func NewNominatim(endpoint, userAgent string) *Nominatim {
	if endpoint == "" {
		endpoint = DefaultNominatimURL
	}
	return &Nominatim{Endpoint: endpoint, UserAgent: userAgent, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (n *Nominatim) Resolve(ctx context.Context, address string) (models.Coordinate, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return models.Coordinate{}, err
	}
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return models.Coordinate{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Coordinate{}, fmt.Errorf("nominatim returned %d", resp.StatusCode)
	}

	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coordinate{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(out) == 0 {
		return models.Coordinate{}, ErrNoMatch
	}
	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("nominatim lat: %w", err)
	}
	lng, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("nominatim lon: %w", err)
	}
	return models.Coordinate{Lat: lat, Lng: lng}, nil
}
