package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-tracking/internal/models"
)

// GeohashPrecision of 7 characters is roughly a 150m cell.
const GeohashPrecision = 7

// Delta returns target - from, component-wise.
func Delta(from, target models.Coordinate) models.Coordinate {
	return models.Coordinate{Lat: target.Lat - from.Lat, Lng: target.Lng - from.Lng}
}

// PlanarDistance treats decimal degrees as a flat plane. Good enough at city
// scale, not geodesically exact.
func PlanarDistance(a, b models.Coordinate) float64 {
	d := Delta(a, b)
	return math.Sqrt(d.Lat*d.Lat + d.Lng*d.Lng)
}

// Toward moves from by fraction of the remaining delta to target. fraction
// must be in (0, 1) to avoid overshooting.
func Toward(from, target models.Coordinate, fraction float64) models.Coordinate {
	d := Delta(from, target)
	return models.Coordinate{
		Lat: from.Lat + d.Lat*fraction,
		Lng: from.Lng + d.Lng*fraction,
	}
}

// Offset shifts c by the same amount on both axes.
func Offset(c models.Coordinate, by float64) models.Coordinate {
	return models.Coordinate{Lat: c.Lat + by, Lng: c.Lng + by}
}

// Haversine distance in meters
func Haversine(a, b models.Coordinate) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func Geohash(c models.Coordinate) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, GeohashPrecision)
}

func Finite(c models.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) && !math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}
