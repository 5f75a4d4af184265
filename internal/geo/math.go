package geo

import (
	"errors"
	"math"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/models"
)

const earthRadiusKm = 6371

var ErrEmptyInput = errors.New("geo: empty point set")

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceKm returns the haversine great-circle distance between two points.
func DistanceKm(a, b models.Coordinates) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// RouteDistanceKm sums leg distances along an ordered point sequence.
func RouteDistanceKm(points []models.Coordinates) float64 {
	var total float64
	for i := 0; i < len(points)-1; i++ {
		total += DistanceKm(points[i], points[i+1])
	}
	return total
}

// trafficFactor is a deterministic speed divisor keyed by local hour and
// weekend flag: >1 slows travel, <1 speeds it up.
func trafficFactor(hour int, isWeekend bool) float64 {
	if isWeekend {
		if hour >= 10 && hour <= 20 {
			return 1.3
		}
		return 1.1
	}

	switch {
	case (hour >= 7 && hour <= 9) || (hour >= 17 && hour <= 19):
		return 2.0
	case (hour >= 6 && hour <= 10) || (hour >= 16 && hour <= 20):
		return 1.5
	case hour >= 11 && hour <= 15:
		return 1.2
	case hour >= 21 || hour <= 5:
		return 0.9
	default:
		return 1.1
	}
}

// ETAMinutes estimates travel time between two points at baseSpeedKmh,
// adjusted for time-of-day traffic and rounded up to the next whole minute.
// A non-positive base speed yields 0: no estimate, not an infinite one.
func ETAMinutes(origin, destination models.Coordinates, baseSpeedKmh float64, now time.Time) int {
	if baseSpeedKmh <= 0 {
		return 0
	}
	distance := DistanceKm(origin, destination)

	wd := now.Weekday()
	factor := trafficFactor(now.Hour(), wd == time.Saturday || wd == time.Sunday)
	adjusted := baseSpeedKmh / factor

	return int(math.Ceil(distance / adjusted * 60))
}

type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoundsOf derives the bounding rectangle of a non-empty point set.
func BoundsOf(points []models.Coordinates) (Bounds, error) {
	if len(points) == 0 {
		return Bounds{}, ErrEmptyInput
	}

	b := Bounds{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLng: points[0].Lng, MaxLng: points[0].Lng,
	}
	for _, p := range points[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return b, nil
}

func (b Bounds) Center() models.Coordinates {
	return models.Coordinates{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lng: (b.MinLng + b.MaxLng) / 2,
	}
}

// ZoomFor maps a bounding rectangle to a discrete map zoom level.
func ZoomFor(b Bounds) int {
	maxDiff := math.Max(b.MaxLat-b.MinLat, b.MaxLng-b.MinLng)

	switch {
	case maxDiff < 0.0001:
		return 18
	case maxDiff < 0.001:
		return 16
	case maxDiff < 0.01:
		return 14
	case maxDiff < 0.1:
		return 12
	case maxDiff < 1:
		return 10
	case maxDiff < 10:
		return 8
	default:
		return 6
	}
}

// WithinRadius reports whether point lies within radiusKm of center.
func WithinRadius(center, point models.Coordinates, radiusKm float64) bool {
	return DistanceKm(center, point) <= radiusKm
}

// BoundingBox approximates a square box of radiusKm around center.
// One degree of latitude spans roughly 111 km.
func BoundingBox(center models.Coordinates, radiusKm float64) Bounds {
	latChange := radiusKm / 111
	lngChange := radiusKm / (111 * math.Cos(toRad(center.Lat)))

	return Bounds{
		MinLat: center.Lat - latChange,
		MaxLat: center.Lat + latChange,
		MinLng: center.Lng - lngChange,
		MaxLng: center.Lng + lngChange,
	}
}
