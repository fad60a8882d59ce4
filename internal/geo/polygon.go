package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"fleet-monitor/telematics/internal/domain"
)

// MinPolygonPoints is the smallest vertex count accepted for a zone.
const MinPolygonPoints = 3

// Polygon converts zone vertices into a closed orb polygon.
func Polygon(vertices []domain.LatLng) orb.Polygon {
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, orb.Point{v.Lng, v.Lat})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// Contains reports whether (lat, lon) lies inside or on the zone boundary.
func Contains(vertices []domain.LatLng, lat, lon float64) bool {
	if len(vertices) < MinPolygonPoints {
		return false
	}
	return planar.PolygonContains(Polygon(vertices), orb.Point{lon, lat})
}

// ZoneState classifies a position against the zone.
func ZoneState(vertices []domain.LatLng, lat, lon float64) domain.ZoneState {
	if Contains(vertices, lat, lon) {
		return domain.ZoneIn
	}
	return domain.ZoneViolation
}
