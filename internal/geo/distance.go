package geo

import "math"

const (
	EarthRadiusMeters = 6371000.0
	EarthRadiusKm     = 6371.0
)

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Haversine returns the great-circle distance between two points on a sphere of
// the given radius. The result is in the unit of radius.
func Haversine(lat1, lon1, lat2, lon2, radius float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return radius * c
}

func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2, EarthRadiusMeters)
}

func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2, EarthRadiusKm)
}
