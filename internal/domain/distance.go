package domain

import "math"

const (
	earthRadiusMiles = 3958.8
	earthRadiusKm    = 6371.0
)

// DistanceMiles returns the great-circle distance between a and b using the
// Haversine formula.
func DistanceMiles(a, b Coordinates) float64 {
	return haversine(a, b, earthRadiusMiles)
}

// DistanceKm is DistanceMiles in kilometres.
func DistanceKm(a, b Coordinates) float64 {
	return haversine(a, b, earthRadiusKm)
}

func haversine(a, b Coordinates, radius float64) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return radius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
