package tracker

import "math"

// earthRadiusKm is the WGS-84 mean radius.
const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres between two
// WGS-84 coordinates. Non-finite or out-of-range coordinates contribute
// zero distance rather than poisoning the accumulator.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	if !validCoordinate(lat1, lon1) || !validCoordinate(lat2, lon2) {
		return 0
	}

	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
