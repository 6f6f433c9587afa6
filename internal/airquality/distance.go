package airquality

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Distance returns the great-circle distance in kilometers between two
// points given in degrees. NaN inputs yield NaN.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const p = math.Pi / 180

	a := 0.5 - math.Cos((lat2-lat1)*p)/2 +
		math.Cos(lat1*p)*math.Cos(lat2*p)*(1-math.Cos((lon2-lon1)*p))/2

	// Rounding can push a slightly outside [0,1] for coincident or antipodal points.
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}
