package airquality

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// DefaultFarStationKm is the distance above which a resolved station is
// reported as implausibly far.
const DefaultFarStationKm = 100.0

// ClosestStation returns the ID of the station nearest to (lat, lon).
// Ties keep the station that appears first in stations. A warning is logged
// when the nearest station is farther than farKm; the result is unaffected.
func ClosestStation(lat, lon float64, stations []Station, logger zerolog.Logger, farKm float64) (int64, error) {
	if len(stations) == 0 {
		return 0, fmt.Errorf("%w: no stations to choose from", ErrInvalidInput)
	}

	closestID := stations[0].ID
	minDistance := math.Inf(1)
	for _, s := range stations {
		d := Distance(lat, lon, s.Latitude, s.Longitude)
		if d < minDistance {
			minDistance = d
			closestID = s.ID
		}
	}

	if minDistance > farKm {
		logger.Warn().
			Int64("station_id", closestID).
			Int64("distance_km", int64(minDistance)).
			Msgf("closest station %d is %d km away", closestID, int64(minDistance))
	}

	return closestID, nil
}
