package airquality_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airwatch/airwatch/internal/airquality"
)

func TestDistance_NiceToBrest(t *testing.T) {
	d := airquality.Distance(43.7032932, 7.1827771, 48.4085008, -4.5696404)
	assert.InDelta(t, 1045.319, d, 0.001)
}

func TestDistance_CoincidentPoints(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{48.8534, 2.3488},
		{-33.8688, 151.2093},
		{89.9999, -179.9999},
	}

	for _, p := range points {
		assert.InDelta(t, 0, airquality.Distance(p[0], p[1], p[0], p[1]), 1e-9)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := [2]float64{48.8534, 2.3488}
	b := [2]float64{40.7128, -74.0060}

	ab := airquality.Distance(a[0], a[1], b[0], b[1])
	ba := airquality.Distance(b[0], b[1], a[0], a[1])

	assert.InDelta(t, ab, ba, 1e-9)
	assert.Greater(t, ab, 0.0)
}

func TestDistance_Antipodal(t *testing.T) {
	d := airquality.Distance(0, 0, 0, 180)

	assert.False(t, math.IsNaN(d))
	assert.InDelta(t, math.Pi*airquality.EarthRadiusKm, d, 1e-6)

	poles := airquality.Distance(90, 0, -90, 0)
	assert.False(t, math.IsNaN(poles))
	assert.InDelta(t, math.Pi*airquality.EarthRadiusKm, poles, 1e-6)
}

func TestDistance_NaNPropagates(t *testing.T) {
	assert.True(t, math.IsNaN(airquality.Distance(math.NaN(), 0, 0, 0)))
}
