// Package airquality resolves the monitoring station closest to a point and
// assembles its current and historical pollutant readings.
package airquality

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors.
var (
	ErrInvalidInput              = errors.New("invalid input")
	ErrNotFound                  = errors.New("no readings found")
	ErrAggregatePollutantMissing = errors.New("aggregate index pollutant not configured")
	ErrInvalidReading            = errors.New("invalid reading")
)

// Station is an air quality monitoring station.
type Station struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	ExternalID int64      `json:"externalId"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt"`
}

// Pollutant is a measured quantity. Derived indices such as the aggregate
// AQI live in the same table; IsPollutant tells true pollutants apart.
type Pollutant struct {
	ID          int64  `json:"id"`
	FullName    string `json:"fullName"`
	ShortName   string `json:"shortName"`
	Description string `json:"description"`

	// ExternalName is the key used by the upstream feed (e.g. "pm25", "aqi").
	ExternalName string     `json:"waqiName"`
	IsPollutant  bool       `json:"isPollutant"`
	Unit         string     `json:"unit"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DeletedAt    *time.Time `json:"deletedAt"`
}

// Reading is a single pollutant value at a station. Predictions carry the
// time they are for in PredictionDatetime; Datetime is when the forecast
// run was issued.
type Reading struct {
	ID                 int64      `json:"id"`
	StationID          int64      `json:"stationId"`
	PollutantID        int64      `json:"pollutantId"`
	Datetime           time.Time  `json:"datetime"`
	Value              float64    `json:"value"`
	IsPrediction       bool       `json:"isPrediction"`
	PredictionDatetime *time.Time `json:"predictionDatetime"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	DeletedAt          *time.Time `json:"deletedAt"`
}

// Validate checks that the prediction flag and target agree.
func (r Reading) Validate() error {
	if r.IsPrediction && r.PredictionDatetime == nil {
		return fmt.Errorf("%w: prediction without target datetime", ErrInvalidReading)
	}
	if !r.IsPrediction && r.PredictionDatetime != nil {
		return fmt.Errorf("%w: target datetime on actual reading", ErrInvalidReading)
	}
	if r.StationID == 0 || r.PollutantID == 0 {
		return fmt.Errorf("%w: missing station or pollutant", ErrInvalidReading)
	}
	return nil
}

// key identifies a reading for uniqueness checks.
type readingKey struct {
	stationID   int64
	pollutantID int64
	datetime    int64
	target      int64
	hasTarget   bool
}

func keyOf(r *Reading) readingKey {
	k := readingKey{
		stationID:   r.StationID,
		pollutantID: r.PollutantID,
		datetime:    r.Datetime.UnixNano(),
	}
	if r.PredictionDatetime != nil {
		k.target = r.PredictionDatetime.UnixNano()
		k.hasTarget = true
	}
	return k
}

// MapStation is a station together with its latest batch of actual readings.
type MapStation struct {
	Station
	Data []Reading `json:"data"`
}
