package waqi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// signedPollutants may legitimately report negative values (temperature, dew point).
var signedPollutants = []string{"t", "dew"}

// Feed is the data section of a successful feed response. The validate tags
// are checked by Validate.
type Feed struct {
	AQI          json.RawMessage      `json:"aqi" validate:"aqi"`
	Idx          int64                `json:"idx" validate:"gt=0"`
	Attributions []Attribution        `json:"attributions" validate:"required,dive"`
	City         City                 `json:"city"`
	DominentPol  string               `json:"dominentpol" validate:"omitempty,oneof=co dew h no2 o3 p pm10 pm25 so2 t w wg"`
	IAQI         map[string]IAQIValue `json:"iaqi" validate:"required,dive,keys,oneof=co dew h no2 o3 p pm10 pm25 so2 t w wg,endkeys"`
	Time         FeedTime             `json:"time"`
	Forecast     Forecast             `json:"forecast"`
	Debug        Debug                `json:"debug"`
}

// Attribution credits an upstream data source.
type Attribution struct {
	URL  string `json:"url" validate:"required,http_url"`
	Name string `json:"name" validate:"required"`
	Logo string `json:"logo,omitempty"`
}

// City describes the monitoring location.
type City struct {
	Geo  []float64 `json:"geo" validate:"len=2,dive,min=-180,max=180"`
	Name string    `json:"name" validate:"required"`
	URL  string    `json:"url" validate:"required,http_url"`
}

// IAQIValue is a single pollutant value.
type IAQIValue struct {
	V float64 `json:"v"`
}

// UnmarshalJSON accepts exactly {"v": number}.
func (v *IAQIValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		V *float64 `json:"v"`
	}
	if err := decodeStrict(data, &raw); err != nil {
		return fmt.Errorf("iaqi value: %w", err)
	}
	if raw.V == nil {
		return errors.New("iaqi value: missing v")
	}
	v.V = *raw.V
	return nil
}

// FeedTime is the observation time in several encodings.
type FeedTime struct {
	S   string `json:"s" validate:"required,datetime=2006-01-02 15:04:05"`
	TZ  string `json:"tz" validate:"required,datetime=-07:00"`
	V   int64  `json:"v" validate:"min=0"`
	ISO string `json:"iso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// Forecast holds per-pollutant daily forecasts.
type Forecast struct {
	Daily map[string][]DailyForecast `json:"daily" validate:"required,dive,keys,oneof=co dew h no2 o3 p pm10 pm25 so2 t w wg uvi,endkeys,min=1,dive"`
}

// DailyForecast is one day's forecast for a pollutant.
type DailyForecast struct {
	Avg float64 `json:"avg" validate:"integer"`
	Min float64 `json:"min" validate:"integer"`
	Max float64 `json:"max" validate:"integer"`
	Day string  `json:"day" validate:"required,datetime=2006-01-02"`
}

// UnmarshalJSON accepts exactly the avg, min, max and day keys.
func (d *DailyForecast) UnmarshalJSON(data []byte) error {
	var raw struct {
		Avg *float64 `json:"avg"`
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
		Day *string  `json:"day"`
	}
	if err := decodeStrict(data, &raw); err != nil {
		return fmt.Errorf("forecast day: %w", err)
	}
	if raw.Avg == nil || raw.Min == nil || raw.Max == nil || raw.Day == nil {
		return errors.New("forecast day: expected avg, min, max and day")
	}
	*d = DailyForecast{Avg: *raw.Avg, Min: *raw.Min, Max: *raw.Max, Day: *raw.Day}
	return nil
}

// Debug carries upstream sync information.
type Debug struct {
	Sync string `json:"sync" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// AQIValue returns the overall AQI when the feed reports a number. Stations
// without an index report "-".
func (f *Feed) AQIValue() (float64, bool) {
	var v *float64
	if err := json.Unmarshal(f.AQI, &v); err != nil || v == nil {
		return 0, false
	}
	return *v, true
}

// ObservedAt parses time.iso.
func (f *Feed) ObservedAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, f.Time.ISO)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse observation time %q: %w", f.Time.ISO, err)
	}
	return t, nil
}

// Location returns the station's UTC offset from time.tz.
func (f *Feed) Location() (*time.Location, error) {
	t, err := time.Parse("-07:00", f.Time.TZ)
	if err != nil {
		return nil, fmt.Errorf("parse timezone %q: %w", f.Time.TZ, err)
	}
	return t.Location(), nil
}

// ForecastTarget returns midnight of a forecast day in the station's timezone.
func (f *Feed) ForecastTarget(day string) (time.Time, error) {
	loc, err := f.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse forecast day %q: %w", day, err)
	}
	return t, nil
}
