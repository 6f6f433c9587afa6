package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/api/handler"
	"github.com/airwatch/airwatch/internal/api/models"
)

type fakeReadingService struct {
	readings   []airquality.Reading
	pollutants []airquality.Pollutant
	stations   []airquality.MapStation
	err        error

	lat, lon float64
}

func (f *fakeReadingService) CurrentReadings(_ context.Context, lat, lon float64) ([]airquality.Reading, error) {
	f.lat, f.lon = lat, lon
	return f.readings, f.err
}

func (f *fakeReadingService) History(_ context.Context, lat, lon float64) ([]airquality.Reading, error) {
	f.lat, f.lon = lat, lon
	return f.readings, f.err
}

func (f *fakeReadingService) Pollutants(context.Context) ([]airquality.Pollutant, error) {
	return f.pollutants, f.err
}

func (f *fakeReadingService) MapData(context.Context) ([]airquality.MapStation, error) {
	return f.stations, f.err
}

func newReadingsRouter(svc handler.ReadingService, logger zerolog.Logger) http.Handler {
	h := handler.NewReadingsHandler(svc, logger)
	r := chi.NewRouter()
	r.Get("/pollutant-data/{latitude}/{longitude}", h.PollutantData)
	r.Get("/pollutant-history/{latitude}/{longitude}", h.PollutantHistory)
	r.Get("/pollutants", h.Pollutants)
	r.Get("/map-data", h.MapData)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestPollutantData_ParsesCoordinates(t *testing.T) {
	at := time.Date(2020, 12, 5, 11, 0, 0, 0, time.UTC)
	svc := &fakeReadingService{readings: []airquality.Reading{
		{ID: 1, StationID: 1, PollutantID: 2, Datetime: at, Value: 42},
	}}
	router := newReadingsRouter(svc, zerolog.Nop())

	rec := get(t, router, "/pollutant-data/48.8566/-2.35")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48.8566, svc.lat)
	assert.Equal(t, -2.35, svc.lon)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, float64(42), body[0]["value"])
	assert.Equal(t, float64(1), body[0]["stationId"])
	assert.Equal(t, "2020-12-05T11:00:00Z", body[0]["datetime"])
	assert.Nil(t, body[0]["predictionDatetime"])
}

func TestPollutantData_InvalidCoordinates(t *testing.T) {
	router := newReadingsRouter(&fakeReadingService{}, zerolog.Nop())

	tests := []struct {
		name   string
		path   string
		fields []string
	}{
		{"latitude not a number", "/pollutant-data/abc/2.35", []string{"latitude"}},
		{"longitude not a number", "/pollutant-history/48.85/east", []string{"longitude"}},
		{"both invalid", "/pollutant-data/x/y", []string{"latitude", "longitude"}},
		{"nan", "/pollutant-data/NaN/2.35", []string{"latitude"}},
		{"infinity", "/pollutant-history/48.85/Inf", []string{"longitude"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, tt.path)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var problem models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Len(t, problem.Errors, len(tt.fields))
			for i, field := range tt.fields {
				assert.Equal(t, field, problem.Errors[i].Field)
			}
		})
	}
}

func TestPollutantData_NotFound(t *testing.T) {
	svc := &fakeReadingService{err: fmt.Errorf("%w: station 3 has no readings", airquality.ErrNotFound)}
	router := newReadingsRouter(svc, zerolog.Nop())

	rec := get(t, router, "/pollutant-data/48.85/2.35")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "station 3 has no readings")
}

func TestPollutantHistory_InternalErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	svc := &fakeReadingService{err: errors.New("connection reset")}
	router := newReadingsRouter(svc, zerolog.New(&buf))

	rec := get(t, router, "/pollutant-history/48.85/2.35")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "connection reset", entry["error"])
	assert.Equal(t, "pollutant history", entry["op"])
}

func TestInvalidInputIsInternalError(t *testing.T) {
	svc := &fakeReadingService{err: fmt.Errorf("%w: no stations", airquality.ErrInvalidInput)}
	router := newReadingsRouter(svc, zerolog.Nop())

	rec := get(t, router, "/pollutant-data/48.85/2.35")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPollutants_EmptyListIsArray(t *testing.T) {
	router := newReadingsRouter(&fakeReadingService{}, zerolog.Nop())

	rec := get(t, router, "/pollutants")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPollutants_Fields(t *testing.T) {
	svc := &fakeReadingService{pollutants: []airquality.Pollutant{
		{ID: 1, FullName: "Fine particulate matter", ShortName: "PM2.5", ExternalName: "pm25", IsPollutant: true, Unit: "µg/m³"},
	}}
	router := newReadingsRouter(svc, zerolog.Nop())

	rec := get(t, router, "/pollutants")

	require.Equal(t, http.StatusOK, rec.Code)
	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "pm25", body[0]["waqiName"])
	assert.Equal(t, "PM2.5", body[0]["shortName"])
	assert.Equal(t, true, body[0]["isPollutant"])
}

func TestMapData_FlattensStation(t *testing.T) {
	svc := &fakeReadingService{stations: []airquality.MapStation{{
		Station: airquality.Station{ID: 7, Name: "Paris", Latitude: 48.85, Longitude: 2.35, ExternalID: 5722},
		Data:    []airquality.Reading{{ID: 1, StationID: 7, PollutantID: 1, Value: 12}},
	}}}
	router := newReadingsRouter(svc, zerolog.Nop())

	rec := get(t, router, "/map-data")

	require.Equal(t, http.StatusOK, rec.Code)
	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "Paris", body[0]["name"])
	assert.Equal(t, float64(5722), body[0]["externalId"])
	assert.Len(t, body[0]["data"], 1)
}
