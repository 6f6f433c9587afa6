// Package handler provides HTTP handlers for the air quality API.
package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/api/middleware"
	"github.com/airwatch/airwatch/internal/api/models"
	"github.com/airwatch/airwatch/internal/api/response"
)

// ReadingService is the read side used by ReadingsHandler.
// *airquality.Service implements it.
type ReadingService interface {
	CurrentReadings(ctx context.Context, lat, lon float64) ([]airquality.Reading, error)
	History(ctx context.Context, lat, lon float64) ([]airquality.Reading, error)
	Pollutants(ctx context.Context) ([]airquality.Pollutant, error)
	MapData(ctx context.Context) ([]airquality.MapStation, error)
}

// ReadingsHandler serves pollutant readings, the pollutant list and map data.
type ReadingsHandler struct {
	service ReadingService
	logger  zerolog.Logger
}

// NewReadingsHandler creates a new ReadingsHandler.
func NewReadingsHandler(service ReadingService, logger zerolog.Logger) *ReadingsHandler {
	return &ReadingsHandler{service: service, logger: logger}
}

// PollutantData handles GET /api/pollutant-data/{latitude}/{longitude}.
func (h *ReadingsHandler) PollutantData(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := coordinates(w, r)
	if !ok {
		return
	}

	readings, err := h.service.CurrentReadings(r.Context(), lat, lon)
	if err != nil {
		h.writeError(w, r, err, "current readings")
		return
	}
	response.JSON(w, r, http.StatusOK, nonNil(readings))
}

// PollutantHistory handles GET /api/pollutant-history/{latitude}/{longitude}.
func (h *ReadingsHandler) PollutantHistory(w http.ResponseWriter, r *http.Request) {
	lat, lon, ok := coordinates(w, r)
	if !ok {
		return
	}

	readings, err := h.service.History(r.Context(), lat, lon)
	if err != nil {
		h.writeError(w, r, err, "pollutant history")
		return
	}
	response.JSON(w, r, http.StatusOK, nonNil(readings))
}

// Pollutants handles GET /api/pollutants.
func (h *ReadingsHandler) Pollutants(w http.ResponseWriter, r *http.Request) {
	pollutants, err := h.service.Pollutants(r.Context())
	if err != nil {
		h.writeError(w, r, err, "list pollutants")
		return
	}
	response.JSON(w, r, http.StatusOK, nonNil(pollutants))
}

// MapData handles GET /api/map-data.
func (h *ReadingsHandler) MapData(w http.ResponseWriter, r *http.Request) {
	stations, err := h.service.MapData(r.Context())
	if err != nil {
		h.writeError(w, r, err, "map data")
		return
	}
	response.JSON(w, r, http.StatusOK, nonNil(stations))
}

func (h *ReadingsHandler) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, airquality.ErrNotFound) {
		response.NotFound(w, r, err.Error())
		return
	}

	h.logger.Error().
		Err(err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("op", op).
		Msg("request failed")
	response.InternalError(w, r, "failed to load "+op)
}

// coordinates parses the latitude and longitude path parameters and writes
// a 400 problem if either is not a finite number.
func coordinates(w http.ResponseWriter, r *http.Request) (float64, float64, bool) {
	var fieldErrors []models.FieldError

	parse := func(name string) float64 {
		raw := chi.URLParam(r, name)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			fieldErrors = append(fieldErrors, models.FieldError{
				Field:   name,
				Message: "must be a finite number, got " + strconv.Quote(raw),
				Code:    "invalid_number",
			})
		}
		return v
	}

	lat := parse("latitude")
	lon := parse("longitude")
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid coordinates", fieldErrors)
		return 0, 0, false
	}
	return lat, lon, true
}

// nonNil keeps empty results encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
