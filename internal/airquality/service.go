package airquality

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Default service settings.
const (
	DefaultAggregatePollutant = "aqi"
	DefaultStaleAfter         = 6 * time.Hour
	DefaultHistoryLimit       = 500
)

// ServiceConfig holds configuration for the reading service.
type ServiceConfig struct {
	// Repository provides stations, pollutants and readings.
	Repository Repository

	// Logger receives staleness and fallback diagnostics.
	Logger zerolog.Logger

	// AggregatePollutant is the external name of the aggregate index (default: "aqi").
	AggregatePollutant string

	// FarStationKm is the distance above which the resolved station is reported (default: 100).
	FarStationKm float64

	// StaleAfter is the age after which the current batch is reported stale (default: 6h).
	StaleAfter time.Duration

	// HistoryLimit caps the number of actual readings in a history (default: 500).
	HistoryLimit int

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service assembles current and historical readings for the station closest to a point.
type Service struct {
	repo               Repository
	logger             zerolog.Logger
	aggregatePollutant string
	farStationKm       float64
	staleAfter         time.Duration
	historyLimit       int
	now                func() time.Time
}

// NewService creates a new reading service.
func NewService(cfg ServiceConfig) *Service {
	aggregate := cfg.AggregatePollutant
	if aggregate == "" {
		aggregate = DefaultAggregatePollutant
	}

	farKm := cfg.FarStationKm
	if farKm <= 0 {
		farKm = DefaultFarStationKm
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:               cfg.Repository,
		logger:             cfg.Logger,
		aggregatePollutant: aggregate,
		farStationKm:       farKm,
		staleAfter:         staleAfter,
		historyLimit:       limit,
		now:                now,
	}
}

// ResolveStation returns the ID of the station closest to (lat, lon).
func (s *Service) ResolveStation(ctx context.Context, lat, lon float64) (int64, error) {
	stations, err := s.repo.ListStations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stations: %w", err)
	}
	return ClosestStation(lat, lon, stations, s.logger, s.farStationKm)
}

// CurrentReadings returns the latest batch of actual readings at the
// closest station. If the batch has no aggregate index value, the most
// recent earlier one is appended.
func (s *Service) CurrentReadings(ctx context.Context, lat, lon float64) ([]Reading, error) {
	stationID, err := s.ResolveStation(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	latest, err := s.repo.MaxTimestamp(ctx, ColumnDatetime, Actuals(stationID))
	if err != nil {
		return nil, fmt.Errorf("latest reading time: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: station %d has no readings", ErrNotFound, stationID)
	}

	batchFilter := Actuals(stationID)
	batchFilter.Datetime = latest
	readings, err := s.repo.FindReadings(ctx, batchFilter)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}

	aggregate, err := s.aggregate(ctx)
	if err != nil {
		return nil, err
	}

	if !containsPollutant(readings, aggregate.ID) {
		fallbackFilter := Actuals(stationID)
		fallbackFilter.PollutantID = &aggregate.ID
		fallbackFilter.Order = OrderNewestFirst
		fallbackFilter.Limit = 1

		fallback, err := s.repo.FindReadings(ctx, fallbackFilter)
		if err != nil {
			return nil, fmt.Errorf("fallback %s reading: %w", aggregate.ExternalName, err)
		}

		if len(fallback) > 0 {
			gap := latest.Sub(fallback[0].Datetime)
			s.logger.Warn().
				Int64("station_id", stationID).
				Str("pollutant", aggregate.ExternalName).
				Time("latest", *latest).
				Time("fallback", fallback[0].Datetime).
				Dur("gap", gap).
				Msgf("latest batch has no %s value, using one %s older", aggregate.ShortName, gap)
			readings = append(readings, fallback[0])
		} else {
			s.logger.Warn().
				Int64("station_id", stationID).
				Str("pollutant", aggregate.ExternalName).
				Msgf("no %s value recorded for station", aggregate.ShortName)
		}
	}

	if age := s.now().Sub(*latest); age > s.staleAfter {
		s.logger.Warn().
			Int64("station_id", stationID).
			Time("latest", *latest).
			Dur("age", age).
			Msg("latest readings are stale")
	}

	return readings, nil
}

// History returns up to HistoryLimit actual readings at the closest station,
// newest first, followed by the freshest forecast run's predictions that
// lie beyond the last actual reading.
func (s *Service) History(ctx context.Context, lat, lon float64) ([]Reading, error) {
	stationID, err := s.ResolveStation(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	actualFilter := Actuals(stationID)
	actualFilter.Order = OrderNewestFirst
	actualFilter.Limit = s.historyLimit
	actuals, err := s.repo.FindReadings(ctx, actualFilter)
	if err != nil {
		return nil, fmt.Errorf("history readings: %w", err)
	}

	latestTarget, err := s.repo.MaxTimestamp(ctx, ColumnPredictionDatetime, Predictions(stationID))
	if err != nil {
		return nil, fmt.Errorf("latest prediction target: %w", err)
	}
	if latestTarget == nil {
		s.logger.Debug().
			Int64("station_id", stationID).
			Msg("no predictions for station")
		return actuals, nil
	}

	var cutoff time.Time
	for _, r := range actuals {
		if r.Datetime.After(cutoff) {
			cutoff = r.Datetime
		}
	}

	if !latestTarget.After(cutoff) {
		s.logger.Warn().
			Int64("station_id", stationID).
			Time("latest_target", *latestTarget).
			Time("latest_actual", cutoff).
			Msg("predictions are older than actual readings")
		return actuals, nil
	}

	runFilter := Predictions(stationID)
	runFilter.PredictionDatetime = latestTarget
	run, err := s.repo.MaxTimestamp(ctx, ColumnDatetime, runFilter)
	if err != nil {
		return nil, fmt.Errorf("latest forecast run: %w", err)
	}
	if run == nil {
		return actuals, nil
	}

	predictionFilter := Predictions(stationID)
	predictionFilter.Datetime = run
	predictionFilter.PredictionAfter = &cutoff
	predictionFilter.Order = OrderByTarget
	predictions, err := s.repo.FindReadings(ctx, predictionFilter)
	if err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}

	return append(actuals, predictions...), nil
}

// Pollutants returns the pollutant reference data.
func (s *Service) Pollutants(ctx context.Context) ([]Pollutant, error) {
	pollutants, err := s.repo.ListPollutants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pollutants: %w", err)
	}
	return pollutants, nil
}

// MapData returns every station that has actual readings together with its
// latest batch.
func (s *Service) MapData(ctx context.Context) ([]MapStation, error) {
	stations, err := s.repo.ListStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	result := make([]MapStation, 0, len(stations))
	for _, station := range stations {
		latest, err := s.repo.MaxTimestamp(ctx, ColumnDatetime, Actuals(station.ID))
		if err != nil {
			return nil, fmt.Errorf("latest reading time for station %d: %w", station.ID, err)
		}
		if latest == nil {
			continue
		}

		filter := Actuals(station.ID)
		filter.Datetime = latest
		readings, err := s.repo.FindReadings(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("latest readings for station %d: %w", station.ID, err)
		}

		result = append(result, MapStation{Station: station, Data: readings})
	}

	return result, nil
}

// aggregate returns the configured aggregate index pollutant.
func (s *Service) aggregate(ctx context.Context) (*Pollutant, error) {
	pollutants, err := s.repo.ListPollutants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pollutants: %w", err)
	}
	for i := range pollutants {
		if pollutants[i].ExternalName == s.aggregatePollutant {
			return &pollutants[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrAggregatePollutantMissing, s.aggregatePollutant)
}

func containsPollutant(readings []Reading, pollutantID int64) bool {
	for _, r := range readings {
		if r.PollutantID == pollutantID {
			return true
		}
	}
	return false
}
