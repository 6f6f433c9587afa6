package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/airquality/waqi"
)

// ErrUnknownPollutant is returned when a feed reports a value for a
// pollutant that has no reference row.
var ErrUnknownPollutant = errors.New("unknown pollutant")

// FeedFetcher retrieves the current feed of a station.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, externalID int64) (*waqi.Feed, error)
}

// JobConfig holds configuration for creating a Job.
type JobConfig struct {
	Config   Config
	Store    airquality.Store
	Fetcher  FeedFetcher
	Notifier Notifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Job ingests the feed of every known station.
type Job struct {
	config   Config
	store    airquality.Store
	fetcher  FeedFetcher
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time

	// Serializes runs triggered by the schedule, Pub/Sub and the admin API.
	runMu sync.Mutex

	metrics *Metrics
}

// NewJob creates a new ingest job.
func NewJob(cfg JobConfig) *Job {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Job{
		config:   cfg.Config.withDefaults(),
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      now,
		metrics:  &Metrics{},
	}
}

// Result summarizes an ingest run.
type Result struct {
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Duration  time.Duration  `json:"duration"`
	Stations  int            `json:"stations"`
	Ingested  int            `json:"ingested"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Inserted  int            `json:"inserted"`
	Errors    []StationError `json:"errors,omitempty"`
}

// StationError records why one station could not be ingested.
type StationError struct {
	StationID  int64  `json:"stationId"`
	ExternalID int64  `json:"externalId"`
	Error      string `json:"error"`
}

type stationResult struct {
	station  airquality.Station
	inserted int
	skipped  bool
	err      error
}

// Run ingests every station once. The returned error joins the failures of
// individual stations; the result is always populated.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	startTime := j.now()
	result := &Result{StartTime: startTime}

	err := j.run(ctx, result)

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)
	j.metrics.record(result, err)

	event := j.logger.Info()
	if err != nil {
		event = j.logger.Error().Err(err)
	}
	event.
		Dur("duration", result.Duration).
		Int("stations", result.Stations).
		Int("ingested", result.Ingested).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("inserted", result.Inserted).
		Msg("ingest run completed")

	return result, err
}

func (j *Job) run(ctx context.Context, result *Result) error {
	stations, err := j.store.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}
	pollutantList, err := j.store.ListPollutants(ctx)
	if err != nil {
		return fmt.Errorf("list pollutants: %w", err)
	}

	pollutants := make(map[string]airquality.Pollutant, len(pollutantList))
	for _, p := range pollutantList {
		pollutants[p.ExternalName] = p
	}

	result.Stations = len(stations)

	j.logger.Info().
		Int("stations", len(stations)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting ingest run")

	stationsChan := make(chan airquality.Station, len(stations))
	resultsChan := make(chan stationResult, len(stations))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.worker(ctx, pollutants, stationsChan, resultsChan)
		}()
	}

	for _, s := range stations {
		stationsChan <- s
	}
	close(stationsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var (
		errs    []error
		touched []int64
	)
	for sr := range resultsChan {
		switch {
		case sr.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, StationError{
				StationID:  sr.station.ID,
				ExternalID: sr.station.ExternalID,
				Error:      sr.err.Error(),
			})
			errs = append(errs, fmt.Errorf("station %d: %w", sr.station.ExternalID, sr.err))
		case sr.skipped:
			result.Skipped++
		default:
			result.Ingested++
			result.Inserted += sr.inserted
			if sr.inserted > 0 {
				touched = append(touched, sr.station.ID)
			}
		}
	}

	// Stations never picked up because the context ended.
	if processed := result.Failed + result.Skipped + result.Ingested; processed < len(stations) {
		errs = append(errs, fmt.Errorf("%d stations not processed: %w", len(stations)-processed, ctx.Err()))
	}

	sort.Slice(result.Errors, func(a, b int) bool {
		return result.Errors[a].StationID < result.Errors[b].StationID
	})

	if len(touched) > 0 && j.notifier != nil {
		sort.Slice(touched, func(a, b int) bool { return touched[a] < touched[b] })
		event := Event{FinishedAt: j.now(), StationIDs: touched, Inserted: result.Inserted}
		if err := j.notifier.Notify(ctx, event); err != nil {
			j.logger.Warn().Err(err).Msg("failed to publish ingest event")
		}
	}

	return errors.Join(errs...)
}

func (j *Job) worker(ctx context.Context, pollutants map[string]airquality.Pollutant, stations <-chan airquality.Station, results chan<- stationResult) {
	for station := range stations {
		select {
		case <-ctx.Done():
			return
		default:
			results <- j.ingestStation(ctx, station, pollutants)
		}
	}
}

func (j *Job) ingestStation(ctx context.Context, station airquality.Station, pollutants map[string]airquality.Pollutant) stationResult {
	result := stationResult{station: station}
	logger := j.logger.With().
		Int64("station_id", station.ID).
		Int64("external_id", station.ExternalID).
		Logger()

	stationCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	feed, err := j.fetcher.FetchFeed(stationCtx, station.ExternalID)
	if err != nil {
		result.err = err
		return result
	}

	observed, err := feed.ObservedAt()
	if err != nil {
		result.err = err
		return result
	}

	recent, err := j.store.RecentDatetimes(stationCtx, station.ID, j.config.RecentWindow)
	if err != nil {
		result.err = fmt.Errorf("recent datetimes: %w", err)
		return result
	}
	for _, t := range recent {
		if t.Equal(observed) {
			logger.Debug().Time("datetime", observed).Msg("feed already stored, skipping station")
			result.skipped = true
			return result
		}
	}

	readings, err := j.buildReadings(logger, station, feed, observed, pollutants)
	if err != nil {
		result.err = err
		return result
	}

	if len(readings) == 0 {
		return result
	}

	inserted, err := j.store.InsertReadings(stationCtx, readings)
	if err != nil {
		result.err = fmt.Errorf("insert readings: %w", err)
		return result
	}

	logger.Debug().
		Time("datetime", observed).
		Int("inserted", inserted).
		Msg("station ingested")

	result.inserted = inserted
	return result
}

// buildReadings converts a feed into actual readings at the observation
// time followed by one prediction per forecast day.
func (j *Job) buildReadings(logger zerolog.Logger, station airquality.Station, feed *waqi.Feed, observed time.Time, pollutants map[string]airquality.Pollutant) ([]airquality.Reading, error) {
	var readings []airquality.Reading

	names := make([]string, 0, len(feed.IAQI))
	for name := range feed.IAQI {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, ok := pollutants[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPollutant, name)
		}
		readings = append(readings, airquality.Reading{
			StationID:   station.ID,
			PollutantID: p.ID,
			Datetime:    observed,
			Value:       feed.IAQI[name].V,
		})
	}

	if aqi, ok := feed.AQIValue(); ok {
		p, ok := pollutants[j.config.AggregatePollutant]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPollutant, j.config.AggregatePollutant)
		}
		readings = append(readings, airquality.Reading{
			StationID:   station.ID,
			PollutantID: p.ID,
			Datetime:    observed,
			Value:       aqi,
		})
	}

	forecastNames := make([]string, 0, len(feed.Forecast.Daily))
	for name := range feed.Forecast.Daily {
		forecastNames = append(forecastNames, name)
	}
	sort.Strings(forecastNames)

	for _, name := range forecastNames {
		p, ok := pollutants[name]
		if !ok {
			logger.Debug().Str("pollutant", name).Msg("no pollutant configured for forecast, skipping")
			continue
		}
		for _, day := range feed.Forecast.Daily[name] {
			target, err := feed.ForecastTarget(day.Day)
			if err != nil {
				return nil, err
			}
			readings = append(readings, airquality.Reading{
				StationID:          station.ID,
				PollutantID:        p.ID,
				Datetime:           observed,
				Value:              day.Avg,
				IsPrediction:       true,
				PredictionDatetime: &target,
			})
		}
	}

	return readings, nil
}

// Metrics returns the job's running statistics.
func (j *Job) Metrics() *Metrics {
	return j.metrics
}
