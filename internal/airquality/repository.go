package airquality

import (
	"context"
	"time"
)

// TimestampColumn selects which reading timestamp MaxTimestamp aggregates.
type TimestampColumn int

const (
	// ColumnDatetime is the observation (or forecast run) time.
	ColumnDatetime TimestampColumn = iota
	// ColumnPredictionDatetime is the time a prediction is for.
	ColumnPredictionDatetime
)

// ReadingOrder selects the ordering of FindReadings results.
type ReadingOrder int

const (
	// OrderByID sorts by id ascending.
	OrderByID ReadingOrder = iota
	// OrderNewestFirst sorts by datetime descending, then id ascending.
	OrderNewestFirst
	// OrderByTarget sorts by prediction datetime ascending, then id ascending.
	OrderByTarget
)

// ReadingFilter narrows a reading query. Nil fields are not constrained.
// Soft-deleted readings never match.
type ReadingFilter struct {
	StationID          int64
	PollutantID        *int64
	Datetime           *time.Time
	IsPrediction       *bool
	PredictionDatetime *time.Time

	// PredictionAfter keeps predictions whose target is strictly later.
	PredictionAfter *time.Time

	Order ReadingOrder
	Limit int
}

// Actuals returns a filter for non-prediction readings at a station.
func Actuals(stationID int64) ReadingFilter {
	f := false
	return ReadingFilter{StationID: stationID, IsPrediction: &f}
}

// Predictions returns a filter for prediction readings at a station.
func Predictions(stationID int64) ReadingFilter {
	t := true
	return ReadingFilter{StationID: stationID, IsPrediction: &t}
}

// Repository is the read side of reading storage.
type Repository interface {
	// ListStations returns all live stations ordered by id.
	ListStations(ctx context.Context) ([]Station, error)

	// ListPollutants returns all live pollutants ordered by id.
	ListPollutants(ctx context.Context) ([]Pollutant, error)

	// MaxTimestamp returns the greatest value of column among readings
	// matching filter, or nil when nothing matches.
	MaxTimestamp(ctx context.Context, column TimestampColumn, filter ReadingFilter) (*time.Time, error)

	// FindReadings returns readings matching filter.
	FindReadings(ctx context.Context, filter ReadingFilter) ([]Reading, error)

	// Ping checks that storage is reachable.
	Ping(ctx context.Context) error
}

// Writer is the ingestion side of reading storage.
type Writer interface {
	// UpsertStation inserts or updates a station keyed by ExternalID and
	// sets its ID.
	UpsertStation(ctx context.Context, station *Station) error

	// UpsertPollutant inserts or updates a pollutant keyed by ExternalName
	// and sets its ID.
	UpsertPollutant(ctx context.Context, pollutant *Pollutant) error

	// InsertReadings stores readings, skipping any that duplicate an
	// existing (station, pollutant, datetime, prediction datetime) tuple.
	// It returns the number of rows inserted.
	InsertReadings(ctx context.Context, readings []Reading) (int, error)

	// RecentDatetimes returns up to n distinct actual-reading datetimes for a
	// station, newest first.
	RecentDatetimes(ctx context.Context, stationID int64, n int) ([]time.Time, error)
}

// Store combines read and write access.
type Store interface {
	Repository
	Writer
}

func (f ReadingFilter) matches(r *Reading) bool {
	if r.DeletedAt != nil || r.StationID != f.StationID {
		return false
	}
	if f.PollutantID != nil && r.PollutantID != *f.PollutantID {
		return false
	}
	if f.Datetime != nil && !r.Datetime.Equal(*f.Datetime) {
		return false
	}
	if f.IsPrediction != nil && r.IsPrediction != *f.IsPrediction {
		return false
	}
	if f.PredictionDatetime != nil && (r.PredictionDatetime == nil || !r.PredictionDatetime.Equal(*f.PredictionDatetime)) {
		return false
	}
	if f.PredictionAfter != nil && (r.PredictionDatetime == nil || !r.PredictionDatetime.After(*f.PredictionAfter)) {
		return false
	}
	return true
}
