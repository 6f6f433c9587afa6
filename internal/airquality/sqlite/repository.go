// Package sqlite stores stations, pollutants and readings in an embedded
// SQLite database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/airwatch/airwatch/internal/airquality"
)

// Repository is a gorm/SQLite implementation of airquality.Store.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ airquality.Store = (*Repository)(nil)

// Open opens (creating if needed) the database at dsn and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(dsn string) (*Repository, error) {
	if err := ensureDirectory(dsn); err != nil {
		return nil, err
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across queries.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	repo := New(db)
	if err := repo.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an existing gorm handle. Call Migrate before use on a fresh database.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Migrate creates tables and the uniqueness indexes.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&StationModel{}, &PollutantModel{}, &ReadingModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_stations_external_id
			ON stations (external_id) WHERE deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_pollutants_waqi_name
			ON pollutants (waqi_name) WHERE deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_pollutant_data_reading
			ON pollutant_data (station_id, pollutant_id, datetime, COALESCE(prediction_datetime, ''))
			WHERE deleted_at IS NULL`,
	}
	for _, stmt := range indexes {
		if err := r.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ListStations returns all live stations ordered by id.
func (r *Repository) ListStations(ctx context.Context) ([]airquality.Station, error) {
	var rows []StationModel
	if err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}

	stations := make([]airquality.Station, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, nil
}

// ListPollutants returns all live pollutants ordered by id.
func (r *Repository) ListPollutants(ctx context.Context) ([]airquality.Pollutant, error) {
	var rows []PollutantModel
	if err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query pollutants: %w", err)
	}

	pollutants := make([]airquality.Pollutant, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		pollutants = append(pollutants, p)
	}
	return pollutants, nil
}

// MaxTimestamp returns the greatest column value among matching readings.
func (r *Repository) MaxTimestamp(ctx context.Context, column airquality.TimestampColumn, filter airquality.ReadingFilter) (*time.Time, error) {
	col := "datetime"
	if column == airquality.ColumnPredictionDatetime {
		col = "prediction_datetime"
	}

	var rows []ReadingModel
	if err := r.filtered(ctx, filter).
		Where(col + " IS NOT NULL").
		Order(col + " desc").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query max %s: %w", col, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if column == airquality.ColumnPredictionDatetime {
		return parseTimePtr(rows[0].PredictionDatetime)
	}
	t, err := parseTime(rows[0].Datetime)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindReadings returns readings matching filter.
func (r *Repository) FindReadings(ctx context.Context, filter airquality.ReadingFilter) ([]airquality.Reading, error) {
	query := r.filtered(ctx, filter)
	switch filter.Order {
	case airquality.OrderNewestFirst:
		query = query.Order("datetime desc").Order("id asc")
	case airquality.OrderByTarget:
		query = query.Order("prediction_datetime asc").Order("id asc")
	default:
		query = query.Order("id asc")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []ReadingModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}

	readings := make([]airquality.Reading, 0, len(rows))
	for _, row := range rows {
		rd, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	return readings, nil
}

// UpsertStation inserts or updates a station keyed by external id.
func (r *Repository) UpsertStation(ctx context.Context, station *airquality.Station) error {
	now := formatTime(r.now())
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row StationModel
		err := tx.Where("external_id = ? AND deleted_at IS NULL", station.ExternalID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = StationModel{
				CreatedAt:  now,
				ExternalID: station.ExternalID,
			}
		case err != nil:
			return fmt.Errorf("find station: %w", err)
		}

		row.Name = station.Name
		row.Latitude = station.Latitude
		row.Longitude = station.Longitude
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save station: %w", err)
		}

		saved, err := row.toDomain()
		if err != nil {
			return err
		}
		*station = saved
		return nil
	})
}

// UpsertPollutant inserts or updates a pollutant keyed by waqi name.
func (r *Repository) UpsertPollutant(ctx context.Context, pollutant *airquality.Pollutant) error {
	now := formatTime(r.now())
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PollutantModel
		err := tx.Where("waqi_name = ? AND deleted_at IS NULL", pollutant.ExternalName).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = PollutantModel{
				CreatedAt: now,
				WaqiName:  pollutant.ExternalName,
			}
		case err != nil:
			return fmt.Errorf("find pollutant: %w", err)
		}

		row.FullName = pollutant.FullName
		row.ShortName = pollutant.ShortName
		row.Description = pollutant.Description
		row.IsPollutant = pollutant.IsPollutant
		row.Unit = pollutant.Unit
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save pollutant: %w", err)
		}

		saved, err := row.toDomain()
		if err != nil {
			return err
		}
		*pollutant = saved
		return nil
	})
}

// InsertReadings stores readings in one transaction, skipping duplicates.
func (r *Repository) InsertReadings(ctx context.Context, readings []airquality.Reading) (int, error) {
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return 0, err
		}
	}

	now := formatTime(r.now())
	inserted := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rd := range readings {
			row := ReadingModel{
				CreatedAt:          now,
				UpdatedAt:          now,
				StationID:          rd.StationID,
				PollutantID:        rd.PollutantID,
				Datetime:           formatTime(rd.Datetime),
				Value:              rd.Value,
				IsPrediction:       rd.IsPrediction,
				PredictionDatetime: formatTimePtr(rd.PredictionDatetime),
			}
			res := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&row)
			if res.Error != nil {
				return fmt.Errorf("insert reading: %w", res.Error)
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RecentDatetimes returns up to n distinct actual datetimes for a station, newest first.
func (r *Repository) RecentDatetimes(ctx context.Context, stationID int64, n int) ([]time.Time, error) {
	var values []string
	if err := r.filtered(ctx, airquality.Actuals(stationID)).
		Distinct("datetime").
		Order("datetime desc").
		Limit(n).
		Pluck("datetime", &values).Error; err != nil {
		return nil, fmt.Errorf("query recent datetimes: %w", err)
	}

	times := make([]time.Time, 0, len(values))
	for _, v := range values {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

func (r *Repository) filtered(ctx context.Context, f airquality.ReadingFilter) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(&ReadingModel{}).
		Where("deleted_at IS NULL").
		Where("station_id = ?", f.StationID)

	if f.PollutantID != nil {
		query = query.Where("pollutant_id = ?", *f.PollutantID)
	}
	if f.Datetime != nil {
		query = query.Where("datetime = ?", formatTime(*f.Datetime))
	}
	if f.IsPrediction != nil {
		query = query.Where("is_prediction = ?", *f.IsPrediction)
	}
	if f.PredictionDatetime != nil {
		query = query.Where("prediction_datetime = ?", formatTime(*f.PredictionDatetime))
	}
	if f.PredictionAfter != nil {
		query = query.Where("prediction_datetime > ?", formatTime(*f.PredictionAfter))
	}
	return query
}

func ensureDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}

	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite directory %q: %w", dir, err)
	}
	return nil
}
