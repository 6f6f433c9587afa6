package airquality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL reading store.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Store = (*PostgresRepository)(nil)

const readingColumns = `
	id, station_id, pollutant_id, datetime, value::float8,
	is_prediction, prediction_datetime, created_at, updated_at, deleted_at`

// Ping checks the connection pool.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListStations returns all live stations ordered by id.
func (r *PostgresRepository) ListStations(ctx context.Context) ([]Station, error) {
	query := `
		SELECT id, name, latitude::float8, longitude::float8, external_id,
			created_at, updated_at, deleted_at
		FROM stations
		WHERE deleted_at IS NULL
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Latitude,
			&s.Longitude,
			&s.ExternalID,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.DeletedAt,
		); err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}

	return stations, rows.Err()
}

// ListPollutants returns all live pollutants ordered by id.
func (r *PostgresRepository) ListPollutants(ctx context.Context) ([]Pollutant, error) {
	query := `
		SELECT id, full_name, short_name, description, waqi_name, is_pollutant, unit,
			created_at, updated_at, deleted_at
		FROM pollutants
		WHERE deleted_at IS NULL
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pollutants []Pollutant
	for rows.Next() {
		var p Pollutant
		if err := rows.Scan(
			&p.ID,
			&p.FullName,
			&p.ShortName,
			&p.Description,
			&p.ExternalName,
			&p.IsPollutant,
			&p.Unit,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.DeletedAt,
		); err != nil {
			return nil, err
		}
		pollutants = append(pollutants, p)
	}

	return pollutants, rows.Err()
}

// MaxTimestamp returns the greatest column value among matching readings.
func (r *PostgresRepository) MaxTimestamp(ctx context.Context, column TimestampColumn, filter ReadingFilter) (*time.Time, error) {
	col := "datetime"
	if column == ColumnPredictionDatetime {
		col = "prediction_datetime"
	}

	where, args := filterClause(filter)
	query := fmt.Sprintf(`SELECT max(%s) FROM pollutant_data WHERE %s`, col, where)

	var latest *time.Time
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&latest); err != nil {
		return nil, err
	}
	return latest, nil
}

// FindReadings returns readings matching filter.
func (r *PostgresRepository) FindReadings(ctx context.Context, filter ReadingFilter) ([]Reading, error) {
	where, args := filterClause(filter)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM pollutant_data WHERE %s", readingColumns, where)
	switch filter.Order {
	case OrderNewestFirst:
		b.WriteString(" ORDER BY datetime DESC, id ASC")
	case OrderByTarget:
		b.WriteString(" ORDER BY prediction_datetime ASC, id ASC")
	default:
		b.WriteString(" ORDER BY id ASC")
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReadings(rows)
}

// UpsertStation inserts or updates a station keyed by external id.
func (r *PostgresRepository) UpsertStation(ctx context.Context, station *Station) error {
	query := `
		INSERT INTO stations (name, latitude, longitude, external_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) WHERE deleted_at IS NULL DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`

	return r.pool.QueryRow(ctx, query,
		station.Name,
		station.Latitude,
		station.Longitude,
		station.ExternalID,
	).Scan(&station.ID, &station.CreatedAt, &station.UpdatedAt)
}

// UpsertPollutant inserts or updates a pollutant keyed by waqi name.
func (r *PostgresRepository) UpsertPollutant(ctx context.Context, pollutant *Pollutant) error {
	query := `
		INSERT INTO pollutants (full_name, short_name, description, waqi_name, is_pollutant, unit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (waqi_name) WHERE deleted_at IS NULL DO UPDATE SET
			full_name = EXCLUDED.full_name,
			short_name = EXCLUDED.short_name,
			description = EXCLUDED.description,
			is_pollutant = EXCLUDED.is_pollutant,
			unit = EXCLUDED.unit,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`

	return r.pool.QueryRow(ctx, query,
		pollutant.FullName,
		pollutant.ShortName,
		pollutant.Description,
		pollutant.ExternalName,
		pollutant.IsPollutant,
		pollutant.Unit,
	).Scan(&pollutant.ID, &pollutant.CreatedAt, &pollutant.UpdatedAt)
}

// InsertReadings stores readings in one batch, skipping duplicates.
func (r *PostgresRepository) InsertReadings(ctx context.Context, readings []Reading) (int, error) {
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return 0, err
		}
	}

	query := `
		INSERT INTO pollutant_data
			(station_id, pollutant_id, datetime, value, is_prediction, prediction_datetime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, rd := range readings {
		batch.Queue(query,
			rd.StationID,
			rd.PollutantID,
			rd.Datetime.UTC(),
			rd.Value,
			rd.IsPrediction,
			utcPtr(rd.PredictionDatetime),
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range readings {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert reading: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

// RecentDatetimes returns up to n distinct actual datetimes for a station, newest first.
func (r *PostgresRepository) RecentDatetimes(ctx context.Context, stationID int64, n int) ([]time.Time, error) {
	query := `
		SELECT DISTINCT datetime
		FROM pollutant_data
		WHERE station_id = $1 AND NOT is_prediction AND deleted_at IS NULL
		ORDER BY datetime DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, stationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}

	return times, rows.Err()
}

// filterClause builds a WHERE clause and its positional arguments.
func filterClause(f ReadingFilter) (string, []any) {
	conds := []string{"deleted_at IS NULL", "station_id = $1"}
	args := []any{f.StationID}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PollutantID != nil {
		add("pollutant_id = $%d", *f.PollutantID)
	}
	if f.Datetime != nil {
		add("datetime = $%d", f.Datetime.UTC())
	}
	if f.IsPrediction != nil {
		add("is_prediction = $%d", *f.IsPrediction)
	}
	if f.PredictionDatetime != nil {
		add("prediction_datetime = $%d", f.PredictionDatetime.UTC())
	}
	if f.PredictionAfter != nil {
		add("prediction_datetime > $%d", f.PredictionAfter.UTC())
	}

	return strings.Join(conds, " AND "), args
}

func scanReadings(rows pgx.Rows) ([]Reading, error) {
	var readings []Reading
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(
			&rd.ID,
			&rd.StationID,
			&rd.PollutantID,
			&rd.Datetime,
			&rd.Value,
			&rd.IsPrediction,
			&rd.PredictionDatetime,
			&rd.CreatedAt,
			&rd.UpdatedAt,
			&rd.DeletedAt,
		); err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}

	return readings, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
