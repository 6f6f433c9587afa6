// Package store opens the configured airquality.Store backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/airquality/sqlite"
	"github.com/airwatch/airwatch/internal/database"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DefaultSQLitePath is used when Config.SQLitePath is empty.
const DefaultSQLitePath = "data/airwatch.db"

// ErrUnknownDriver is returned for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Config selects and configures a backend.
type Config struct {
	// Driver is one of postgres, sqlite or memory (default: postgres).
	Driver string

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string

	// Database configures the postgres driver.
	Database database.Config

	// Migrate applies the embedded schema migrations on open (postgres only;
	// sqlite always migrates).
	Migrate bool

	Logger zerolog.Logger
}

// ConfigFromEnv reads STORE_DRIVER, SQLITE_PATH and the DB_* variables.
func ConfigFromEnv() Config {
	return Config{
		Driver:     os.Getenv("STORE_DRIVER"),
		SQLitePath: os.Getenv("SQLITE_PATH"),
		Database:   database.ConfigFromEnv(),
	}
}

// Handle is an opened store.
type Handle struct {
	Store airquality.Store

	// Pool is set for the postgres driver.
	Pool *pgxpool.Pool

	Driver string
	close  func() error
}

// Close releases the backend's resources.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open opens the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverPostgres
	}

	switch driver {
	case DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := database.Migrate(ctx, pool, cfg.Logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		cfg.Logger.Info().
			Str("host", cfg.Database.Host).
			Str("database", cfg.Database.Database).
			Msg("connected to postgres")
		return &Handle{
			Store:  airquality.NewPostgresRepository(pool),
			Pool:   pool,
			Driver: driver,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = DefaultSQLitePath
		}
		repo, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		cfg.Logger.Info().Str("path", path).Msg("opened sqlite store")
		return &Handle{Store: repo, Driver: driver, close: repo.Close}, nil

	case DriverMemory:
		cfg.Logger.Warn().Msg("using in-memory store, data is lost on exit")
		return &Handle{Store: airquality.NewInMemoryRepository(), Driver: driver}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
