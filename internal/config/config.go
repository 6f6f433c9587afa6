// Package config reads the environment shared by the airwatch binaries.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/database"
	"github.com/airwatch/airwatch/internal/ingest"
	"github.com/airwatch/airwatch/internal/store"
	"github.com/airwatch/airwatch/internal/telemetry"
)

// EnvDevelopment enables console logging.
const EnvDevelopment = "development"

// ErrInvalidConfig is returned when an environment variable cannot be parsed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the process configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level

	Store   store.Config
	Service airquality.ServiceConfig

	WAQIToken   string
	WAQIBaseURL string

	Ingest         ingest.Config
	IngestInterval time.Duration

	PubSubProjectID    string
	PubSubSubscription string
	RedisURL           string

	JWTSecret  string
	RequireTLS bool

	Telemetry telemetry.Config
}

// Load reads the configuration for serviceName from the environment.
// Every malformed variable is reported, not just the first.
func Load(serviceName, version string) (Config, error) {
	r := &reader{}

	cfg := Config{
		Port:  getEnv("APP_PORT", "8080"),
		Env:   getEnv("APP_ENV", EnvDevelopment),
		Store: store.ConfigFromEnv(),
		Service: airquality.ServiceConfig{
			AggregatePollutant: getEnv("AGGREGATE_POLLUTANT", airquality.DefaultAggregatePollutant),
			FarStationKm:       r.floatVar("FAR_STATION_KM", airquality.DefaultFarStationKm),
			StaleAfter:         r.durationVar("STALE_AFTER", airquality.DefaultStaleAfter),
			HistoryLimit:       r.intVar("HISTORY_LIMIT", airquality.DefaultHistoryLimit),
		},
		WAQIToken:   os.Getenv("WAQI_TOKEN"),
		WAQIBaseURL: os.Getenv("WAQI_BASE_URL"),
		Ingest: ingest.Config{
			Concurrency:        r.intVar("INGEST_WORKERS", ingest.DefaultConfig().Concurrency),
			Timeout:            r.durationVar("INGEST_TIMEOUT", ingest.DefaultConfig().Timeout),
			AggregatePollutant: getEnv("AGGREGATE_POLLUTANT", airquality.DefaultAggregatePollutant),
		},
		IngestInterval:     r.durationVar("INGEST_INTERVAL", time.Hour),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: getEnv("PUBSUB_SUBSCRIPTION", "airwatch-ingest"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RequireTLS:         r.boolVar("REQUIRE_TLS", false),
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	db := &cfg.Store.Database
	db.ApplicationName = serviceName
	db.Port = r.intVar("DB_PORT", database.DefaultPort)
	db.MaxConns = int32(r.intVar("DB_MAX_CONNS", database.DefaultMaxConns))
	db.MinConns = int32(r.nonNegativeIntVar("DB_MIN_CONNS", 0))
	db.MaxConnLifetime = r.durationVar("DB_CONN_MAX_LIFETIME", database.DefaultMaxConnLifetime)
	if cfg.Store.Driver == "" || cfg.Store.Driver == store.DriverPostgres {
		if err := db.Validate(); err != nil {
			r.errs = append(r.errs, err)
		}
	}

	cfg.Telemetry = telemetry.ConfigFromEnv(serviceName, version, cfg.Env)

	if err := errors.Join(r.errs...); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Development reports whether APP_ENV is development.
func (c Config) Development() bool {
	return c.Env == EnvDevelopment
}

// NewLogger returns a JSON logger on out, or a console logger in development.
func (c Config) NewLogger(out io.Writer, serviceName, version string) zerolog.Logger {
	if c.Development() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(c.LogLevel).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// reader parses typed variables and collects parse errors.
type reader struct {
	errs []error
}

func (r *reader) intVar(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a positive integer", key, raw))
		return defaultValue
	}
	return v
}

func (r *reader) nonNegativeIntVar(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a non-negative integer", key, raw))
		return defaultValue
	}
	return v
}

func (r *reader) floatVar(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a positive number", key, raw))
		return defaultValue
	}
	return v
}

func (r *reader) durationVar(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a positive duration", key, raw))
		return defaultValue
	}
	return v
}

func (r *reader) boolVar(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return defaultValue
	}
	return v
}
