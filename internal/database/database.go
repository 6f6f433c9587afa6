// Package database connects to PostgreSQL and applies the embedded schema
// migrations.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool defaults applied by Connect to zero-valued fields.
const (
	DefaultPort            = 5432
	DefaultMaxConns        = 10
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultConnectTimeout  = 10 * time.Second
)

// ErrInvalidConfig is returned by Connect for an unusable Config.
var ErrInvalidConfig = errors.New("invalid database configuration")

var sslModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// ApplicationName is reported to the server and shows up in
	// pg_stat_activity, so each binary can be told apart.
	ApplicationName string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// ConnectTimeout bounds pool creation and the initial ping.
	ConnectTimeout time.Duration
}

// ConfigFromEnv reads the DB_* connection variables. Pool sizing is left to
// the caller (see config.Load), which reports malformed numbers.
func ConfigFromEnv() Config {
	return Config{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		User:     getEnvOrDefault("DB_USER", "airwatch"),
		Password: getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database: getEnvOrDefault("DB_NAME", "air_monitoring"),
		SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
	}
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Validate reports every problem with c after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()

	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database name is empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		errs = append(errs, fmt.Errorf("min conns %d not within 0..%d", c.MinConns, c.MaxConns))
	}
	if !validSSLMode(c.SSLMode) {
		errs = append(errs, fmt.Errorf("unknown sslmode %q", c.SSLMode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ConnectionString returns the PostgreSQL URL with credentials escaped.
func (c Config) ConnectionString() string {
	c = c.withDefaults()

	query := url.Values{}
	query.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		query.Set("application_name", c.ApplicationName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	return pool, nil
}

func validSSLMode(mode string) bool {
	for _, m := range sslModes {
		if m == mode {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
