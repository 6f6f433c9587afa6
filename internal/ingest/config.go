// Package ingest pulls station feeds from WAQI and stores them as readings.
package ingest

import (
	"time"

	"github.com/airwatch/airwatch/internal/airquality"
)

// Config holds configuration for an ingest run.
type Config struct {
	// Concurrency is the number of stations processed at once.
	// Default: 3
	Concurrency int

	// Timeout bounds the work on a single station.
	// Default: 30 seconds
	Timeout time.Duration

	// RecentWindow is how many of a station's latest stored datetimes are
	// compared against the feed time before it is ingested.
	// Default: 5
	RecentWindow int

	// AggregatePollutant is the pollutant name the feed's overall index is stored under.
	// Default: airquality.DefaultAggregatePollutant
	AggregatePollutant string
}

// DefaultConfig returns the default ingest configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:        3,
		Timeout:            30 * time.Second,
		RecentWindow:       5,
		AggregatePollutant: airquality.DefaultAggregatePollutant,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.AggregatePollutant == "" {
		c.AggregatePollutant = d.AggregatePollutant
	}
	return c
}
