// Package resilience wraps outbound provider calls with retries, a circuit
// breaker and health tracking.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when a provider's circuit opens.
type BreakerConfig struct {
	// MinRequests is the number of requests observed before the breaker may trip (default: 5).
	MinRequests uint32

	// FailureRatio trips the breaker once reached (default: 0.5).
	FailureRatio float64

	// OpenFor is how long the breaker stays open before probing (default: 60s).
	OpenFor time.Duration

	// HalfOpenRequests is the number of trial requests allowed while half-open (default: 1).
	HalfOpenRequests uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.OpenFor == 0 {
		c.OpenFor = 60 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

func newBreaker[T any](name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	cfg = cfg.withDefaults()

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}
