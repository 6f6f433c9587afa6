package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the ingest schedule used when none is configured.
const DefaultInterval = time.Hour

// Scheduler runs an ingest pass immediately and then on every tick.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. A non-positive interval uses DefaultInterval.
func NewScheduler(runner Runner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled. Failed runs are logged and the
// schedule continues.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("starting ingest schedule")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.runner.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("scheduled ingest failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
