package ingest

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwatch_ingest_runs_total",
		Help: "Total number of ingest runs by outcome.",
	}, []string{"outcome"})
	stationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwatch_ingest_stations_total",
		Help: "Total number of station feeds processed by outcome.",
	}, []string{"outcome"})
	readingsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airwatch_ingest_readings_inserted_total",
		Help: "Total number of readings stored by ingest runs.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwatch_ingest_run_duration_seconds",
		Help:    "Duration of ingest runs.",
		Buckets: prometheus.DefBuckets,
	})
)

// Metrics tracks ingest statistics for the lifetime of a Job.
type Metrics struct {
	mu sync.RWMutex

	TotalRuns        int64
	FailedRuns       int64
	StationsIngested int64
	StationsSkipped  int64
	StationsFailed   int64
	ReadingsInserted int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	LastError       string
}

func (m *Metrics) record(result *Result, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	stationsTotal.WithLabelValues("ingested").Add(float64(result.Ingested))
	stationsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	stationsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	readingsInserted.Add(float64(result.Inserted))
	runDuration.Observe(result.Duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRuns++
	m.StationsIngested += int64(result.Ingested)
	m.StationsSkipped += int64(result.Skipped)
	m.StationsFailed += int64(result.Failed)
	m.ReadingsInserted += int64(result.Inserted)
	m.LastRunAt = result.EndTime
	m.LastRunDuration = result.Duration
	m.LastError = ""
	if err != nil {
		m.FailedRuns++
		m.LastError = err.Error()
	}
}

// Snapshot returns the current metrics as a map.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"failed_runs":       m.FailedRuns,
		"stations_ingested": m.StationsIngested,
		"stations_skipped":  m.StationsSkipped,
		"stations_failed":   m.StationsFailed,
		"readings_inserted": m.ReadingsInserted,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"last_error":        m.LastError,
	}
}
