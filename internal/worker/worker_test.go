package worker_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/ingest"
	"github.com/airwatch/airwatch/internal/worker"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) Run(context.Context) (*ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return &ingest.Result{Stations: 1, Ingested: 1, Inserted: 3}, r.err
}

func (r *countingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestDispatch_Ingest(t *testing.T) {
	runner := &countingRunner{}
	d := worker.NewDispatcher(runner, nil, zerolog.Nop())

	err := d.Dispatch(context.Background(), []byte(`{"job_type":"ingest"}`))

	require.NoError(t, err)
	assert.Equal(t, 1, runner.Calls())
}

func TestDispatch_IngestFailure(t *testing.T) {
	runner := &countingRunner{err: errors.New("station 5722: timeout")}
	d := worker.NewDispatcher(runner, nil, zerolog.Nop())

	err := d.Dispatch(context.Background(), []byte(`{"job_type":"ingest"}`))

	assert.ErrorContains(t, err, "timeout")
}

func TestDispatch_HealthCheck(t *testing.T) {
	runner := &countingRunner{}

	healthy := worker.NewDispatcher(runner, func(context.Context) error { return nil }, zerolog.Nop())
	assert.NoError(t, healthy.Dispatch(context.Background(), []byte(`{"job_type":"health_check"}`)))

	unhealthy := worker.NewDispatcher(runner, func(context.Context) error { return errors.New("store down") }, zerolog.Nop())
	err := unhealthy.Dispatch(context.Background(), []byte(`{"job_type":"health_check"}`))
	assert.ErrorContains(t, err, "store down")

	assert.Equal(t, 0, runner.Calls())
}

func TestDispatch_BadMessages(t *testing.T) {
	d := worker.NewDispatcher(&countingRunner{}, nil, zerolog.Nop())

	err := d.Dispatch(context.Background(), []byte(`{"job_type":"provider_refresh"}`))
	assert.ErrorIs(t, err, worker.ErrUnknownJob)

	err = d.Dispatch(context.Background(), []byte(`not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, worker.ErrUnknownJob)
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	runner := &countingRunner{}
	s := worker.NewScheduler(runner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runner.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_LogsFailuresAndContinues(t *testing.T) {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	logger := zerolog.New(&lockedWriter{mu: &mu, w: &buf})

	runner := &countingRunner{err: errors.New("upstream unavailable")}
	s := worker.NewScheduler(runner, 10*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runner.Calls() >= 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, buf.String(), "scheduled ingest failed")
	assert.Contains(t, buf.String(), "upstream unavailable")
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestNewScheduler_DefaultInterval(t *testing.T) {
	assert.Equal(t, time.Hour, worker.DefaultInterval)
	assert.NotNil(t, worker.NewScheduler(&countingRunner{}, 0, zerolog.Nop()))
}
