package airquality_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/airquality"
	"github.com/airwatch/airwatch/internal/airquality/storetest"
)

var base = time.Date(2020, 1, 6, 12, 0, 0, 0, time.UTC)

// Near Paris and Gif-sur-Yvette respectively.
const (
	parisLat, parisLon = 48.8471383, 2.4294888
	gifLat, gifLon     = 48.6971724, 2.1545856
)

type serviceEnv struct {
	repo    *airquality.InMemoryRepository
	fixture storetest.Fixture
	service *airquality.Service
	logs    *bytes.Buffer
	now     time.Time
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	env := &serviceEnv{
		repo: airquality.NewInMemoryRepository(),
		logs: &bytes.Buffer{},
		now:  base.Add(time.Hour),
	}
	env.fixture = storetest.Seed(t, env.repo)
	env.service = airquality.NewService(airquality.ServiceConfig{
		Repository: env.repo,
		Logger:     zerolog.New(env.logs),
		Now:        func() time.Time { return env.now },
	})
	return env
}

func (e *serviceEnv) insert(t *testing.T, readings ...airquality.Reading) {
	t.Helper()
	_, err := e.repo.InsertReadings(context.Background(), readings)
	require.NoError(t, err)
}

func TestService_CurrentReadings_LatestBatch(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base.Add(-4*time.Hour), 50),
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base, 42),
		storetest.Actual(f.Gif.ID, f.CO.ID, base.Add(time.Hour), 3),
	)

	readings, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	for _, r := range readings {
		assert.Equal(t, f.Paris.ID, r.StationID)
		assert.True(t, base.Equal(r.Datetime))
		assert.False(t, r.IsPrediction)
	}
	assert.Empty(t, warnings(t, env.logs, ""))
}

func TestService_CurrentReadings_IgnoresPredictions(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base, 42),
		storetest.Prediction(f.Paris.ID, f.CO.ID, base.Add(30*time.Minute), base.Add(24*time.Hour), 0.3),
	)

	readings, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	for _, r := range readings {
		assert.False(t, r.IsPrediction)
	}
}

func TestService_CurrentReadings_AggregateFallback(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.AQI.ID, base.Add(-8*time.Hour), 61),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base.Add(-4*time.Hour), 55),
		storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
	)

	readings, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, f.CO.ID, readings[0].PollutantID)
	assert.True(t, base.Equal(readings[0].Datetime))

	assert.Equal(t, f.AQI.ID, readings[1].PollutantID)
	assert.True(t, base.Add(-4*time.Hour).Equal(readings[1].Datetime))
	assert.InDelta(t, 55, readings[1].Value, 1e-9)

	fallback := warnings(t, env.logs, "latest batch has no AQI value")
	require.Len(t, fallback, 1)
	assert.Equal(t, float64(f.Paris.ID), fallback[0]["station_id"])
	assert.Contains(t, fallback[0]["message"], "4h0m0s")
}

func TestService_CurrentReadings_NoAggregateAnywhere(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t, storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7))

	readings, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Len(t, warnings(t, env.logs, "no AQI value recorded"), 1)
}

func TestService_CurrentReadings_StaleWarning(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base, 42),
	)

	env.now = base.Add(6 * time.Hour)
	_, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	assert.Empty(t, warnings(t, env.logs, "stale"))

	env.now = base.Add(7 * time.Hour)
	readings, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
	assert.Len(t, warnings(t, env.logs, "latest readings are stale"), 1)
}

func TestService_CurrentReadings_NotFound(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t, storetest.Actual(f.Gif.ID, f.CO.ID, base, 0.7))

	_, err := env.service.CurrentReadings(context.Background(), parisLat, parisLon)
	assert.ErrorIs(t, err, airquality.ErrNotFound)
}

func TestService_CurrentReadings_AggregateNotConfigured(t *testing.T) {
	repo := airquality.NewInMemoryRepository()
	ctx := context.Background()

	station := airquality.Station{Name: "Paris", Latitude: 48.8534, Longitude: 2.3488, ExternalID: 1}
	co := airquality.Pollutant{ShortName: "CO", ExternalName: "co"}
	require.NoError(t, repo.UpsertStation(ctx, &station))
	require.NoError(t, repo.UpsertPollutant(ctx, &co))
	_, err := repo.InsertReadings(ctx, []airquality.Reading{storetest.Actual(station.ID, co.ID, base, 1)})
	require.NoError(t, err)

	service := airquality.NewService(airquality.ServiceConfig{Repository: repo, Logger: zerolog.Nop()})

	_, err = service.CurrentReadings(ctx, parisLat, parisLon)
	assert.ErrorIs(t, err, airquality.ErrAggregatePollutantMissing)
}

func TestService_CurrentReadings_NoStations(t *testing.T) {
	service := airquality.NewService(airquality.ServiceConfig{
		Repository: airquality.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})

	_, err := service.CurrentReadings(context.Background(), 0, 0)
	assert.ErrorIs(t, err, airquality.ErrInvalidInput)
}

func TestService_CurrentReadings_CustomAggregate(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t, storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7))

	service := airquality.NewService(airquality.ServiceConfig{
		Repository:         env.repo,
		Logger:             zerolog.Nop(),
		AggregatePollutant: "co",
		Now:                func() time.Time { return base },
	})

	readings, err := service.CurrentReadings(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestService_History_NoPredictions(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base, 42),
		storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
		storetest.Actual(f.Paris.ID, f.AQI.ID, base.Add(-4*time.Hour), 50),
	)

	readings, err := env.service.History(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 4)

	assert.True(t, base.Equal(readings[0].Datetime))
	assert.True(t, base.Equal(readings[1].Datetime))
	assert.Less(t, readings[0].ID, readings[1].ID)
	assert.True(t, base.Add(-4*time.Hour).Equal(readings[2].Datetime))
	assert.Less(t, readings[2].ID, readings[3].ID)
}

func TestService_History_StalePredictionsExcluded(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
		storetest.Prediction(f.Paris.ID, f.CO.ID, base.Add(-48*time.Hour), base.Add(-24*time.Hour), 0.9),
		storetest.Prediction(f.Paris.ID, f.CO.ID, base.Add(-48*time.Hour), base, 0.8),
	)

	readings, err := env.service.History(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	for _, r := range readings {
		assert.False(t, r.IsPrediction)
	}
	assert.Len(t, warnings(t, env.logs, "predictions are older than actual readings"), 1)
}

func TestService_History_FreshestRunOnly(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	oldRun := base.Add(-2 * time.Hour)
	newRun := base.Add(-time.Hour)
	day1 := base.Add(24 * time.Hour)
	day2 := base.Add(48 * time.Hour)

	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Prediction(f.Paris.ID, f.CO.ID, oldRun, day1, 1.1),
		storetest.Prediction(f.Paris.ID, f.CO.ID, oldRun, day2, 1.2),
		storetest.Prediction(f.Paris.ID, f.CO.ID, newRun, base.Add(-3*time.Hour), 0.5),
		storetest.Prediction(f.Paris.ID, f.CO.ID, newRun, day2, 2.2),
		storetest.Prediction(f.Paris.ID, f.CO.ID, newRun, day1, 2.1),
		storetest.Prediction(f.Gif.ID, f.CO.ID, newRun, base.Add(72*time.Hour), 9),
	)

	readings, err := env.service.History(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	assert.False(t, readings[0].IsPrediction)
	for _, r := range readings[1:] {
		assert.True(t, r.IsPrediction)
		assert.True(t, newRun.Equal(r.Datetime))
		assert.Equal(t, f.Paris.ID, r.StationID)
	}
	require.NotNil(t, readings[1].PredictionDatetime)
	assert.True(t, day1.Equal(*readings[1].PredictionDatetime))
	assert.True(t, day2.Equal(*readings[2].PredictionDatetime))
}

func TestService_History_RunChosenByLatestTarget(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	oldRun := base.Add(-2 * time.Hour)
	newRun := base.Add(-time.Hour)

	// Only the older run reaches the furthest target, so it is the one used.
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Prediction(f.Paris.ID, f.CO.ID, oldRun, base.Add(24*time.Hour), 1.1),
		storetest.Prediction(f.Paris.ID, f.CO.ID, oldRun, base.Add(72*time.Hour), 1.3),
		storetest.Prediction(f.Paris.ID, f.CO.ID, newRun, base.Add(48*time.Hour), 2.2),
	)

	readings, err := env.service.History(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	for _, r := range readings[1:] {
		assert.True(t, oldRun.Equal(r.Datetime))
	}
}

func TestService_History_PredictionsWithoutActuals(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	run := base
	env.insert(t,
		storetest.Prediction(f.Gif.ID, f.CO.ID, run, base.Add(-24*time.Hour), 1),
		storetest.Prediction(f.Gif.ID, f.CO.ID, run, base.Add(24*time.Hour), 2),
	)

	readings, err := env.service.History(context.Background(), gifLat, gifLon)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	for _, r := range readings {
		assert.True(t, r.IsPrediction)
	}
}

func TestService_History_Capped(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture

	var readings []airquality.Reading
	for i := 0; i < 600; i++ {
		readings = append(readings, storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-time.Duration(i)*time.Hour), float64(i)))
	}
	env.insert(t, readings...)

	history, err := env.service.History(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	require.Len(t, history, airquality.DefaultHistoryLimit)
	assert.True(t, base.Equal(history[0].Datetime))
	assert.True(t, base.Add(-499*time.Hour).Equal(history[499].Datetime))
}

func TestService_History_CustomLimit(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	for i := 0; i < 5; i++ {
		env.insert(t, storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-time.Duration(i)*time.Hour), 1))
	}

	service := airquality.NewService(airquality.ServiceConfig{
		Repository:   env.repo,
		Logger:       zerolog.Nop(),
		HistoryLimit: 3,
	})

	history, err := service.History(context.Background(), parisLat, parisLon)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestService_Idempotent(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	run := base.Add(-time.Hour)
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.AQI.ID, base.Add(-4*time.Hour), 55),
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 0.9),
		storetest.Prediction(f.Paris.ID, f.CO.ID, run, base.Add(24*time.Hour), 1),
		storetest.Prediction(f.Paris.ID, f.AQI.ID, run, base.Add(24*time.Hour), 60),
	)
	ctx := context.Background()

	first, err := env.service.History(ctx, parisLat, parisLon)
	require.NoError(t, err)
	second, err := env.service.History(ctx, parisLat, parisLon)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	current1, err := env.service.CurrentReadings(ctx, parisLat, parisLon)
	require.NoError(t, err)
	current2, err := env.service.CurrentReadings(ctx, parisLat, parisLon)
	require.NoError(t, err)
	assert.Equal(t, current1, current2)
}

func TestService_MapData(t *testing.T) {
	env := newServiceEnv(t)
	f := env.fixture
	env.insert(t,
		storetest.Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
		storetest.Actual(f.Paris.ID, f.CO.ID, base, 0.7),
		storetest.Prediction(f.Paris.ID, f.CO.ID, base.Add(time.Hour), base.Add(24*time.Hour), 0.1),
	)

	stations, err := env.service.MapData(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 1)

	assert.Equal(t, f.Paris.ID, stations[0].ID)
	require.Len(t, stations[0].Data, 1)
	assert.InDelta(t, 0.7, stations[0].Data[0].Value, 1e-9)
}

func TestService_Pollutants(t *testing.T) {
	env := newServiceEnv(t)

	pollutants, err := env.service.Pollutants(context.Background())
	require.NoError(t, err)
	require.Len(t, pollutants, 2)
	assert.Equal(t, "co", pollutants[0].ExternalName)
}
