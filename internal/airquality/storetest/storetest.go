// Package storetest holds behavior tests shared by every airquality.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/airquality"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) airquality.Store

// Fixture is the reference data seeded by Seed.
type Fixture struct {
	Paris airquality.Station
	Gif   airquality.Station
	CO    airquality.Pollutant
	AQI   airquality.Pollutant
}

// Seed inserts two stations and two pollutants.
func Seed(t *testing.T, store airquality.Store) Fixture {
	t.Helper()
	ctx := context.Background()

	f := Fixture{
		Paris: airquality.Station{Name: "Paris", Latitude: 48.8534, Longitude: 2.3488, ExternalID: 1000},
		Gif:   airquality.Station{Name: "Gif-sur-Yvette", Latitude: 48.6833, Longitude: 2.1333, ExternalID: 2000},
		CO:    airquality.Pollutant{FullName: "Carbon monoxide", ShortName: "CO", ExternalName: "co", IsPollutant: true, Unit: "µg/m³"},
		AQI:   airquality.Pollutant{FullName: "Air Quality Index", ShortName: "AQI", ExternalName: "aqi"},
	}

	require.NoError(t, store.UpsertStation(ctx, &f.Paris))
	require.NoError(t, store.UpsertStation(ctx, &f.Gif))
	require.NoError(t, store.UpsertPollutant(ctx, &f.CO))
	require.NoError(t, store.UpsertPollutant(ctx, &f.AQI))
	return f
}

// Actual builds a non-prediction reading.
func Actual(stationID, pollutantID int64, at time.Time, value float64) airquality.Reading {
	return airquality.Reading{
		StationID:   stationID,
		PollutantID: pollutantID,
		Datetime:    at,
		Value:       value,
	}
}

// Prediction builds a prediction reading issued at run for target.
func Prediction(stationID, pollutantID int64, run, target time.Time, value float64) airquality.Reading {
	return airquality.Reading{
		StationID:          stationID,
		PollutantID:        pollutantID,
		Datetime:           run,
		Value:              value,
		IsPrediction:       true,
		PredictionDatetime: &target,
	}
}

// Run exercises the Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	base := time.Date(2020, 1, 6, 12, 0, 0, 0, time.UTC)

	t.Run("reference data", func(t *testing.T) {
		store := newStore(t)
		f := Seed(t, store)
		ctx := context.Background()

		stations, err := store.ListStations(ctx)
		require.NoError(t, err)
		require.Len(t, stations, 2)
		assert.Equal(t, f.Paris.ID, stations[0].ID)
		assert.Equal(t, "Gif-sur-Yvette", stations[1].Name)
		assert.InDelta(t, 48.6833, stations[1].Latitude, 1e-9)

		pollutants, err := store.ListPollutants(ctx)
		require.NoError(t, err)
		require.Len(t, pollutants, 2)
		assert.Equal(t, "aqi", pollutants[1].ExternalName)
		assert.False(t, pollutants[1].IsPollutant)

		// Upserting by external id updates in place.
		renamed := airquality.Station{Name: "Paris Centre", Latitude: 48.85, Longitude: 2.35, ExternalID: 1000}
		require.NoError(t, store.UpsertStation(ctx, &renamed))
		assert.Equal(t, f.Paris.ID, renamed.ID)

		stations, err = store.ListStations(ctx)
		require.NoError(t, err)
		require.Len(t, stations, 2)
		assert.Equal(t, "Paris Centre", stations[0].Name)
	})

	t.Run("insert skips duplicates", func(t *testing.T) {
		store := newStore(t)
		f := Seed(t, store)
		ctx := context.Background()

		target := base.Add(24 * time.Hour)
		readings := []airquality.Reading{
			Actual(f.Paris.ID, f.CO.ID, base, 1.2),
			Actual(f.Paris.ID, f.AQI.ID, base, 40),
			Prediction(f.Paris.ID, f.CO.ID, base, target, 0.9),
		}

		n, err := store.InsertReadings(ctx, readings)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = store.InsertReadings(ctx, readings)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		all, err := store.FindReadings(ctx, airquality.ReadingFilter{StationID: f.Paris.ID})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("insert rejects inconsistent prediction", func(t *testing.T) {
		store := newStore(t)
		f := Seed(t, store)

		bad := Actual(f.Paris.ID, f.CO.ID, base, 1)
		bad.IsPrediction = true

		_, err := store.InsertReadings(context.Background(), []airquality.Reading{bad})
		assert.ErrorIs(t, err, airquality.ErrInvalidReading)
	})

	t.Run("max timestamp", func(t *testing.T) {
		store := newStore(t)
		f := Seed(t, store)
		ctx := context.Background()

		_, err := store.InsertReadings(ctx, []airquality.Reading{
			Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
			Actual(f.Paris.ID, f.CO.ID, base, 0.7),
			Prediction(f.Paris.ID, f.CO.ID, base.Add(time.Hour), base.Add(48*time.Hour), 0.5),
			Actual(f.Gif.ID, f.CO.ID, base.Add(time.Hour), 1),
		})
		require.NoError(t, err)

		latest, err := store.MaxTimestamp(ctx, airquality.ColumnDatetime, airquality.Actuals(f.Paris.ID))
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, base.Equal(*latest))

		target, err := store.MaxTimestamp(ctx, airquality.ColumnPredictionDatetime, airquality.Predictions(f.Paris.ID))
		require.NoError(t, err)
		require.NotNil(t, target)
		assert.True(t, base.Add(48*time.Hour).Equal(*target))

		none, err := store.MaxTimestamp(ctx, airquality.ColumnPredictionDatetime, airquality.Predictions(f.Gif.ID))
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("find readings filters and orders", func(t *testing.T) {
		store := newStore(t)
		f := Seed(t, store)
		ctx := context.Background()

		run := base.Add(time.Hour)
		_, err := store.InsertReadings(ctx, []airquality.Reading{
			Actual(f.Paris.ID, f.CO.ID, base.Add(-4*time.Hour), 1.2),
			Actual(f.Paris.ID, f.CO.ID, base, 0.7),
			Actual(f.Paris.ID, f.AQI.ID, base, 41),
			Prediction(f.Paris.ID, f.CO.ID, run, base.Add(48*time.Hour), 0.4),
			Prediction(f.Paris.ID, f.CO.ID, run, base.Add(24*time.Hour), 0.5),
			Prediction(f.Paris.ID, f.CO.ID, run, base.Add(-24*time.Hour), 0.6),
		})
		require.NoError(t, err)

		newest := airquality.Actuals(f.Paris.ID)
		newest.Order = airquality.OrderNewestFirst
		actuals, err := store.FindReadings(ctx, newest)
		require.NoError(t, err)
		require.Len(t, actuals, 3)
		assert.True(t, base.Equal(actuals[0].Datetime))
		assert.True(t, base.Equal(actuals[1].Datetime))
		assert.Less(t, actuals[0].ID, actuals[1].ID)
		assert.True(t, base.Add(-4*time.Hour).Equal(actuals[2].Datetime))

		newest.Limit = 1
		newest.PollutantID = &f.AQI.ID
		aqi, err := store.FindReadings(ctx, newest)
		require.NoError(t, err)
		require.Len(t, aqi, 1)
		assert.InDelta(t, 41, aqi[0].Value, 1e-9)

		after := base
		predictions := airquality.Predictions(f.Paris.ID)
		predictions.Datetime = &run
		predictions.PredictionAfter = &after
		predictions.Order = airquality.OrderByTarget
		future, err := store.FindReadings(ctx, predictions)
		require.NoError(t, err)
		require.Len(t, future, 2)
		require.NotNil(t, future[0].PredictionDatetime)
		assert.True(t, base.Add(24*time.Hour).Equal(*future[0].PredictionDatetime))
		assert.True(t, base.Add(48*time.Hour).Equal(*future[1].PredictionDatetime))
	})

	t.Run("recent datetimes", func(t *testing.T) {
		store := newStore(t)
		f := Seed(t, store)
		ctx := context.Background()

		var readings []airquality.Reading
		for i := 0; i < 7; i++ {
			at := base.Add(time.Duration(i) * time.Hour)
			readings = append(readings,
				Actual(f.Paris.ID, f.CO.ID, at, 1),
				Actual(f.Paris.ID, f.AQI.ID, at, 30),
			)
		}
		_, err := store.InsertReadings(ctx, readings)
		require.NoError(t, err)

		times, err := store.RecentDatetimes(ctx, f.Paris.ID, 5)
		require.NoError(t, err)
		require.Len(t, times, 5)
		assert.True(t, base.Add(6*time.Hour).Equal(times[0]))
		assert.True(t, base.Add(2*time.Hour).Equal(times[4]))
	})
}
