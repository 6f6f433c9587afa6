package airquality_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/airquality"
)

// logEntries decodes every JSON log line written to buf.
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

// warnings returns the warn-level entries whose message contains substr.
func warnings(t *testing.T, buf *bytes.Buffer, substr string) []map[string]interface{} {
	t.Helper()

	var out []map[string]interface{}
	for _, e := range logEntries(t, buf) {
		msg, _ := e["message"].(string)
		if e["level"] == "warn" && strings.Contains(msg, substr) {
			out = append(out, e)
		}
	}
	return out
}

var (
	paris = airquality.Station{ID: 1, Name: "Paris", Latitude: 48.8534, Longitude: 2.3488}
	gif   = airquality.Station{ID: 2, Name: "Gif-sur-Yvette", Latitude: 48.6833, Longitude: 2.1333}
)

func TestClosestStation_ParisAndGif(t *testing.T) {
	stations := []airquality.Station{paris, gif}
	logger := zerolog.Nop()

	id, err := airquality.ClosestStation(48.8471383, 2.4294888, stations, logger, airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Equal(t, paris.ID, id)

	id, err = airquality.ClosestStation(48.6971724, 2.1545856, stations, logger, airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Equal(t, gif.ID, id)
}

func TestClosestStation_PicksNearer(t *testing.T) {
	stations := []airquality.Station{
		{ID: 10, Latitude: 0, Longitude: 0},
		{ID: 20, Latitude: 0, Longitude: 1},
	}

	id, err := airquality.ClosestStation(0, 0.6, stations, zerolog.Nop(), airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Equal(t, int64(20), id)
}

func TestClosestStation_TieKeepsFirst(t *testing.T) {
	a := airquality.Station{ID: 10, Latitude: 0, Longitude: 0}
	b := airquality.Station{ID: 20, Latitude: 0, Longitude: 1}

	id, err := airquality.ClosestStation(0, 0.5, []airquality.Station{a, b}, zerolog.Nop(), airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	id, err = airquality.ClosestStation(0, 0.5, []airquality.Station{b, a}, zerolog.Nop(), airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func TestClosestStation_EmptyList(t *testing.T) {
	_, err := airquality.ClosestStation(0, 0, nil, zerolog.Nop(), airquality.DefaultFarStationKm)
	assert.ErrorIs(t, err, airquality.ErrInvalidInput)
}

func TestClosestStation_FarWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// Nice is about 676 km from Gif-sur-Yvette and slightly farther from Paris.
	id, err := airquality.ClosestStation(43.7032932, 7.1827771, []airquality.Station{paris, gif}, logger, airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Equal(t, gif.ID, id)

	entries := warnings(t, &buf, "km away")
	require.Len(t, entries, 1)
	assert.Equal(t, float64(gif.ID), entries[0]["station_id"])
	assert.Equal(t, float64(676), entries[0]["distance_km"])
}

func TestClosestStation_NoWarningWhenNear(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	_, err := airquality.ClosestStation(48.85, 2.35, []airquality.Station{paris, gif}, logger, airquality.DefaultFarStationKm)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(buf.String()))
}
