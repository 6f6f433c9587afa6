package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwatch/airwatch/internal/api/handler"
	"github.com/airwatch/airwatch/internal/api/models"
	"github.com/airwatch/airwatch/internal/provider/resilience"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func serveOps(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/ops", http.NoBody))
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := handler.NewOpsHandler(handler.OpsConfig{Version: "1.2.3", BuildTime: "2026-01-01"})

	rec := serveOps(t, h.HealthCheck)

	require.Equal(t, http.StatusOK, rec.Code)
	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Details["version"])
}

func TestReadinessCheck(t *testing.T) {
	ready := handler.NewOpsHandler(handler.OpsConfig{Store: fakePinger{}})
	assert.Equal(t, http.StatusOK, serveOps(t, ready.ReadinessCheck).Code)

	down := handler.NewOpsHandler(handler.OpsConfig{Store: fakePinger{err: errors.New("dial tcp: refused")}})
	rec := serveOps(t, down.ReadinessCheck)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "dial tcp: refused")
}

func TestSystemStatus_ReportsProviders(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Add(resilience.NewClient(resilience.Config{Name: "waqi"}))

	h := handler.NewOpsHandler(handler.OpsConfig{
		Store:       fakePinger{},
		StoreDriver: "postgres",
		Providers:   registry,
	})

	rec := serveOps(t, h.SystemStatus)

	require.Equal(t, http.StatusOK, rec.Code)
	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "postgres", status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "waqi", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
}

func TestSystemStatus_StoreFailure(t *testing.T) {
	h := handler.NewOpsHandler(handler.OpsConfig{Store: fakePinger{err: errors.New("timeout")}})

	rec := serveOps(t, h.SystemStatus)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.NotNil(t, status.Subsystems[0].Detail)
	assert.Equal(t, "timeout", *status.Subsystems[0].Detail)
	assert.Empty(t, status.Providers)
}
