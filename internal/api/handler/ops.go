package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/airwatch/airwatch/internal/api/models"
	"github.com/airwatch/airwatch/internal/api/response"
	"github.com/airwatch/airwatch/internal/provider/resilience"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds configuration for the OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Store is pinged by the readiness and status endpoints.
	Store Pinger

	// StoreDriver names the storage subsystem in status output.
	StoreDriver string

	// Providers reports upstream circuit breaker state. Optional.
	Providers *resilience.Registry

	// PingTimeout bounds the storage check (default: 2s).
	PingTimeout time.Duration
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "store"
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /api/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /api/ops/ready - storage must answer a ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.pingStore(r.Context()); err != nil {
		response.ServiceUnavailable(w, r, "store unavailable: "+err.Error())
		return
	}
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	})
}

// SystemStatus handles GET /api/ops/status - storage and provider status.
// A failing store fails the system; an open provider circuit degrades it.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	storeStatus := models.SubsystemStatus{Name: h.cfg.StoreDriver, Status: models.HealthStatusOK}
	if err := h.pingStore(r.Context()); err != nil {
		detail := err.Error()
		storeStatus.Status = models.HealthStatusFail
		storeStatus.Detail = &detail
		status.Status = models.HealthStatusFail
	}
	status.Subsystems = append(status.Subsystems, storeStatus)

	if h.cfg.Providers != nil {
		for _, s := range h.cfg.Providers.Statuses() {
			ps := providerStatus(s)
			if ps.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	code := http.StatusOK
	if status.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, status)
}

func (h *OpsHandler) pingStore(ctx context.Context) error {
	if h.cfg.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
	defer cancel()
	return h.cfg.Store.Ping(ctx)
}

func providerStatus(s resilience.Status) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:      s.Name,
		Status:        models.HealthStatusOK,
		CircuitState:  s.State.String(),
		Requests:      s.Requests,
		Failures:      s.Failures,
		LastSuccessAt: models.TimestampPtr(s.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(s.LastFailureAt),
	}
	if !s.Healthy() {
		ps.Status = models.HealthStatusDegraded
	}
	if s.LastError != "" {
		msg := s.LastError
		ps.Message = &msg
	}
	return ps
}
