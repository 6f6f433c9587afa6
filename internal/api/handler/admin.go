package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/api/middleware"
	"github.com/airwatch/airwatch/internal/api/response"
	"github.com/airwatch/airwatch/internal/ingest"
)

// IngestRunner runs one ingest pass. *ingest.Job implements it.
type IngestRunner interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	ingest IngestRunner
	logger zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(runner IngestRunner, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{ingest: runner, logger: logger}
}

// TriggerIngest handles POST /api/admin/ingest. The run summary is returned
// with 200 when every station succeeded and 502 when some station failed.
// Any other failure, such as an unreachable store, is a 500.
func (h *AdminHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		response.ServiceUnavailable(w, r, "ingest is not configured")
		return
	}

	h.logger.Info().
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("subject", middleware.GetSubject(r.Context())).
		Msg("ingest triggered")

	result, err := h.ingest.Run(r.Context())
	if err != nil {
		if result != nil && result.Failed > 0 {
			response.JSON(w, r, http.StatusBadGateway, result)
			return
		}
		h.logger.Error().Err(err).Msg("ingest run failed")
		response.InternalError(w, r, "ingest run failed")
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
