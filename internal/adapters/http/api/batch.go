package api

import (
	"errors"
	"net/http"

	service "github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/app"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
)

// BatchHandler triggers batch runs.
type BatchHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(deps Dependencies, log logger.Logger) *BatchHandler {
	return &BatchHandler{deps: deps, logger: log}
}

// Handle returns the handler for POST /batch/{kind}. A finished run answers
// 200 with its meetings, even when some employees failed. A run already in
// progress answers 409. Any other failure answers 500 with an empty list.
func (h *BatchHandler) Handle(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetings, _, err := h.deps.Run(r.Context(), kind)
		switch {
		case err == nil:
			if meetings == nil {
				meetings = []model.EnrichedMeeting{}
			}
			writeJSON(w, http.StatusOK, meetings)
		case errors.Is(err, service.ErrRunInProgress):
			writeError(w, http.StatusConflict, "run_in_progress", err)
		default:
			h.logger.Error(r.Context(), "batch run failed", logger.String("kind", string(kind)), logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, []model.EnrichedMeeting{})
		}
	}
}
