package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

// RunsDependencies defines the interface for run lookups.
type RunsDependencies interface {
	LastRun(ctx context.Context, kind model.Kind) (*model.BatchRun, error)
}

// RunsHandler serves run audit records.
type RunsHandler struct {
	deps RunsDependencies
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps RunsDependencies) *RunsHandler {
	return &RunsHandler{deps: deps}
}

// HandleLast handles GET /runs/{kind}/last.
func (h *RunsHandler) HandleLast(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	run, err := h.deps.LastRun(r.Context(), kind)
	switch {
	case errors.Is(err, model.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	default:
		writeJSON(w, http.StatusOK, run)
	}
}
