// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Run executes one batch of kind and returns its deduplicated meetings.
	Run(ctx context.Context, kind model.Kind) ([]model.EnrichedMeeting, *model.BatchRun, error)
	// LastRun returns the latest run record of kind.
	LastRun(ctx context.Context, kind model.Kind) (*model.BatchRun, error)
}

// Server wires HTTP routes for the trigger surface.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	batchHandler  *BatchHandler
	runsHandler   *RunsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Named("api")
	}
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		batchHandler:  NewBatchHandler(deps, log),
		runsHandler:   NewRunsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /batch/scheduled", MetricsMiddleware(s.batchHandler.Handle(model.KindScheduled), "batch_scheduled"))
	mux.HandleFunc("POST /batch/completed", MetricsMiddleware(s.batchHandler.Handle(model.KindCompleted), "batch_completed"))
	mux.HandleFunc("GET /runs/{kind}/last", MetricsMiddleware(s.runsHandler.HandleLast, "runs_last"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
