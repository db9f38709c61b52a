package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("GET /api/v1/pipelines/{id}/input-schema", chain(http.HandlerFunc(h.GetInputSchema)))
	mux.Handle("POST /api/v1/pipelines/{id}/run", chain(http.HandlerFunc(h.RunPipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/triggers/{trigger}/run", chain(http.HandlerFunc(h.RunTrigger)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/logs", chain(http.HandlerFunc(h.GetRunLogs)))
	mux.Handle("GET /api/v1/runs/{id}/data/{task}", chain(http.HandlerFunc(h.GetTaskData)))

	// Live events
	mux.Handle("GET /api/v1/events", chain(http.HandlerFunc(h.StreamEvents)))
}
