package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shaiso/Conveyor/internal/store"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// ListRuns возвращает список runs с фильтрацией, от новых к старым.
// GET /api/v1/runs?pipeline_id=...&trigger_id=...&limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.Filter{
		PipelineID: q.Get("pipeline_id"),
		TriggerID:  q.Get("trigger_id"),
		Limit:      defaultRunsLimit,
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxRunsLimit)
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// GetRunLogs отдаёт логи run построчно в JSON.
// GET /api/v1/runs/{id}/logs
func (h *Handler) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	// Проверяем run до записи заголовков
	if _, err := h.store.GetRun(r.Context(), runID); HandleError(w, h.logger, err, "run not found") {
		return
	}

	w.Header().Set("Content-Type", "application/jsonl")
	w.WriteHeader(http.StatusOK)

	if err := store.WriteLogs(r.Context(), h.store, runID, w); err != nil {
		h.logger.Warn("failed to stream logs", "run_id", runID, "error", err)
	}
}

// GetTaskData отдаёт сохранённый результат task.
// GET /api/v1/runs/{id}/data/{task}
func (h *Handler) GetTaskData(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	data, err := h.store.GetTaskArtifact(r.Context(), runID, r.PathValue("task"))
	if errors.Is(err, store.ErrNoArtifact) {
		NotFound(w, "Task has no data")
		return
	}
	if HandleError(w, h.logger, err, "run or task not found") {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// parseRunID читает ID run из пути.
func parseRunID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid run id")
		return 0, false
	}
	return id, true
}
