package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
)

// ListPipelines возвращает все pipelines с next_fire_time их triggers.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines := h.orchestrator.DescribeAll()
	List(w, pipelines, len(pipelines))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := h.orchestrator.Describe(r.PathValue("id"))
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}
	Success(w, p)
}

// GetInputSchema возвращает схему параметров pipeline.
// GET /api/v1/pipelines/{id}/input-schema
func (h *Handler) GetInputSchema(w http.ResponseWriter, r *http.Request) {
	p, err := h.orchestrator.Describe(r.PathValue("id"))
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}

	schema := p.Params
	if schema == nil {
		schema = &domain.ParamSchema{Fields: []domain.ParamField{}}
	}
	Success(w, schema)
}

// RunPipeline запускает pipeline вручную.
// POST /api/v1/pipelines/{id}/run
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}

	h.launch(w, r, orchestrator.RunRequest{
		PipelineID: r.PathValue("id"),
		Params:     req.Params,
	})
}

// RunTrigger запускает trigger вручную с его параметрами.
// POST /api/v1/pipelines/{id}/triggers/{trigger}/run
func (h *Handler) RunTrigger(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}

	trigger := r.PathValue("trigger")
	h.launch(w, r, orchestrator.RunRequest{
		PipelineID: r.PathValue("id"),
		TriggerID:  &trigger,
		Params:     req.Params,
	})
}

// launch запускает run и отвечает его текущим состоянием.
func (h *Handler) launch(w http.ResponseWriter, r *http.Request, req orchestrator.RunRequest) {
	runID, err := h.orchestrator.RunPipeline(r.Context(), req)

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		InvalidParams(w, runID, verr)
		return
	}
	if HandleError(w, h.logger, err, "") {
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	Created(w, RunFromDomain(*run))
}

// decodeRunRequest читает тело запроса на запуск. Пустое тело допустимо.
func decodeRunRequest(w http.ResponseWriter, r *http.Request) (RunPipelineRequest, bool) {
	var req RunPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return req, false
	}
	return req, true
}
