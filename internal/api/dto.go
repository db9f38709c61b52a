package api

import (
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Run DTOs

// RunPipelineRequest — запрос на запуск pipeline или trigger.
type RunPipelineRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          int64             `json:"id"`
	PipelineID  string            `json:"pipeline_id"`
	TriggerID   *string           `json:"trigger_id,omitempty"`
	Status      domain.RunStatus  `json:"status"`
	Params      domain.Params     `json:"params,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	Tasks       []TaskRunResponse `json:"tasks"`
}

// TaskRunResponse — ответ с task run.
type TaskRunResponse struct {
	TaskID      string              `json:"task_id"`
	Status      domain.TaskStatus   `json:"status"`
	HasData     bool                `json:"has_data"`
	Error       *domain.ErrorDetail `json:"error,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	DurationMs  int64               `json:"duration_ms"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		PipelineID:  r.PipelineID,
		TriggerID:   r.TriggerID,
		Status:      r.Status,
		Params:      r.Params,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration().Milliseconds(),
		Tasks:       make([]TaskRunResponse, len(r.Tasks)),
	}

	for i, t := range r.Tasks {
		resp.Tasks[i] = TaskRunResponse{
			TaskID:      t.TaskID,
			Status:      t.Status,
			HasData:     t.HasArtifact,
			Error:       t.Error,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
			DurationMs:  t.Duration().Milliseconds(),
		}
	}

	return resp
}
