package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType — тип live-события.
type EventType string

const (
	// EventRunUpdate — изменился статус run.
	EventRunUpdate EventType = "run_update"

	// EventTaskLog — новая запись лога task.
	EventTaskLog EventType = "task_log"

	// EventTaskResult — task перешёл в новый статус.
	EventTaskResult EventType = "task_result"
)

// Event — live-уведомление для наблюдателей.
//
// События одного run упорядочены, между разными runs порядок не гарантируется.
// Заполнено ровно одно из Run, Log, Task в зависимости от Type.
// В JSON оно передаётся полем payload.
type Event struct {
	Type       EventType
	RunID      int64
	PipelineID string
	TaskID     string
	At         time.Time

	Run  *RunSummary
	Log  *LogEntry
	Task *TaskRun
}

// eventJSON — wire-форма Event.
type eventJSON struct {
	Type       EventType       `json:"type"`
	RunID      int64           `json:"run_id"`
	PipelineID string          `json:"pipeline_id"`
	TaskID     string          `json:"task_id,omitempty"`
	At         time.Time       `json:"at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON пишет событие как {type, run_id, task_id?, at, payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventRunUpdate:
		payload = e.Run
	case EventTaskLog:
		payload = e.Log
	case EventTaskResult:
		payload = e.Task
	}

	w := eventJSON{Type: e.Type, RunID: e.RunID, PipelineID: e.PipelineID, TaskID: e.TaskID, At: e.At}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if string(data) != "null" {
			w.Payload = data
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON разбирает payload по Type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Event{Type: w.Type, RunID: w.RunID, PipelineID: w.PipelineID, TaskID: w.TaskID, At: w.At}
	if len(w.Payload) == 0 {
		return nil
	}

	var target any
	switch w.Type {
	case EventRunUpdate:
		e.Run = &RunSummary{}
		target = e.Run
	case EventTaskLog:
		e.Log = &LogEntry{}
		target = e.Log
	case EventTaskResult:
		e.Task = &TaskRun{}
		target = e.Task
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}

	if err := json.Unmarshal(w.Payload, target); err != nil {
		return fmt.Errorf("event %s payload: %w", w.Type, err)
	}
	return nil
}

// RunSummary — состояние run без списка tasks.
type RunSummary struct {
	Status      RunStatus  `json:"status"`
	TriggerID   *string    `json:"trigger_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Summary возвращает RunSummary для события.
func (r *Run) Summary() *RunSummary {
	return &RunSummary{
		Status:      r.Status,
		TriggerID:   r.TriggerID,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
