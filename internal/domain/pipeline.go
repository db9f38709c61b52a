package domain

import (
	"context"
	"log/slog"
	"time"
)

// Pipeline — именованная упорядоченная последовательность tasks.
//
// Pipeline описывается в коде (или в каталоге YAML) и регистрируется
// в registry при старте процесса. После регистрации не изменяется.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline (например, "sales_pipeline").
	ID string `json:"id"`

	// Name — отображаемое имя. Если пустое, используется ID.
	Name string `json:"name,omitempty"`

	// Description — описание для оператора.
	Description string `json:"description,omitempty"`

	// Tasks — tasks в порядке выполнения.
	Tasks []Task `json:"tasks"`

	// Triggers — расписания и ручные триггеры pipeline.
	Triggers []Trigger `json:"triggers,omitempty"`

	// Params — схема входных параметров. Nil означает "параметров нет".
	Params *ParamSchema `json:"params,omitempty"`
}

// DisplayName возвращает Name или ID, если Name не задан.
func (p *Pipeline) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Trigger возвращает trigger по ID.
func (p *Pipeline) Trigger(id string) (*Trigger, bool) {
	for i := range p.Triggers {
		if p.Triggers[i].ID == id {
			return &p.Triggers[i], true
		}
	}
	return nil, false
}

// TaskIDs возвращает ID tasks в порядке выполнения.
func (p *Pipeline) TaskIDs() []string {
	ids := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// Task — один шаг pipeline.
type Task struct {
	// ID — идентификатор task, уникальный внутри pipeline.
	ID string `json:"id"`

	// Name — отображаемое имя.
	Name string `json:"name,omitempty"`

	// Description — описание шага.
	Description string `json:"description,omitempty"`

	// Timeout — ограничение времени выполнения. 0 означает "без ограничения".
	Timeout time.Duration `json:"timeout,omitempty"`

	// Run — тело task.
	Run TaskFunc `json:"-"`
}

// TaskFunc — тело task.
//
// Возвращаемое значение сериализуется в JSON и сохраняется как артефакт
// task. Nil означает "артефакта нет". Ошибка или паника переводят task
// в failed.
type TaskFunc func(ctx context.Context, tc *TaskContext) (any, error)

// TaskContext — данные, доступные task во время выполнения.
type TaskContext struct {
	// RunID — ID текущего run.
	RunID int64

	// PipelineID — ID pipeline.
	PipelineID string

	// TaskID — ID текущего task.
	TaskID string

	// Params — эффективные параметры run (после валидации).
	Params Params

	// Input — результат предыдущего task. Nil для первого task.
	Input any

	// Logger — логгер run. Все записи попадают в лог task run.
	Logger *slog.Logger
}
