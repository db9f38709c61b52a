package orchestrator

import (
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PipelineView — описание pipeline для операторских интерфейсов.
type PipelineView struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Tasks       []TaskView          `json:"tasks"`
	Triggers    []TriggerView       `json:"triggers"`
	Params      *domain.ParamSchema `json:"input_schema,omitempty"`
}

// TaskView — описание task.
type TaskView struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// TriggerView — описание trigger с временем следующего срабатывания.
type TriggerView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Schedule     domain.Schedule `json:"schedule"`
	Params       map[string]any  `json:"params,omitempty"`
	NextFireTime *time.Time      `json:"next_fire_time,omitempty"`
}

// Describe возвращает описание pipeline.
func (o *Orchestrator) Describe(pipelineID string) (*PipelineView, error) {
	p, err := o.catalog.Get(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}

	v := o.describe(p)
	return &v, nil
}

// DescribeAll возвращает описания всех pipelines в порядке регистрации.
func (o *Orchestrator) DescribeAll() []PipelineView {
	pipelines := o.catalog.List()

	views := make([]PipelineView, 0, len(pipelines))
	for _, p := range pipelines {
		views = append(views, o.describe(p))
	}
	return views
}

func (o *Orchestrator) describe(p *domain.Pipeline) PipelineView {
	o.nextMu.RLock()
	next := o.nextFire
	o.nextMu.RUnlock()

	v := PipelineView{
		ID:          p.ID,
		Name:        p.DisplayName(),
		Description: p.Description,
		Tasks:       make([]TaskView, 0, len(p.Tasks)),
		Triggers:    make([]TriggerView, 0, len(p.Triggers)),
		Params:      p.Params,
	}

	for _, t := range p.Tasks {
		tv := TaskView{ID: t.ID, Name: t.Name, Description: t.Description}
		if t.Timeout > 0 {
			tv.Timeout = t.Timeout.String()
		}
		v.Tasks = append(v.Tasks, tv)
	}

	for _, t := range p.Triggers {
		tv := TriggerView{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Schedule:    t.Schedule,
			Params:      t.Params,
		}
		if next != nil {
			if at, ok := next.NextFire(p.ID, t.ID); ok {
				tv.NextFireTime = &at
			}
		}
		v.Triggers = append(v.Triggers, tv)
	}

	return v
}
