package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/scheduler"
)

// Registry — реестр pipelines.
//
// Pipelines регистрируются при старте процесса. После Seal реестр
// только читается: Get и List работают со снимком без блокировок.
// Потокобезопасен.
type Registry struct {
	mu     sync.Mutex
	sealed bool

	// snap — неизменяемый снимок, заменяется целиком при каждой регистрации.
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	byID  map[string]*domain.Pipeline
	order []*domain.Pipeline
}

// New создаёт пустой реестр.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byID: map[string]*domain.Pipeline{}})
	return r
}

// Register проверяет и регистрирует pipeline.
//
// Все проверки выполняются сразу: повторяющиеся ID pipeline, tasks и
// triggers, а также невалидные расписания дают RegistrationError.
func (r *Registry) Register(p *domain.Pipeline) error {
	if p == nil {
		return regErr("", ErrInvalidPipeline, "nil pipeline")
	}
	if err := validate(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register pipeline %q: %w", p.ID, ErrSealed)
	}

	cur := r.snap.Load()
	if _, exists := cur.byID[p.ID]; exists {
		return regErr(p.ID, ErrDuplicateID, "")
	}

	// Copy-on-write: читатели продолжают работать со старым снимком
	next := &snapshot{
		byID:  make(map[string]*domain.Pipeline, len(cur.byID)+1),
		order: make([]*domain.Pipeline, 0, len(cur.order)+1),
	}
	for id, existing := range cur.byID {
		next.byID[id] = existing
	}
	next.order = append(next.order, cur.order...)
	next.byID[p.ID] = p
	next.order = append(next.order, p)

	r.snap.Store(next)
	return nil
}

// MustRegister регистрирует pipeline и паникует при ошибке.
// Удобно для встроенных pipelines, описанных в коде.
func (r *Registry) MustRegister(p *domain.Pipeline) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Seal завершает фазу регистрации.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get возвращает pipeline по ID.
// Возвращает ErrNotFound, если pipeline не найден.
func (r *Registry) Get(id string) (*domain.Pipeline, error) {
	p, ok := r.snap.Load().byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// List возвращает pipelines в порядке регистрации.
func (r *Registry) List() []*domain.Pipeline {
	order := r.snap.Load().order
	out := make([]*domain.Pipeline, len(order))
	copy(out, order)
	return out
}

// Count возвращает количество зарегистрированных pipelines.
func (r *Registry) Count() int {
	return len(r.snap.Load().order)
}

// --- Helpers ---

func validate(p *domain.Pipeline) error {
	if p.ID == "" {
		return regErr(p.ID, ErrInvalidPipeline, "empty id")
	}
	if len(p.Tasks) == 0 {
		return regErr(p.ID, ErrInvalidPipeline, "no tasks")
	}
	if p.Params != nil {
		if err := p.Params.Check(); err != nil {
			return regErr(p.ID, ErrInvalidPipeline, "params: %v", err)
		}
	}

	// 1. Tasks
	tasks := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return regErr(p.ID, ErrInvalidTask, "task with empty id")
		}
		if tasks[t.ID] {
			return regErr(p.ID, ErrInvalidTask, "duplicate task id %q", t.ID)
		}
		if t.Run == nil {
			return regErr(p.ID, ErrInvalidTask, "task %q has no body", t.ID)
		}
		if t.Timeout < 0 {
			return regErr(p.ID, ErrInvalidTask, "task %q has negative timeout", t.ID)
		}
		tasks[t.ID] = true
	}

	// 2. Triggers
	triggers := make(map[string]bool, len(p.Triggers))
	for _, tr := range p.Triggers {
		if tr.ID == "" {
			return regErr(p.ID, ErrInvalidTrigger, "trigger with empty id")
		}
		if triggers[tr.ID] {
			return regErr(p.ID, ErrInvalidTrigger, "duplicate trigger id %q", tr.ID)
		}
		if err := scheduler.Validate(tr.Schedule); err != nil {
			return regErr(p.ID, ErrInvalidTrigger, "trigger %q: %v", tr.ID, err)
		}
		triggers[tr.ID] = true
	}

	return nil
}
