package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Registry — реестр типов task.
//
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
	env   map[string]string
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными типами.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(NewDelayKind())
	r.Register(NewHTTPKind())
	r.Register(NewEchoKind())
	r.Register(NewTransformKind())

	return r
}

// Register регистрирует тип. Тип с тем же именем перезаписывается.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Name()] = k
}

// SetEnv задаёт значения, доступные в шаблонах как {{ .Env.NAME }}.
func (r *Registry) SetEnv(env map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env = env
}

// Get возвращает тип по имени.
func (r *Registry) Get(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindNotFound, name)
	}
	return k, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[name]
	return ok
}

// Names возвращает имена всех типов по алфавиту.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build собирает тело task из типа и конфигурации.
//
// Конфигурация проверяется сразу: неизвестный тип, синтаксис шаблонов
// и обязательные поля дают ошибку при загрузке каталога, а не в run.
func (r *Registry) Build(taskID, kind string, config map[string]any, timeout time.Duration) (domain.TaskFunc, error) {
	k, err := r.Get(kind)
	if err != nil {
		return nil, err
	}

	if err := CheckConfig(config); err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := k.Validate(config); err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}

	r.mu.RLock()
	env := r.env
	r.mu.RUnlock()

	return func(ctx context.Context, tc *domain.TaskContext) (any, error) {
		data := NewData(tc)
		if env != nil {
			data.Env = env
		}

		rendered, err := RenderConfig(config, data)
		if err != nil {
			return nil, err
		}

		return k.Run(ctx, &Request{
			TaskID:  tc.TaskID,
			Config:  rendered,
			Data:    data,
			Logger:  tc.Logger,
			Timeout: timeout,
		})
	}, nil
}
