package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func noop(context.Context, *domain.TaskContext) (any, error) { return nil, nil }

func pipeline(id string, triggers ...domain.Trigger) *domain.Pipeline {
	return &domain.Pipeline{
		ID: id,
		Tasks: []domain.Task{
			{ID: "extract", Run: noop},
			{ID: "load", Run: noop},
		},
		Triggers: triggers,
	}
}

func interval(id string) domain.Trigger {
	return domain.Trigger{
		ID:       id,
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: domain.Interval{Days: 1}},
	}
}

// --- Register Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()

	if err := r.Register(pipeline("sales", interval("daily"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := r.Get("sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "sales" {
		t.Errorf("expected sales, got %s", p.ID)
	}

	if _, err := r.Get("unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		r.MustRegister(pipeline(id))
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 pipelines, got %d", len(list))
	}
	for i, want := range []string{"zeta", "alpha", "mid"} {
		if list[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, list[i].ID)
		}
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		p    *domain.Pipeline
		kind error
	}{
		{"empty id", pipeline(""), ErrInvalidPipeline},
		{"no tasks", &domain.Pipeline{ID: "x"}, ErrInvalidPipeline},
		{"duplicate trigger", pipeline("x", interval("daily"), interval("daily")), ErrInvalidTrigger},
		{"bad cron", pipeline("x", domain.Trigger{ID: "c", Schedule: domain.Schedule{Kind: domain.ScheduleCron, Cron: "61 * * * *"}}), ErrInvalidTrigger},
		{"bad timezone", pipeline("x", domain.Trigger{ID: "c", Schedule: domain.Schedule{Kind: domain.ScheduleCron, Cron: "@daily", Timezone: "Nowhere/City"}}), ErrInvalidTrigger},
		{"zero interval", pipeline("x", domain.Trigger{ID: "i", Schedule: domain.Schedule{Kind: domain.ScheduleInterval}}), ErrInvalidTrigger},
		{"duplicate task", &domain.Pipeline{ID: "x", Tasks: []domain.Task{{ID: "a", Run: noop}, {ID: "a", Run: noop}}}, ErrInvalidTask},
		{"task without body", &domain.Pipeline{ID: "x", Tasks: []domain.Task{{ID: "a"}}}, ErrInvalidTask},
		{"bad params", &domain.Pipeline{
			ID:     "x",
			Tasks:  []domain.Task{{ID: "a", Run: noop}},
			Params: &domain.ParamSchema{Fields: []domain.ParamField{{Name: "n", Type: "date"}}},
		}, ErrInvalidPipeline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			err := r.Register(tt.p)

			var regErr *RegistrationError
			if !errors.As(err, &regErr) {
				t.Fatalf("expected RegistrationError, got %v", err)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
			if r.Count() != 0 {
				t.Errorf("rejected pipeline must not be registered")
			}
		})
	}
}

func TestRegistry_DuplicatePipeline(t *testing.T) {
	r := New()
	r.MustRegister(pipeline("sales"))

	err := r.Register(pipeline("sales"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 pipeline, got %d", r.Count())
	}
}

func TestRegistry_Seal(t *testing.T) {
	r := New()
	r.MustRegister(pipeline("a"))
	r.Seal()

	if err := r.Register(pipeline("b")); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed, got %v", err)
	}
	if _, err := r.Get("a"); err != nil {
		t.Errorf("reads must work after seal: %v", err)
	}
}

func TestRegistry_IsolatedInstances(t *testing.T) {
	a, b := New(), New()
	a.MustRegister(pipeline("sales"))

	if _, err := b.Get("sales"); !errors.Is(err, ErrNotFound) {
		t.Error("registries must not share pipelines")
	}
	if err := b.Register(pipeline("sales")); err != nil {
		t.Errorf("same id in another registry must be allowed: %v", err)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(pipeline(fmt.Sprintf("p%d", i)))
		}(i)
		go func() {
			defer wg.Done()
			for _, p := range r.List() {
				if _, err := r.Get(p.ID); err != nil {
					t.Errorf("listed pipeline not found: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if r.Count() != 20 {
		t.Errorf("expected 20 pipelines, got %d", r.Count())
	}
}

// --- Default Tests ---

func TestDefault_RequiresInit(t *testing.T) {
	prev := defaultReg.Load()
	defaultReg.Store(nil)
	defer defaultReg.Store(prev)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Default before Init should panic")
			}
		}()
		Default()
	}()

	reg := Init()
	if reg == nil || Default() != reg {
		t.Fatal("Default should return the registry created by Init")
	}
	if Init() != reg {
		t.Error("repeated Init should return the same registry")
	}
}
