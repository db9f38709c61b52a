package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Memory — RunStore в памяти процесса.
//
// Используется, когда DB_URL не задан, и в тестах. Каждый run защищён
// своим мьютексом, общий мьютекс держится только при работе с картой.
type Memory struct {
	nextID atomic.Int64

	mu   sync.RWMutex
	runs map[int64]*memRun
}

type memRun struct {
	mu        sync.Mutex
	run       domain.Run
	logs      []domain.LogEntry
	artifacts map[string][]byte
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{runs: make(map[int64]*memRun)}
}

var _ RunStore = (*Memory)(nil)

// CreateRun создаёт run в pending.
func (m *Memory) CreateRun(_ context.Context, nr NewRun) (*domain.Run, error) {
	createdAt := nr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	run := domain.Run{
		ID:         m.nextID.Add(1),
		PipelineID: nr.PipelineID,
		TriggerID:  nr.TriggerID,
		Status:     domain.RunStatusPending,
		Params:     copyParams(nr.Params),
		CreatedAt:  createdAt,
		Tasks:      make([]domain.TaskRun, len(nr.TaskIDs)),
	}
	for i, id := range nr.TaskIDs {
		run.Tasks[i] = domain.TaskRun{TaskID: id, Position: i, Status: domain.TaskStatusPending}
	}

	mr := &memRun{run: run, artifacts: make(map[string][]byte)}

	m.mu.Lock()
	m.runs[run.ID] = mr
	m.mu.Unlock()

	return cloneRun(&run), nil
}

// StartRun переводит run в running.
func (m *Memory) StartRun(_ context.Context, runID int64, at time.Time) error {
	return m.update(runID, func(mr *memRun) error {
		mr.run.Status = domain.RunStatusRunning
		mr.run.StartedAt = &at
		return nil
	})
}

// AppendLog добавляет запись лога.
func (m *Memory) AppendLog(_ context.Context, runID int64, entry domain.LogEntry) (domain.LogEntry, error) {
	err := m.update(runID, func(mr *memRun) error {
		entry.Seq = int64(len(mr.logs) + 1)
		mr.logs = append(mr.logs, entry)
		return nil
	})
	return entry, err
}

// RecordTaskResult обновляет статус task run.
func (m *Memory) RecordTaskResult(_ context.Context, runID int64, taskID string, res TaskResult) error {
	return m.update(runID, func(mr *memRun) error {
		tr, ok := mr.run.Task(taskID)
		if !ok {
			return fmt.Errorf("task %q of run %d: %w", taskID, runID, ErrNotFound)
		}

		at := res.At
		tr.Status = res.Status
		tr.Error = res.Error
		switch {
		case res.Status == domain.TaskStatusRunning:
			tr.StartedAt = &at
		case res.Status.IsTerminal():
			tr.CompletedAt = &at
		}

		if res.Artifact != nil {
			mr.artifacts[taskID] = append([]byte(nil), res.Artifact...)
			tr.HasArtifact = true
		}
		return nil
	})
}

// FinalizeRun переводит run в терминальный статус.
func (m *Memory) FinalizeRun(_ context.Context, runID int64, fin Final) error {
	if !fin.Status.IsTerminal() {
		return fmt.Errorf("finalize run %d: status %q is not terminal", runID, fin.Status)
	}
	return m.update(runID, func(mr *memRun) error {
		at := fin.At
		mr.run.Status = fin.Status
		mr.run.Error = fin.Error
		mr.run.CompletedAt = &at
		return nil
	})
}

// GetRun возвращает копию run.
func (m *Memory) GetRun(_ context.Context, runID int64) (*domain.Run, error) {
	mr, err := m.get(runID)
	if err != nil {
		return nil, err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	return cloneRun(&mr.run), nil
}

// ListRuns возвращает runs от новых к старым.
func (m *Memory) ListRuns(_ context.Context, f Filter) ([]domain.Run, error) {
	m.mu.RLock()
	all := make([]*memRun, 0, len(m.runs))
	for _, mr := range m.runs {
		all = append(all, mr)
	}
	m.mu.RUnlock()

	out := make([]domain.Run, 0)
	for _, mr := range all {
		mr.mu.Lock()
		if f.Match(&mr.run) {
			out = append(out, *cloneRun(&mr.run))
		}
		mr.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetLogs возвращает логи run.
func (m *Memory) GetLogs(_ context.Context, runID int64) ([]domain.LogEntry, error) {
	mr, err := m.get(runID)
	if err != nil {
		return nil, err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]domain.LogEntry(nil), mr.logs...), nil
}

// GetTaskArtifact возвращает данные task.
func (m *Memory) GetTaskArtifact(_ context.Context, runID int64, taskID string) ([]byte, error) {
	mr, err := m.get(runID)
	if err != nil {
		return nil, err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, ok := mr.run.Task(taskID); !ok {
		return nil, fmt.Errorf("task %q of run %d: %w", taskID, runID, ErrNotFound)
	}
	data, ok := mr.artifacts[taskID]
	if !ok {
		return nil, ErrNoArtifact
	}
	return append([]byte(nil), data...), nil
}

// --- Helpers ---

func (m *Memory) get(runID int64) (*memRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mr, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	return mr, nil
}

// update выполняет fn под мьютексом run, если run ещё не терминальный.
func (m *Memory) update(runID int64, fn func(*memRun) error) error {
	mr, err := m.get(runID)
	if err != nil {
		return err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.run.Status.IsTerminal() {
		return fmt.Errorf("run %d: %w", runID, ErrFinalized)
	}
	return fn(mr)
}

func cloneRun(r *domain.Run) *domain.Run {
	c := *r
	c.Params = copyParams(r.Params)
	c.Tasks = append([]domain.TaskRun(nil), r.Tasks...)
	return &c
}

func copyParams(p domain.Params) domain.Params {
	if p == nil {
		return nil
	}
	c := make(domain.Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
