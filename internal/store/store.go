package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки хранилища.
var (
	// ErrNotFound — run или task run не найден.
	ErrNotFound = errors.New("not found")

	// ErrNoArtifact — task не вернул данных (или не выполнялся).
	ErrNoArtifact = fmt.Errorf("%w: task has no data", ErrNotFound)

	// ErrFinalized — run уже в терминальном статусе, изменения запрещены.
	ErrFinalized = errors.New("run already finalized")
)

// RunStore — хранилище истории runs.
//
// Записи одного run строго упорядочены (executor пишет из одной горутины,
// реализация сериализует их), записи разных runs независимы.
// После FinalizeRun любые изменения run возвращают ErrFinalized.
type RunStore interface {
	// CreateRun создаёт run в pending и task runs в pending.
	CreateRun(ctx context.Context, nr NewRun) (*domain.Run, error)

	// StartRun переводит run в running.
	StartRun(ctx context.Context, runID int64, at time.Time) error

	// AppendLog добавляет запись лога и возвращает её с присвоенным Seq.
	AppendLog(ctx context.Context, runID int64, entry domain.LogEntry) (domain.LogEntry, error)

	// RecordTaskResult обновляет статус task run (и артефакт для completed).
	RecordTaskResult(ctx context.Context, runID int64, taskID string, res TaskResult) error

	// FinalizeRun переводит run в терминальный статус ровно один раз.
	FinalizeRun(ctx context.Context, runID int64, fin Final) error

	// GetRun возвращает run с task runs.
	GetRun(ctx context.Context, runID int64) (*domain.Run, error)

	// ListRuns возвращает runs от новых к старым.
	ListRuns(ctx context.Context, f Filter) ([]domain.Run, error)

	// GetLogs возвращает логи run в порядке Seq.
	GetLogs(ctx context.Context, runID int64) ([]domain.LogEntry, error)

	// GetTaskArtifact возвращает сериализованный результат task.
	// ErrNoArtifact, если данных нет.
	GetTaskArtifact(ctx context.Context, runID int64, taskID string) ([]byte, error)
}

// NewRun — данные для создания run.
type NewRun struct {
	PipelineID string
	TriggerID  *string
	Params     domain.Params
	TaskIDs    []string
	CreatedAt  time.Time
}

// TaskResult — изменение task run.
type TaskResult struct {
	Status   domain.TaskStatus
	Artifact []byte
	Error    *domain.ErrorDetail
	At       time.Time
}

// Final — терминальное состояние run.
type Final struct {
	Status domain.RunStatus
	Error  string
	At     time.Time
}

// Filter — параметры фильтрации runs.
type Filter struct {
	PipelineID string
	TriggerID  string
	Limit      int // 0 — без ограничения
}

// Match проверяет run по фильтру (без учёта Limit).
func (f Filter) Match(r *domain.Run) bool {
	if f.PipelineID != "" && r.PipelineID != f.PipelineID {
		return false
	}
	if f.TriggerID != "" && (r.TriggerID == nil || *r.TriggerID != f.TriggerID) {
		return false
	}
	return true
}
