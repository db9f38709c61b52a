package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Publisher — получатель live-событий (hub).
type Publisher interface {
	Publish(e domain.Event)
}

// Executor выполняет tasks одного run последовательно.
//
// Каждое событие (лог, результат task, статус run) сначала записывается
// в store, затем публикуется. Ошибки и паники tasks не выходят за
// пределы Execute.
type Executor struct {
	store     store.RunStore
	publisher Publisher
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time

	finalizeAttempts int
	finalizeDelay    time.Duration
}

// Config — конфигурация Executor.
type Config struct {
	Store     store.RunStore
	Publisher Publisher          // опционально
	Logger    *slog.Logger       // опционально
	Metrics   *telemetry.Metrics // опционально
	Now       func() time.Time   // default: time.Now

	FinalizeAttempts int           // попыток записать финальный статус (default: 5)
	FinalizeDelay    time.Duration // начальная пауза между попытками (default: 100ms)
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	attempts := cfg.FinalizeAttempts
	if attempts <= 0 {
		attempts = 5
	}

	delay := cfg.FinalizeDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	return &Executor{
		store:            cfg.Store,
		publisher:        cfg.Publisher,
		logger:           logger,
		metrics:          cfg.Metrics,
		now:              now,
		finalizeAttempts: attempts,
		finalizeDelay:    delay,
	}
}

// Execute выполняет run и возвращает его финальный статус.
//
// 1. Переводит run в running
// 2. По очереди выполняет tasks, передавая результат предыдущего в Input
// 3. После первого упавшего task остальные помечаются skipped
// 4. Записывает финальный статус (с retry)
func (e *Executor) Execute(ctx context.Context, p *domain.Pipeline, run *domain.Run) domain.RunStatus {
	logger := telemetry.WithPipelineID(telemetry.WithRunID(e.logger, run.ID), p.ID)
	r := newRunState(run)

	// 1. Старт
	startedAt := e.now()
	if err := e.store.StartRun(ctx, run.ID, startedAt); err != nil {
		logger.Error("failed to start run", "error", err)
		if errors.Is(err, store.ErrFinalized) || errors.Is(err, store.ErrNotFound) {
			return run.Status
		}
	}
	r.run.Status = domain.RunStatusRunning
	r.run.StartedAt = &startedAt
	e.publishRun(r)

	e.metrics.RunStarted(p.ID)
	logger.Info("run started", "tasks", len(p.Tasks))

	sink := &runSink{exec: e, state: r}

	// 2. Tasks
	var input any
	var failure *domain.TaskExecutionError

	for i := range p.Tasks {
		task := &p.Tasks[i]

		if failure != nil {
			e.recordTask(ctx, r, task.ID, store.TaskResult{Status: domain.TaskStatusSkipped, At: e.now()})
			continue
		}

		output, detail := e.runTask(ctx, p, task, r, sink, input)
		if detail != nil {
			failure = &domain.TaskExecutionError{TaskID: task.ID, Detail: *detail}
			continue
		}
		input = output
	}

	// 3. Финальный статус
	status := domain.RunStatusCompleted
	errMsg := ""
	if failure != nil {
		status = domain.RunStatusFailed
		errMsg = failure.Error()
	}

	e.finalize(r, status, errMsg)

	logger.Info("run finished",
		"status", status,
		"duration", r.run.Duration(),
	)
	e.metrics.RunFinished(p.ID, string(status), r.run.Duration())

	return status
}

// Reject завершает run как failed без выполнения tasks.
//
// Используется, когда параметры run не прошли валидацию:
// все task runs становятся skipped.
func (e *Executor) Reject(ctx context.Context, run *domain.Run, reason string) {
	r := newRunState(run)

	for _, tr := range run.Tasks {
		e.recordTask(ctx, r, tr.TaskID, store.TaskResult{Status: domain.TaskStatusSkipped, At: e.now()})
	}
	e.finalize(r, domain.RunStatusFailed, reason)

	e.logger.Info("run rejected",
		"run_id", run.ID,
		"pipeline_id", run.PipelineID,
		"reason", reason,
	)
	e.metrics.RunFinished(run.PipelineID, string(domain.RunStatusFailed), 0)
}

// runTask выполняет один task и записывает его результат.
func (e *Executor) runTask(
	ctx context.Context,
	p *domain.Pipeline,
	task *domain.Task,
	r *runState,
	sink *runSink,
	input any,
) (any, *domain.ErrorDetail) {
	logger := telemetry.WithTaskID(telemetry.WithRunID(e.logger, r.run.ID), task.ID)

	// 1. running
	startedAt := e.now()
	e.recordTask(ctx, r, task.ID, store.TaskResult{Status: domain.TaskStatusRunning, At: startedAt})
	logger.Debug("task started")

	// 2. Выполнение
	tc := &domain.TaskContext{
		RunID:      r.run.ID,
		PipelineID: p.ID,
		TaskID:     task.ID,
		Params:     r.run.Params,
		Input:      input,
		Logger:     slog.New(&captureHandler{sink: sink, taskID: task.ID}),
	}
	output, detail := e.invoke(ctx, task, tc)

	// 3. Сериализация результата
	var artifact []byte
	if detail == nil && output != nil {
		data, err := json.Marshal(output)
		if err != nil {
			detail = &domain.ErrorDetail{Message: fmt.Sprintf("serialize task output: %v", err)}
		} else {
			artifact = data
		}
	}

	// 4. Запись результата
	completedAt := e.now()
	res := store.TaskResult{Status: domain.TaskStatusCompleted, Artifact: artifact, At: completedAt}
	if detail != nil {
		res = store.TaskResult{Status: domain.TaskStatusFailed, Error: detail, At: completedAt}
	}
	sink.close(task.ID)
	e.recordTask(ctx, r, task.ID, res)

	e.metrics.TaskFinished(p.ID, task.ID, string(res.Status), completedAt.Sub(startedAt))

	if detail != nil {
		logger.Warn("task failed", "error", detail.Message)
		return nil, detail
	}

	logger.Debug("task completed", "has_artifact", artifact != nil)
	return output, nil
}

// invoke вызывает тело task в отдельной горутине.
//
// Паника превращается в ErrorDetail со стеком горутины. При истечении
// Task.Timeout task считается упавшим, даже если тело ещё не вернулось.
func (e *Executor) invoke(ctx context.Context, task *domain.Task, tc *domain.TaskContext) (any, *domain.ErrorDetail) {
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	ctx = telemetry.WithLogger(ctx, tc.Logger)

	type result struct {
		output any
		detail *domain.ErrorDetail
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{detail: &domain.ErrorDetail{
					Message: fmt.Sprintf("panic: %v", rec),
					Trace:   string(debug.Stack()),
				}}
			}
		}()

		output, err := task.Run(ctx, tc)
		if err != nil {
			done <- result{detail: &domain.ErrorDetail{Message: err.Error(), Trace: errorChain(err)}}
			return
		}
		done <- result{output: output}
	}()

	select {
	case res := <-done:
		return res.output, res.detail
	case <-ctx.Done():
		msg := ctx.Err().Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && task.Timeout > 0 {
			msg = fmt.Sprintf("task timed out after %s", task.Timeout)
		}
		return nil, &domain.ErrorDetail{Message: msg}
	}
}

// recordTask пишет изменение task run в store и публикует событие.
func (e *Executor) recordTask(ctx context.Context, r *runState, taskID string, res store.TaskResult) {
	if err := e.store.RecordTaskResult(ctx, r.run.ID, taskID, res); err != nil {
		e.logger.Error("failed to record task result",
			"run_id", r.run.ID,
			"task_id", taskID,
			"status", res.Status,
			"error", err,
		)
	}

	tr := r.applyTask(taskID, res)
	e.publish(domain.Event{
		Type:       domain.EventTaskResult,
		RunID:      r.run.ID,
		PipelineID: r.run.PipelineID,
		TaskID:     taskID,
		At:         res.At,
		Task:       &tr,
	})
}

// finalize записывает финальный статус run с повторами.
//
// Store может быть временно недоступен (PostgreSQL), а финальный статус
// терять нельзя. ErrFinalized и ErrNotFound не повторяются.
func (e *Executor) finalize(r *runState, status domain.RunStatus, errMsg string) {
	fin := store.Final{Status: status, Error: errMsg, At: e.now()}
	delay := e.finalizeDelay

	var err error
	for attempt := 1; attempt <= e.finalizeAttempts; attempt++ {
		// Контекст run здесь не используется: отмена run не должна
		// оставлять его нетерминальным
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = e.store.FinalizeRun(ctx, r.run.ID, fin)
		cancel()

		if err == nil || errors.Is(err, store.ErrFinalized) || errors.Is(err, store.ErrNotFound) {
			break
		}

		e.logger.Warn("failed to finalize run, retrying",
			"run_id", r.run.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		time.Sleep(delay)
		delay *= 2
	}

	if err != nil {
		e.logger.Error("failed to finalize run", "run_id", r.run.ID, "status", status, "error", err)
		return
	}

	r.run.Status = status
	r.run.Error = errMsg
	r.run.CompletedAt = &fin.At
	e.publishRun(r)
}

func (e *Executor) publishRun(r *runState) {
	e.publish(domain.Event{
		Type:       domain.EventRunUpdate,
		RunID:      r.run.ID,
		PipelineID: r.run.PipelineID,
		At:         e.now(),
		Run:        r.run.Summary(),
	})
}

func (e *Executor) publish(ev domain.Event) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ev)
}

// --- Helpers ---

// runState — локальная копия run, из которой строятся события.
type runState struct {
	run *domain.Run
}

func newRunState(run *domain.Run) *runState {
	c := *run
	c.Tasks = append([]domain.TaskRun(nil), run.Tasks...)
	return &runState{run: &c}
}

func (r *runState) applyTask(taskID string, res store.TaskResult) domain.TaskRun {
	tr, ok := r.run.Task(taskID)
	if !ok {
		return domain.TaskRun{TaskID: taskID, Status: res.Status, Error: res.Error}
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
		tr.HasArtifact = true
	}
	return *tr
}

// errorChain перечисляет сообщения обёрнутых ошибок по одному на строку.
func errorChain(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	if len(lines) <= 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}
