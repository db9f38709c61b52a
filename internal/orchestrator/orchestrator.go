package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Catalog — источник описаний pipelines (registry).
type Catalog interface {
	Get(id string) (*domain.Pipeline, error)
	List() []*domain.Pipeline
}

// NextFirer сообщает время следующего срабатывания trigger (scheduler).
type NextFirer interface {
	NextFire(pipelineID, triggerID string) (time.Time, bool)
}

// Orchestrator принимает запросы на запуск и запускает runs.
//
// Orchestrator:
//   - Проверяет pipeline, trigger и параметры запроса
//   - Создаёт run в store
//   - Запускает executor в отдельной горутине
//   - Потребляет запросы на запуск из RabbitMQ (если подключён)
//
// Реализует scheduler.Launcher.
type Orchestrator struct {
	catalog  Catalog
	store    store.RunStore
	executor *executor.Executor
	conn     *mq.Connection
	logger   *slog.Logger
	now      func() time.Time

	nextMu   sync.RWMutex
	nextFire NextFirer

	// Active runs — runs в процессе выполнения (runID → pipelineID)
	activeRuns map[int64]string
	mu         sync.RWMutex
	runs       sync.WaitGroup

	// Consumers
	runConsumer *mq.Consumer

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Catalog  Catalog
	Store    store.RunStore
	Executor *executor.Executor

	// Conn — соединение с RabbitMQ для очереди runs.requested (опционально).
	Conn *mq.Connection

	Logger *slog.Logger
	Now    func() time.Time // default: time.Now
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		catalog:    cfg.Catalog,
		store:      cfg.Store,
		executor:   cfg.Executor,
		conn:       cfg.Conn,
		logger:     logger,
		now:        now,
		activeRuns: make(map[int64]string),
	}
}

// SetNextFirer подключает scheduler для Describe.
//
// Scheduler создаётся после оркестратора, потому что сам использует
// его как Launcher.
func (o *Orchestrator) SetNextFirer(n NextFirer) {
	o.nextMu.Lock()
	defer o.nextMu.Unlock()
	o.nextFire = n
}

// Start запускает consumer очереди runs.requested.
//
// Без Conn ничего не делает: запуск возможен только через RunPipeline.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.conn == nil {
		o.logger.Info("orchestrator started without message broker")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    mq.QueueRunsRequested,
		Handler:  o.handleRunRequested,
		Prefetch: 10,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("run consumer error", "error", err)
		}
	}()

	o.logger.Info("orchestrator started", "queue", mq.QueueRunsRequested)
	return nil
}

// Stop перестаёт принимать новые runs и останавливает consumer.
//
// Уже запущенные runs продолжают выполняться; дождаться их можно через Wait.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	if o.stopped {
		o.stoppedMu.Unlock()
		return
	}
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.runConsumer != nil {
		o.runConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped", "active_runs", o.ActiveRunsCount())
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Wait ждёт завершения всех запущенных runs.
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

// Shutdown ждёт завершения runs, но не дольше, чем живёт ctx.
//
// Runs, не успевшие завершиться, брошены: их статус останется running.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("abandoning in-flight runs", "active_runs", o.ActiveRunsCount())
		return ctx.Err()
	}
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(runID int64, pipelineID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeRuns[runID] = pipelineID
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// IsRunActive проверяет, выполняется ли run в этом процессе.
func (o *Orchestrator) IsRunActive(runID int64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.activeRuns[runID]
	return ok
}
