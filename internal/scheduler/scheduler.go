package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Source — источник pipelines (registry).
type Source interface {
	List() []*domain.Pipeline
}

// Launcher запускает run по trigger.
//
// Launch не должен ждать выполнения tasks: scheduler вызывает его
// из единственной горутины.
type Launcher interface {
	Launch(ctx context.Context, pipelineID, triggerID string) (int64, error)
}

// Scheduler — планировщик triggers.
//
// Одна горутина раз в TickInterval проверяет таблицу jobs и запускает
// те, у которых наступило время. Пропущенные моменты не догоняются:
// после срабатывания следующий момент — первый строго после now.
type Scheduler struct {
	source   Source
	launcher Launcher
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tick     time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	jobs   map[jobKey]*job
	order  []jobKey
	anchor time.Time

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stoppedMu sync.Mutex
	stopped   bool
}

// Config — конфигурация Scheduler.
type Config struct {
	Source       Source
	Launcher     Launcher
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics // опционально
	TickInterval time.Duration      // период проверки (default: 1s)
	Now          func() time.Time   // часы (default: time.Now)
}

type jobKey struct {
	pipelineID string
	triggerID  string
}

type job struct {
	key      jobKey
	schedule domain.Schedule
	next     time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	return &Scheduler{
		source:   cfg.Source,
		launcher: cfg.Launcher,
		logger:   logger,
		metrics:  cfg.Metrics,
		tick:     tick,
		now:      now,
	}
}

// Load строит таблицу jobs по всем не-manual triggers.
//
// Время now становится якорем интервалов без StartDate.
// Вызывается из Start; тесты могут вызвать напрямую.
func (s *Scheduler) Load(now time.Time) {
	jobs := make(map[jobKey]*job)
	order := make([]jobKey, 0)

	for _, p := range s.source.List() {
		for _, tr := range p.Triggers {
			if tr.Schedule.IsManual() {
				continue
			}

			key := jobKey{pipelineID: p.ID, triggerID: tr.ID}
			j := &job{key: key, schedule: tr.Schedule}

			next, err := NextFireTime(tr.Schedule, now, now)
			if err != nil {
				s.logger.Error("failed to calculate next fire time",
					"pipeline_id", p.ID,
					"trigger_id", tr.ID,
					"error", err,
				)
			} else {
				j.next = next
			}

			jobs[key] = j
			order = append(order, key)
		}
	}

	s.mu.Lock()
	s.jobs = jobs
	s.order = order
	s.anchor = now
	s.mu.Unlock()

	s.logger.Info("scheduler loaded triggers", "count", len(order))
}

// Start запускает цикл планировщика.
func (s *Scheduler) Start(ctx context.Context) {
	s.Load(s.now())

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("scheduler started", "tick", s.tick)
}

// Stop останавливает цикл и ждёт его завершения.
func (s *Scheduler) Stop() {
	s.stoppedMu.Lock()
	if s.stopped {
		s.stoppedMu.Unlock()
		return
	}
	s.stopped = true
	s.stoppedMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx, s.now())
		case <-ctx.Done():
			return
		}
	}
}

// Tick выполняет один тик планировщика и возвращает число срабатываний.
//
// 1. Находит jobs с next <= now
// 2. Для каждого вызывает Launcher.Launch
// 3. Пересчитывает next строго после now (пропущенные моменты не догоняются)
//
// Ошибки одного trigger не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.RLock()
	loaded := s.jobs != nil
	s.mu.RUnlock()
	if !loaded {
		s.Load(now)
	}

	// 1. Находим due jobs
	due := s.due(now)
	if len(due) == 0 {
		return 0
	}

	s.logger.Debug("found due triggers", "count", len(due))

	// 2. Запускаем
	var fired int
	for _, j := range due {
		if s.fire(ctx, j, now) {
			fired++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"fired", fired,
	)

	return fired
}

// NextFire возвращает закэшированное время следующего срабатывания trigger.
// false для manual и неизвестных triggers.
func (s *Scheduler) NextFire(pipelineID, triggerID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobKey{pipelineID: pipelineID, triggerID: triggerID}]
	if !ok || j.next.IsZero() {
		return time.Time{}, false
	}
	return j.next, true
}

// due возвращает копии jobs, у которых наступило время.
func (s *Scheduler) due(now time.Time) []job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]job, 0)
	for _, key := range s.order {
		j := s.jobs[key]
		if j.next.IsZero() || j.next.After(now) {
			continue
		}
		out = append(out, *j)
	}
	return out
}

// fire запускает один job и сдвигает его next.
func (s *Scheduler) fire(ctx context.Context, j job, now time.Time) bool {
	// 1. Сдвигаем next до запуска, чтобы ошибка запуска не приводила
	// к повторному срабатыванию на каждом тике
	s.mu.RLock()
	anchor := s.anchor
	s.mu.RUnlock()

	next, err := NextFireTime(j.schedule, anchor, now)
	if err != nil && !errors.Is(err, ErrManual) {
		s.logger.Error("failed to calculate next fire time",
			"pipeline_id", j.key.pipelineID,
			"trigger_id", j.key.triggerID,
			"error", err,
		)
	}
	s.setNext(j.key, next)

	// 2. Запускаем run
	runID, err := s.launcher.Launch(ctx, j.key.pipelineID, j.key.triggerID)
	if err != nil {
		s.logger.Warn("failed to launch scheduled run",
			"pipeline_id", j.key.pipelineID,
			"trigger_id", j.key.triggerID,
			"run_id", runID,
			"error", err,
		)
		return false
	}

	s.metrics.TriggerFired(j.key.pipelineID, j.key.triggerID)

	s.logger.Info("trigger fired",
		"pipeline_id", j.key.pipelineID,
		"trigger_id", j.key.triggerID,
		"run_id", runID,
		"scheduled_at", j.next,
		"lag", now.Sub(j.next),
		"next_fire_time", next,
	)

	return true
}

func (s *Scheduler) setNext(key jobKey, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[key]; ok {
		j.next = next
	}
}
