package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Hub — рассылка live-событий наблюдателям.
//
// Доставка best-effort и только "вживую": наблюдатель получает события,
// опубликованные после подписки. У каждого наблюдателя своя ограниченная
// очередь; при переполнении вытесняется самое старое событие этого
// наблюдателя. Publish никогда не блокируется.
type Hub struct {
	buffer  int
	logger  *slog.Logger
	metrics *telemetry.Metrics

	// mu держится только при изменении состава подписчиков.
	mu   sync.Mutex
	subs atomic.Pointer[[]*Subscription]

	closed atomic.Bool
}

// Config — конфигурация Hub.
type Config struct {
	Buffer  int                // размер очереди наблюдателя (default: 64)
	Logger  *slog.Logger       // опционально
	Metrics *telemetry.Metrics // опционально
}

// New создаёт новый Hub.
func New(cfg Config) *Hub {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	h := &Hub{
		buffer:  buffer,
		logger:  logger,
		metrics: cfg.Metrics,
	}
	empty := make([]*Subscription, 0)
	h.subs.Store(&empty)
	return h
}

// Option — параметр подписки.
type Option func(*Subscription)

// ForRun ограничивает подписку событиями одного run.
func ForRun(runID int64) Option {
	return func(s *Subscription) {
		s.runID = runID
	}
}

// ForPipeline ограничивает подписку событиями одного pipeline.
func ForPipeline(pipelineID string) Option {
	return func(s *Subscription) {
		s.pipelineID = pipelineID
	}
}

// WithBuffer задаёт размер очереди подписки.
func WithBuffer(n int) Option {
	return func(s *Subscription) {
		if n > 0 {
			s.ch = make(chan domain.Event, n)
		}
	}
}

// Subscribe регистрирует наблюдателя.
//
// Подписка на закрытый Hub сразу возвращает закрытую подписку.
func (h *Hub) Subscribe(opts ...Option) *Subscription {
	s := &Subscription{
		id:  uuid.NewString(),
		hub: h,
		ch:  make(chan domain.Event, h.buffer),
	}
	for _, opt := range opts {
		opt(s)
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		s.close()
		return s
	}

	cur := *h.subs.Load()
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	h.subs.Store(&next)
	h.mu.Unlock()

	h.metrics.Subscribers(len(next))
	h.logger.Debug("observer subscribed", "subscription_id", s.id, "total", len(next))

	return s
}

// Publish рассылает событие всем подходящим наблюдателям.
//
// Вызывается executor синхронно после записи в store, поэтому события
// одного run публикуются по порядку.
func (h *Hub) Publish(e domain.Event) {
	for _, s := range *h.subs.Load() {
		if !s.match(e) {
			continue
		}
		if s.send(e) {
			h.metrics.EventDropped()
		}
	}
}

// Count возвращает число наблюдателей.
func (h *Hub) Count() int {
	return len(*h.subs.Load())
}

// Close закрывает все подписки. Новые подписки сразу закрыты.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed.Store(true)
	cur := *h.subs.Load()
	empty := make([]*Subscription, 0)
	h.subs.Store(&empty)
	h.mu.Unlock()

	for _, s := range cur {
		s.close()
	}
	h.metrics.Subscribers(0)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	cur := *h.subs.Load()
	next := make([]*Subscription, 0, len(cur))
	for _, existing := range cur {
		if existing != s {
			next = append(next, existing)
		}
	}
	h.subs.Store(&next)
	h.mu.Unlock()

	h.metrics.Subscribers(len(next))
	h.logger.Debug("observer unsubscribed",
		"subscription_id", s.id,
		"dropped", s.Dropped(),
		"total", len(next),
	)
}
