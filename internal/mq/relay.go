package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/hub"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// EventPublisher публикует live-события во внешний брокер.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e domain.Event) error
}

// Relay пересылает события Hub в conveyor.events.
//
// Relay — обычный наблюдатель Hub: медленный брокер теряет самые старые
// события, но никогда не тормозит выполнение run.
type Relay struct {
	hub       *hub.Hub
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	timeout   time.Duration
	buffer    int
}

// RelayConfig — конфигурация Relay.
type RelayConfig struct {
	Hub       *hub.Hub
	Publisher EventPublisher
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics

	// Timeout — таймаут публикации одного события (default: 5s).
	Timeout time.Duration

	// Buffer — размер очереди подписки (default: 256).
	Buffer int
}

// NewRelay создаёт новый Relay.
func NewRelay(cfg RelayConfig) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}

	return &Relay{
		hub:       cfg.Hub,
		publisher: cfg.Publisher,
		logger:    logger,
		metrics:   cfg.Metrics,
		timeout:   timeout,
		buffer:    buffer,
	}
}

// Run подписывается на Hub и пересылает события до отмены ctx
// или закрытия Hub.
func (r *Relay) Run(ctx context.Context) {
	sub := r.hub.Subscribe(hub.WithBuffer(r.buffer))
	defer sub.Close()

	r.logger.Info("event relay started", "exchange", ExchangeEvents)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("event relay stopped", "dropped", sub.Dropped())
			return
		case e, ok := <-sub.Events():
			if !ok {
				r.logger.Info("event relay stopped: hub closed", "dropped", sub.Dropped())
				return
			}
			r.forward(ctx, e)
		}
	}
}

// forward публикует одно событие. Ошибки только логируются.
func (r *Relay) forward(ctx context.Context, e domain.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.publisher.PublishEvent(pubCtx, e); err != nil {
		r.metrics.EventRelayed(false)
		r.logger.Warn("failed to relay event",
			"type", e.Type,
			"run_id", e.RunID,
			"error", err,
		)
		return
	}

	r.metrics.EventRelayed(true)
}
