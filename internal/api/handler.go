package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/hub"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Orchestrator — операции над pipelines, нужные API.
type Orchestrator interface {
	DescribeAll() []orchestrator.PipelineView
	Describe(pipelineID string) (*orchestrator.PipelineView, error)
	RunPipeline(ctx context.Context, req orchestrator.RunRequest) (int64, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orchestrator Orchestrator
	store        store.RunStore
	hub          *hub.Hub
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator Orchestrator
	Store        store.RunStore
	Hub          *hub.Hub // опционально: без него /events отвечает 503
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	return &Handler{
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		hub:          cfg.Hub,
		logger:       logger,
	}
}
