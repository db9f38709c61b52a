package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// RunRequest — запрос на запуск pipeline.
type RunRequest struct {
	// PipelineID — ID pipeline.
	PipelineID string

	// TriggerID — trigger, от имени которого запускается run.
	// Nil для ручного запуска.
	TriggerID *string

	// Params — параметры запуска. Перекрывают параметры trigger.
	Params map[string]any
}

// RunPipeline создаёт run и запускает его асинхронно.
//
// 1. Находит pipeline и trigger
// 2. Сливает параметры trigger с параметрами запроса
// 3. Валидирует параметры по схеме pipeline
// 4. Создаёт run в store
// 5. Запускает executor в отдельной горутине
//
// Если параметры не прошли валидацию, run всё равно записывается
// (failed, все tasks skipped), и вместе с *domain.ValidationError
// возвращается его ID.
func (o *Orchestrator) RunPipeline(ctx context.Context, req RunRequest) (int64, error) {
	if o.IsStopped() {
		return 0, ErrOrchestratorStopped
	}

	// 1. Pipeline и trigger
	p, err := o.catalog.Get(req.PipelineID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrPipelineNotFound, req.PipelineID)
		}
		return 0, err
	}

	raw := make(map[string]any, len(req.Params))
	if req.TriggerID != nil {
		t, ok := p.Trigger(*req.TriggerID)
		if !ok {
			return 0, fmt.Errorf("%w: %s/%s", ErrTriggerNotFound, p.ID, *req.TriggerID)
		}
		// 2. Параметры trigger — значения по умолчанию
		for k, v := range t.Params {
			raw[k] = v
		}
	}
	for k, v := range req.Params {
		raw[k] = v
	}

	// 3. Валидация
	params, verr := p.Params.Validate(raw)
	if verr != nil {
		params = domain.Params(raw)
	}

	// 4. Run
	run, err := o.store.CreateRun(ctx, store.NewRun{
		PipelineID: p.ID,
		TriggerID:  req.TriggerID,
		Params:     params,
		TaskIDs:    p.TaskIDs(),
		CreatedAt:  o.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	logger := telemetry.WithPipelineID(telemetry.WithRunID(o.logger, run.ID), p.ID)
	if req.TriggerID != nil {
		logger = logger.With("trigger_id", *req.TriggerID)
	}

	// Run живёт дольше запроса: отмена ctx не прерывает выполнение.
	runCtx := context.WithoutCancel(ctx)

	if verr != nil {
		o.executor.Reject(runCtx, run, verr.Error())
		logger.Info("run rejected: invalid params", "error", verr)
		return run.ID, verr
	}

	// 5. Запуск
	o.addActiveRun(run.ID, p.ID)
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		defer o.removeActiveRun(run.ID)
		o.executor.Execute(runCtx, p, run)
	}()

	logger.Info("run launched")
	return run.ID, nil
}

// Launch запускает run по trigger. Вызывается scheduler.
func (o *Orchestrator) Launch(ctx context.Context, pipelineID, triggerID string) (int64, error) {
	return o.RunPipeline(ctx, RunRequest{
		PipelineID: pipelineID,
		TriggerID:  &triggerID,
	})
}

// IsNotFound проверяет, относится ли ошибка к отсутствующему pipeline или trigger.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) || errors.Is(err, ErrTriggerNotFound)
}
