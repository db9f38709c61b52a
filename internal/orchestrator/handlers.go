package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// handleRunRequested обрабатывает запрос на запуск из очереди runs.requested.
//
// Неизвестный pipeline/trigger и невалидные параметры — ошибки запроса:
// сообщение уходит в DLQ, повтор ничего не изменит.
func (o *Orchestrator) handleRunRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.requested payload", "error", err)
		return mq.Permanent(err)
	}

	req := RunRequest{
		PipelineID: payload.PipelineID,
		Params:     payload.Params,
	}
	if payload.TriggerID != "" {
		req.TriggerID = &payload.TriggerID
	}

	runID, err := o.RunPipeline(ctx, req)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case IsNotFound(err):
			o.logger.Info("run request rejected", "pipeline_id", payload.PipelineID, "reason", err)
			return mq.Permanent(err)
		case errors.As(err, &verr):
			// Run уже записан как failed
			o.logger.Info("run request rejected", "run_id", runID, "reason", err)
			return nil
		default:
			return err
		}
	}

	o.logger.Debug("run requested via queue",
		"message_id", delivery.Message.ID,
		"run_id", runID,
	)
	return nil
}
