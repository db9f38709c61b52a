package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrPipelineNotFound — pipeline не зарегистрирован.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrTriggerNotFound — у pipeline нет trigger с таким ID.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrOrchestratorStopped — оркестратор остановлен, новые runs не принимаются.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
