package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	pending → running → completed
//	                  ↘ failed
//
// Run становится терминальным ровно один раз.
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted — все tasks завершились успешно.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed — один из tasks упал или параметры не прошли валидацию.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Valid возвращает true для известных статусов.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения task внутри run.
//
// Жизненный цикл:
//
//	pending → running → completed
//	                  ↘ failed
//	pending → skipped (после падения предыдущего task)
type TaskStatus string

const (
	// TaskStatusPending — task ещё не начал выполняться.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning — task выполняется.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted — task успешно завершён.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed — task завершился с ошибкой или паникой.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped — task не выполнялся, потому что упал предыдущий.
	TaskStatusSkipped TaskStatus = "skipped"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}
