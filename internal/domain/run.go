package domain

import "time"

// Params — эффективные параметры run.
type Params map[string]any

// Run — одно выполнение pipeline.
//
// Run создаётся когда:
// - Scheduler срабатывает по trigger
// - Оператор запускает pipeline или trigger вручную (API/CLI/RabbitMQ)
//
// Каждый run содержит TaskRun для каждого task pipeline.
type Run struct {
	// ID — монотонно растущий идентификатор run.
	ID int64 `json:"id"`

	// PipelineID — pipeline, который выполняется.
	PipelineID string `json:"pipeline_id"`

	// TriggerID — trigger, создавший run. Nil для ручного запуска без trigger.
	TriggerID *string `json:"trigger_id,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Params — параметры, с которыми запущен run.
	Params Params `json:"params,omitempty"`

	// Error — причина падения run (ошибка валидации или упавший task).
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время начала выполнения. Nil, пока run в pending.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время перехода в терминальный статус.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Tasks — task runs в порядке выполнения.
	Tasks []TaskRun `json:"tasks"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Task возвращает task run по ID task.
func (r *Run) Task(taskID string) (*TaskRun, bool) {
	for i := range r.Tasks {
		if r.Tasks[i].TaskID == taskID {
			return &r.Tasks[i], true
		}
	}
	return nil, false
}

// TaskRun — выполнение одного task внутри run.
type TaskRun struct {
	// TaskID — ID task из pipeline.
	TaskID string `json:"task_id"`

	// Position — порядковый номер task в pipeline (с нуля).
	Position int `json:"position"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// HasArtifact — true, если task вернул данные.
	HasArtifact bool `json:"has_artifact"`

	// Error — детали ошибки для failed.
	Error *ErrorDetail `json:"error,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время завершения.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration возвращает продолжительность выполнения task.
func (t *TaskRun) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// ErrorDetail — описание ошибки task.
type ErrorDetail struct {
	// Message — текст ошибки.
	Message string `json:"message"`

	// Trace — стек или цепочка ошибок.
	Trace string `json:"trace,omitempty"`
}

// LogLevel — уровень записи лога task.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry — одна запись лога run.
//
// Логи run append-only, Seq монотонно растёт внутри run.
type LogEntry struct {
	Seq       int64     `json:"seq"`
	TaskID    string    `json:"task"`
	Level     LogLevel  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
