package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Ошибки task kinds.
var (
	// ErrKindNotFound — тип task не найден в реестре.
	ErrKindNotFound = errors.New("task kind not found")

	// ErrInvalidConfig — невалидная конфигурация task.
	ErrInvalidConfig = errors.New("invalid task config")

	// ErrCancelled — выполнение task отменено (таймаут или остановка).
	ErrCancelled = errors.New("task execution cancelled")
)

// Kind — встроенный тип task для каталога pipelines.
//
// Каждый тип (http, delay, echo, transform) реализует этот интерфейс.
type Kind interface {
	// Name возвращает имя типа, как оно пишется в каталоге.
	Name() string

	// Validate проверяет конфигурацию при загрузке каталога.
	// Значения с шаблонами здесь ещё не отрендерены.
	Validate(config map[string]any) error

	// Run выполняет task. Должен проверять ctx.Done().
	Run(ctx context.Context, req *Request) (any, error)
}

// Request — входные данные для выполнения task.
type Request struct {
	// TaskID — идентификатор task.
	TaskID string

	// Config — конфигурация, уже отрендеренная через RenderConfig.
	Config map[string]any

	// Data — данные шаблонов (параметры run, результат прошлого task).
	Data *Data

	// Logger — логгер task run.
	Logger *slog.Logger

	// Timeout — таймаут task из каталога. 0 — без ограничения.
	Timeout time.Duration
}

// --- Helpers ---

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigDuration извлекает длительность: строку "1.5s" или число секунд.
func GetConfigDuration(config map[string]any, key string) (time.Duration, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return 0, nil
	}

	switch d := v.(type) {
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, errors.New("expected duration string or seconds")
	}
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string, len(m))
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
