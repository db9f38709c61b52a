package tasks

import (
	"context"
	"fmt"
	"time"
)

const (
	// KindDelay — тип task задержки.
	KindDelay = "delay"

	// Ключи конфигурации delay.
	configDuration   = "duration"
	configDurationMs = "duration_ms"
)

// DelayKind — task задержки.
//
// Приостанавливает выполнение на указанное время и передаёт Input дальше.
//
// Конфигурация:
//
//	duration: 10s      # строка time.ParseDuration или число секунд
//	# или
//	duration_ms: 5000
type DelayKind struct{}

// NewDelayKind создаёт новый DelayKind.
func NewDelayKind() *DelayKind {
	return &DelayKind{}
}

// Name возвращает имя типа.
func (k *DelayKind) Name() string {
	return KindDelay
}

// Validate проверяет, что длительность задана.
func (k *DelayKind) Validate(config map[string]any) error {
	if IsTemplate(config[configDuration]) {
		return nil
	}
	_, err := k.parseDuration(config)
	return err
}

// Run выполняет задержку.
func (k *DelayKind) Run(ctx context.Context, req *Request) (any, error) {
	duration, err := k.parseDuration(req.Config)
	if err != nil {
		return nil, err
	}

	if req.Logger != nil {
		req.Logger.Info("sleeping", "duration", duration)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-timer.C:
		return req.Data.Input, nil
	}
}

// parseDuration извлекает длительность из конфигурации.
func (k *DelayKind) parseDuration(config map[string]any) (time.Duration, error) {
	d, err := GetConfigDuration(config, configDuration)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %s: %v", ErrInvalidConfig, KindDelay, configDuration, err)
	}
	if d > 0 {
		return d, nil
	}

	if ms := GetConfigInt(config, configDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return 0, fmt.Errorf("%w: %s: duration or duration_ms required", ErrInvalidConfig, KindDelay)
}
