package tasks

import (
	"context"
	"fmt"
)

const (
	// KindEcho — тип task, возвращающий значение из конфигурации.
	KindEcho = "echo"

	configMessage = "message"
	configValue   = "value"
)

// EchoKind записывает сообщение в лог task и возвращает value.
//
// Без value возвращает Input, то есть пропускает данные дальше.
//
// Конфигурация:
//
//	message: "processing {{ .Params.region }}"
//	value:
//	  region: "{{ .Params.region }}"
//	  rows: 3
type EchoKind struct{}

// NewEchoKind создаёт новый EchoKind.
func NewEchoKind() *EchoKind {
	return &EchoKind{}
}

// Name возвращает имя типа.
func (k *EchoKind) Name() string {
	return KindEcho
}

// Validate проверяет тип message.
func (k *EchoKind) Validate(config map[string]any) error {
	if v, ok := config[configMessage]; ok {
		if _, isString := v.(string); !isString {
			return fmt.Errorf("%w: %s: message must be a string", ErrInvalidConfig, KindEcho)
		}
	}
	return nil
}

// Run логирует message и возвращает value.
func (k *EchoKind) Run(ctx context.Context, req *Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	if msg := GetConfigString(req.Config, configMessage); msg != "" && req.Logger != nil {
		req.Logger.Info(msg)
	}

	if v, ok := req.Config[configValue]; ok {
		return v, nil
	}
	return req.Data.Input, nil
}
