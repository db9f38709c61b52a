package tasks

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	// KindTransform — тип task трансформации данных.
	KindTransform = "transform"

	configMappings = "mappings"
)

// TransformKind строит новый объект из шаблонов.
//
// Каждый mapping рендерится против {{ .Params }} и {{ .Input }};
// результат, похожий на JSON, разбирается обратно в значение.
//
// Конфигурация:
//
//	mappings:
//	  total: "{{ len .Input.items }}"
//	  region: "{{ .Params.region }}"
//
// Результат:
//
//	{"total": 10, "region": "eu"}
type TransformKind struct{}

// NewTransformKind создаёт новый TransformKind.
func NewTransformKind() *TransformKind {
	return &TransformKind{}
}

// Name возвращает имя типа.
func (k *TransformKind) Name() string {
	return KindTransform
}

// Validate проверяет, что mappings — объект строк.
func (k *TransformKind) Validate(config map[string]any) error {
	raw, ok := config[configMappings]
	if !ok {
		return fmt.Errorf("%w: %s: mappings required", ErrInvalidConfig, KindTransform)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s: mappings must be an object", ErrInvalidConfig, KindTransform)
	}
	for key, val := range m {
		if _, ok := val.(string); !ok {
			return fmt.Errorf("%w: %s: mapping %q must be a string", ErrInvalidConfig, KindTransform, key)
		}
	}
	return nil
}

// Run возвращает отрендеренные mappings.
//
// Config уже отрендерен, поэтому здесь остаётся только разбор значений.
func (k *TransformKind) Run(ctx context.Context, req *Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	mappings, _ := req.Config[configMappings].(map[string]any)

	outputs := make(map[string]any, len(mappings))
	for key, val := range mappings {
		s, _ := val.(string)
		outputs[key] = parseValue(s)
	}

	return outputs, nil
}

// parseValue пытается распарсить строку как JSON.
// Если не получается — возвращает строку как есть.
func parseValue(value string) any {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return value
	}

	// Целые числа без дробной части — int64
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}
