package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ParamType — тип параметра pipeline.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamObject ParamType = "object"
	ParamArray  ParamType = "array"
)

// ParamField — описание одного параметра.
type ParamField struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ParamSchema — схема входных параметров pipeline.
//
// Validate вызывается перед запуском run: неизвестные поля, отсутствующие
// обязательные и значения неверного типа дают ValidationError.
type ParamSchema struct {
	Fields []ParamField `json:"fields"`
}

// Field возвращает описание поля по имени.
func (s *ParamSchema) Field(name string) (ParamField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ParamField{}, false
}

// Check проверяет саму схему: имена, типы и значения по умолчанию.
func (s *ParamSchema) Check() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("param with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate param %q", f.Name)
		}
		seen[f.Name] = true

		if !f.Type.valid() {
			return fmt.Errorf("param %q: unknown type %q", f.Name, f.Type)
		}
		if f.Default != nil {
			if _, err := coerce(f.Type, f.Default); err != nil {
				return fmt.Errorf("param %q: default: %w", f.Name, err)
			}
		}
	}
	return nil
}

// Validate проверяет сырые параметры и возвращает эффективные.
//
// Nil-схема принимает любые параметры без изменений.
// Значения приводятся к типу поля: строки "42" и "true" допустимы
// для int и bool, чтобы параметры можно было передавать из CLI.
func (s *ParamSchema) Validate(raw map[string]any) (Params, error) {
	out := make(Params, len(raw))
	if s == nil {
		for k, v := range raw {
			out[k] = v
		}
		return out, nil
	}

	verr := &ValidationError{}

	// 1. Неизвестные поля
	unknown := make([]string, 0)
	for k := range raw {
		if _, ok := s.Field(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		verr.add(k, "unknown parameter")
	}

	// 2. Поля схемы в порядке объявления
	for _, f := range s.Fields {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			switch {
			case f.Default != nil:
				v, _ = coerce(f.Type, f.Default)
				out[f.Name] = v
			case f.Required:
				verr.add(f.Name, "required parameter is missing")
			}
			continue
		}

		cv, err := coerce(f.Type, v)
		if err != nil {
			verr.add(f.Name, err.Error())
			continue
		}
		out[f.Name] = cv
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return out, nil
}

func (t ParamType) valid() bool {
	switch t {
	case ParamString, ParamInt, ParamNumber, ParamBool, ParamObject, ParamArray:
		return true
	default:
		return false
	}
}

// --- Helpers ---

// coerce приводит значение к типу параметра.
func coerce(t ParamType, v any) (any, error) {
	switch t {
	case ParamString:
		if s, ok := v.(string); ok {
			return s, nil
		}

	case ParamInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return intFromFloat(n, v)
		case json.Number:
			i, err := n.Int64()
			if err == nil {
				return i, nil
			}
			if errors.Is(err, strconv.ErrRange) {
				return nil, errOutOfRange(v)
			}
			if f, ferr := n.Float64(); ferr == nil {
				return intFromFloat(f, v)
			}
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err == nil {
				return i, nil
			}
			if errors.Is(err, strconv.ErrRange) {
				return nil, errOutOfRange(v)
			}
		}

	case ParamNumber:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, nil
			}
		}

	case ParamBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if pb, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return pb, nil
			}
		}

	case ParamObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}

	case ParamArray:
		if a, ok := v.([]any); ok {
			return a, nil
		}
	}

	return nil, fmt.Errorf("expected %s, got %T", t, v)
}

// intFromFloat приводит целое float64 к int64. Значения вне диапазона
// int64 (включая ±Inf) отклоняются, дробные дают ошибку типа.
func intFromFloat(f float64, v any) (any, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("expected %s, got %T", ParamInt, v)
	}
	// float64(math.MaxInt64) округляется до 2^63, поэтому граница строгая
	if f < -(1<<63) || f >= 1<<63 {
		return nil, errOutOfRange(v)
	}
	return int64(f), nil
}

func errOutOfRange(v any) error {
	return fmt.Errorf("value %v out of range for %s", v, ParamInt)
}
