package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки шаблонов.
var (
	// ErrTemplateParse — синтаксическая ошибка в шаблоне.
	ErrTemplateParse = errors.New("template parse error")

	// ErrTemplateRender — ошибка при выполнении шаблона.
	ErrTemplateRender = errors.New("template render error")
)

// Data — данные для рендеринга шаблонов в конфигурации task.
//
//   - {{ .Params.region }}
//   - {{ .Input.rows }}
//   - {{ .Env.API_TOKEN }}
//   - {{ .RunID }}, {{ .PipelineID }}, {{ .TaskID }}
type Data struct {
	RunID      int64
	PipelineID string
	TaskID     string

	// Params — эффективные параметры run.
	Params map[string]any

	// Input — результат предыдущего task.
	Input any

	// Env — значения окружения, разрешённые для шаблонов.
	Env map[string]string
}

// NewData собирает данные шаблонов из контекста task.
func NewData(tc *domain.TaskContext) *Data {
	params := map[string]any(tc.Params)
	if params == nil {
		params = make(map[string]any)
	}
	return &Data{
		RunID:      tc.RunID,
		PipelineID: tc.PipelineID,
		TaskID:     tc.TaskID,
		Params:     params,
		Input:      tc.Input,
		Env:        make(map[string]string),
	}
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},

	// default — значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			return v
		}
		return nil
	},

	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

func parse(tmpl string) (*template.Template, error) {
	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	return t, nil
}

// Render рендерит строковый шаблон.
func Render(tmpl string, data *Data) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рекурсивно рендерит строки внутри map и slice.
func RenderValue(value any, data *Data) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return Render(v, data)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, data)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, data)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// int, float, bool возвращаем как есть
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию task.
func RenderConfig(config map[string]any, data *Data) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, data)
	if err != nil {
		return nil, err
	}

	return rendered.(map[string]any), nil
}

// CheckConfig проверяет синтаксис всех шаблонов в конфигурации.
func CheckConfig(config map[string]any) error {
	return checkValue(config)
}

func checkValue(value any) error {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return nil
		}
		_, err := parse(v)
		return err
	case map[string]any:
		for key, val := range v {
			if err := checkValue(val); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	case []any:
		for i, val := range v {
			if err := checkValue(val); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// IsTemplate проверяет, содержит ли значение шаблонные выражения.
func IsTemplate(v any) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, "{{")
}
