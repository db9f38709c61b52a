package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/tasks"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog — файл каталога не удалось разобрать.
var ErrInvalidCatalog = errors.New("invalid pipeline catalog")

// File — корень YAML-каталога.
type File struct {
	Pipelines []PipelineDef `yaml:"pipelines"`
}

// PipelineDef — описание pipeline в каталоге.
type PipelineDef struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Params      []ParamDef   `yaml:"params"`
	Tasks       []TaskDef    `yaml:"tasks"`
	Triggers    []TriggerDef `yaml:"triggers"`
}

// ParamDef — описание параметра.
type ParamDef struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// TaskDef — описание task: встроенный тип и его конфигурация.
type TaskDef struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Kind        string         `yaml:"kind"`
	Timeout     string         `yaml:"timeout"`
	Config      map[string]any `yaml:"config"`
}

// TriggerDef — описание trigger.
type TriggerDef struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schedule    ScheduleDef    `yaml:"schedule"`
	Params      map[string]any `yaml:"params"`
}

// ScheduleDef — расписание trigger.
//
// start_date без смещения интерпретируется в timezone расписания.
type ScheduleDef struct {
	Kind      string          `yaml:"kind"`
	Interval  domain.Interval `yaml:"interval"`
	Cron      string          `yaml:"cron"`
	Timezone  string          `yaml:"timezone"`
	StartDate string          `yaml:"start_date"`
}

// startDateLayouts — допустимые форматы start_date.
var startDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Load читает каталог из файла.
func Load(path string, kinds *tasks.Registry) ([]*domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	pipelines, err := Parse(data, kinds)
	if err != nil {
		errs := Errors(err)
		for i, e := range errs {
			errs[i] = fmt.Errorf("%s: %w", path, e)
		}
		return pipelines, errors.Join(errs...)
	}
	return pipelines, nil
}

// Parse разбирает YAML-каталог и собирает pipelines.
//
// Неизвестные ключи YAML — ошибка всего файла: опечатка в "timezone"
// не должна молча давать UTC. Ошибка сборки одного pipeline не мешает
// остальным: Parse возвращает собранные pipelines и errors.Join
// ошибок по каждому неудачному.
func Parse(data []byte, kinds *tasks.Registry) ([]*domain.Pipeline, error) {
	var file File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	pipelines := make([]*domain.Pipeline, 0, len(file.Pipelines))
	var errs []error
	for _, def := range file.Pipelines {
		p, err := build(def, kinds)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: pipeline %q: %v", ErrInvalidCatalog, def.ID, err))
			continue
		}
		pipelines = append(pipelines, p)
	}

	return pipelines, errors.Join(errs...)
}

// Register регистрирует pipelines в реестре.
//
// Ошибка регистрации касается только своего pipeline: остальные
// регистрируются. Возвращает количество зарегистрированных и
// errors.Join ошибок.
func Register(reg *registry.Registry, pipelines []*domain.Pipeline) (int, error) {
	n := 0
	var errs []error
	for _, p := range pipelines {
		if err := reg.Register(p); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// LoadInto читает каталог и регистрирует его pipelines.
//
// Возвращает количество реально зарегистрированных pipelines. Ошибки
// отдельных pipelines (сборка и регистрация) объединяются в одну;
// Errors раскладывает её обратно. Ошибка чтения или разбора файла
// целиком возвращается с нулём.
func LoadInto(reg *registry.Registry, path string, kinds *tasks.Registry) (int, error) {
	pipelines, loadErr := Load(path, kinds)
	if loadErr != nil && len(pipelines) == 0 {
		return 0, loadErr
	}

	n, regErr := Register(reg, pipelines)
	return n, errors.Join(loadErr, regErr)
}

// Errors раскладывает ошибку LoadInto или Register на ошибки
// отдельных pipelines.
func Errors(err error) []error {
	if err == nil {
		return nil
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}

	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, Errors(e)...)
	}
	return out
}

// --- Helpers ---

func build(def PipelineDef, kinds *tasks.Registry) (*domain.Pipeline, error) {
	p := &domain.Pipeline{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Tasks:       make([]domain.Task, 0, len(def.Tasks)),
		Triggers:    make([]domain.Trigger, 0, len(def.Triggers)),
	}

	// 1. Схема параметров
	if len(def.Params) > 0 {
		p.Params = &domain.ParamSchema{Fields: make([]domain.ParamField, 0, len(def.Params))}
		for _, pd := range def.Params {
			p.Params.Fields = append(p.Params.Fields, domain.ParamField{
				Name:        pd.Name,
				Type:        domain.ParamType(pd.Type),
				Required:    pd.Required,
				Default:     pd.Default,
				Description: pd.Description,
			})
		}
	}

	// 2. Tasks
	for _, td := range def.Tasks {
		task, err := buildTask(td, kinds)
		if err != nil {
			return nil, err
		}
		p.Tasks = append(p.Tasks, task)
	}

	// 3. Triggers
	for _, trd := range def.Triggers {
		schedule, err := buildSchedule(trd.Schedule)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", trd.ID, err)
		}
		p.Triggers = append(p.Triggers, domain.Trigger{
			ID:          trd.ID,
			Name:        trd.Name,
			Description: trd.Description,
			Schedule:    schedule,
			Params:      trd.Params,
		})
	}

	return p, nil
}

func buildTask(td TaskDef, kinds *tasks.Registry) (domain.Task, error) {
	var timeout time.Duration
	if td.Timeout != "" {
		d, err := time.ParseDuration(td.Timeout)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %q: timeout: %v", td.ID, err)
		}
		timeout = d
	}

	if td.Kind == "" {
		return domain.Task{}, fmt.Errorf("task %q: kind is required", td.ID)
	}

	run, err := kinds.Build(td.ID, td.Kind, td.Config, timeout)
	if err != nil {
		return domain.Task{}, err
	}

	return domain.Task{
		ID:          td.ID,
		Name:        td.Name,
		Description: td.Description,
		Timeout:     timeout,
		Run:         run,
	}, nil
}

func buildSchedule(sd ScheduleDef) (domain.Schedule, error) {
	s := domain.Schedule{
		Kind:     domain.ScheduleKind(sd.Kind),
		Interval: sd.Interval,
		Cron:     sd.Cron,
		Timezone: sd.Timezone,
	}
	if s.Kind == "" {
		s.Kind = domain.ScheduleManual
	}

	if sd.StartDate != "" {
		loc := time.UTC
		if sd.Timezone != "" {
			l, err := time.LoadLocation(sd.Timezone)
			if err != nil {
				return s, fmt.Errorf("timezone %q: %v", sd.Timezone, err)
			}
			loc = l
		}

		start, err := parseStartDate(sd.StartDate, loc)
		if err != nil {
			return s, err
		}
		s.StartDate = &start
	}

	return s, nil
}

func parseStartDate(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range startDateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("start_date %q: unsupported format", value)
}
