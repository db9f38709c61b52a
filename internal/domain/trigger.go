package domain

import (
	"fmt"
	"math"
	"time"
)

// Trigger — правило автоматического (или ручного) запуска pipeline.
//
// Trigger позволяет запускать pipeline:
// - По интервалу: каждые N дней/часов/минут/секунд
// - По cron-выражению: "30 22 * * *"
// - Только вручную (kind = manual)
//
// Время следующего запуска не хранится в trigger: его всегда
// вычисляет scheduler.
type Trigger struct {
	// ID — идентификатор trigger, уникальный внутри pipeline.
	ID string `json:"id"`

	// Name — отображаемое имя.
	Name string `json:"name,omitempty"`

	// Description — описание для оператора.
	Description string `json:"description,omitempty"`

	// Schedule — расписание.
	Schedule Schedule `json:"schedule"`

	// Params — параметры по умолчанию для runs этого trigger.
	Params map[string]any `json:"params,omitempty"`
}

// ScheduleKind — тип расписания.
type ScheduleKind string

const (
	// ScheduleManual — trigger запускается только вручную.
	ScheduleManual ScheduleKind = "manual"

	// ScheduleInterval — повторение с фиксированным календарным интервалом.
	ScheduleInterval ScheduleKind = "interval"

	// ScheduleCron — cron-выражение (5 полей или дескриптор "@daily").
	ScheduleCron ScheduleKind = "cron"
)

// Schedule — описание расписания trigger.
type Schedule struct {
	// Kind — тип расписания.
	Kind ScheduleKind `json:"kind"`

	// Interval — интервал для kind = interval.
	Interval Interval `json:"interval,omitempty"`

	// Cron — cron-выражение для kind = cron.
	// Формат: "минуты часы дни месяцы дни_недели"
	Cron string `json:"cron,omitempty"`

	// Timezone — часовой пояс, в котором интерпретируется расписание.
	// Пустое значение означает UTC.
	Timezone string `json:"timezone,omitempty"`

	// StartDate — якорь интервала и нижняя граница для cron.
	StartDate *time.Time `json:"start_date,omitempty"`
}

// IsManual возвращает true, если trigger не планируется автоматически.
func (s Schedule) IsManual() bool {
	return s.Kind == ScheduleManual || s.Kind == ""
}

// Interval — календарный интервал.
//
// Дни прибавляются по календарю часового пояса, поэтому "1 день"
// сохраняет время суток при переходе на летнее время.
type Interval struct {
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty"`
}

// MaxIntervalSeconds — наибольшая длина интервала, представимая как time.Duration.
const MaxIntervalSeconds = int64(math.MaxInt64 / int64(time.Second))

// Check проверяет, что компоненты интервала неотрицательны и вся длина
// помещается в time.Duration (около 292 лет).
func (i Interval) Check() error {
	parts := []struct {
		name  string
		value int
		unit  int64
	}{
		{"days", i.Days, 24 * 3600},
		{"hours", i.Hours, 3600},
		{"minutes", i.Minutes, 60},
		{"seconds", i.Seconds, 1},
	}

	var total int64
	for _, p := range parts {
		if p.value < 0 {
			return fmt.Errorf("interval %s must not be negative", p.name)
		}
		if int64(p.value) > MaxIntervalSeconds/p.unit {
			return fmt.Errorf("interval %s %d out of range", p.name, p.value)
		}
		total += int64(p.value) * p.unit
	}

	if total > MaxIntervalSeconds {
		return fmt.Errorf("interval of %d seconds out of range", total)
	}
	return nil
}

// ClockSeconds возвращает часть интервала без дней в секундах.
// Значение корректно только для интервала, прошедшего Check.
func (i Interval) ClockSeconds() int64 {
	return int64(i.Hours)*3600 + int64(i.Minutes)*60 + int64(i.Seconds)
}

// TotalSeconds возвращает приблизительную длину интервала (день = 24 часа).
// Значение корректно только для интервала, прошедшего Check.
func (i Interval) TotalSeconds() int64 {
	return int64(i.Days)*24*3600 + i.ClockSeconds()
}

// Clock возвращает часть интервала, не зависящую от календаря.
func (i Interval) Clock() time.Duration {
	return time.Duration(i.ClockSeconds()) * time.Second
}

// IsZero возвращает true для пустого интервала.
func (i Interval) IsZero() bool {
	return i.Days == 0 && i.Hours == 0 && i.Minutes == 0 && i.Seconds == 0
}

