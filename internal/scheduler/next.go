package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrManual — у manual-trigger нет времени следующего запуска.
var ErrManual = errors.New("manual trigger has no fire time")

// NextFireTime вычисляет первый момент срабатывания schedule строго после after.
//
// Одно и то же правило используется и для запуска, и для отображения
// next_fire_time. anchor — якорь интервала, если у schedule нет StartDate
// (обычно время старта scheduler).
//
// Для manual возвращает ErrManual.
func NextFireTime(s domain.Schedule, anchor, after time.Time) (time.Time, error) {
	loc, err := location(s.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	switch s.Kind {
	case domain.ScheduleCron:
		return nextCron(s.Cron, loc, s.StartDate, after)

	case domain.ScheduleInterval:
		if err := checkInterval(s.Interval); err != nil {
			return time.Time{}, err
		}
		if s.StartDate != nil {
			anchor = *s.StartDate
		}
		return nextInterval(s.Interval, anchor.In(loc), after), nil

	case domain.ScheduleManual, "":
		return time.Time{}, ErrManual

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Validate проверяет schedule при регистрации trigger.
//
// Пустой timezone означает UTC, неизвестный — ошибка.
func Validate(s domain.Schedule) error {
	if _, err := location(s.Timezone); err != nil {
		return err
	}

	switch s.Kind {
	case domain.ScheduleManual, "":
		return nil

	case domain.ScheduleInterval:
		return checkInterval(s.Interval)

	case domain.ScheduleCron:
		if s.Cron == "" {
			return fmt.Errorf("cron expression is empty")
		}
		return ValidateCronExpr(s.Cron)

	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// checkInterval отклоняет пустые, отрицательные и слишком длинные интервалы.
func checkInterval(iv domain.Interval) error {
	if err := iv.Check(); err != nil {
		return err
	}
	if iv.IsZero() {
		return fmt.Errorf("interval is zero")
	}
	return nil
}

// nextInterval возвращает anchor + k*interval для минимального k >= 0,
// при котором результат строго позже after.
//
// Дни прибавляются через AddDate в часовом поясе anchor: "каждый день
// в 22:30" остаётся 22:30 по местному времени после перехода на летнее
// время. Часы, минуты и секунды прибавляются как абсолютная длительность.
//
// Интервал должен пройти checkInterval.
func nextInterval(iv domain.Interval, anchor, after time.Time) time.Time {
	if anchor.After(after) {
		return anchor
	}

	// 1. Оценка k в секундах: time.Duration насыщается на ~292 годах,
	// а anchor может быть сколь угодно давним
	k := (after.Unix() - anchor.Unix()) / iv.TotalSeconds()

	// 2. Уточнение: DST сдвигает реальные дни на час в обе стороны
	for k > 0 && intervalAt(iv, anchor, k-1).After(after) {
		k--
	}
	for !intervalAt(iv, anchor, k).After(after) {
		k++
	}

	return intervalAt(iv, anchor, k)
}

// intervalAt возвращает anchor + k*interval. Часть без дней прибавляется
// в секундах Unix, чтобы k*interval не переполнял time.Duration.
func intervalAt(iv domain.Interval, anchor time.Time, k int64) time.Time {
	t := anchor.AddDate(0, 0, int(k)*iv.Days)
	return time.Unix(t.Unix()+k*iv.ClockSeconds(), int64(t.Nanosecond())).In(t.Location())
}

// location загружает часовой пояс. Пустая строка означает UTC.
func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
