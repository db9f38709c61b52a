// Package scheduler вычисляет время срабатывания triggers и запускает runs.
//
// Scheduler держит таблицу jobs (pipeline, trigger) → next_fire_time и
// раз в тик запускает те, у которых наступило время. Пропущенные моменты
// (процесс стоял, тик опоздал) не догоняются: следующий момент всегда
// первый строго после текущего времени.
//
// Структура:
//   - scheduler.go — цикл Scheduler (Start, Stop, Tick, NextFire)
//   - next.go      — NextFireTime и Validate для interval и cron
//   - cron.go      — парсинг cron-выражений
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Source:   registry,
//	    Launcher: orchestrator,
//	    Logger:   logger,
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
package scheduler
