// Package repo реализует store.RunStore поверх PostgreSQL (pgx).
//
// Структура:
//   - db.go       — пул соединений и применение схемы
//   - schema.sql  — таблицы runs, task_runs, task_logs
//   - run_repo.go — runs (CreateRun, StartRun, FinalizeRun, GetRun, ListRuns)
//   - task_repo.go — task runs, логи и артефакты
package repo
