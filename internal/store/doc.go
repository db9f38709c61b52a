// Package store описывает хранилище истории runs.
//
// RunStore хранит runs, task runs, логи и артефакты tasks.
// Реализации:
//   - Memory (memory.go) — в памяти процесса
//   - repo.RunRepo — PostgreSQL (пакет internal/repo)
//
// Общие проверки реализаций лежат в storetest.
package store
