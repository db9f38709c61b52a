// Package orchestrator связывает registry, store и executor.
//
// Структура:
//   - orchestrator.go — жизненный цикл, учёт активных runs
//   - run.go          — RunPipeline и Launch (scheduler.Launcher)
//   - views.go        — описания pipelines с next_fire_time
//   - handlers.go     — обработчик очереди runs.requested
//   - errors.go       — ошибки оркестратора
//
// Каждый run выполняется в своей горутине с контекстом, не зависящим
// от запроса. Runs не координируются между собой.
package orchestrator
