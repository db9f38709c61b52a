// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики runs, tasks, triggers и live-наблюдателей
//
// Сервер экспортирует метрики на /metrics endpoint.
package telemetry
