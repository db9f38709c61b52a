// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (orchestrator, store, hub, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines
//   - run_handler.go      — обработчики для /runs (логи в JSONL, данные tasks)
//   - events_handler.go   — live-события через Server-Sent Events
//
// API — тонкий адаптер: вся логика в orchestrator и store.
package api
