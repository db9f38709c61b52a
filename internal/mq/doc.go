// Package mq предоставляет интеграцию Conveyor с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация запросов на запуск и live-событий
//   - consumer.go   — потребление сообщений из очередей
//   - relay.go      — пересылка событий Hub в conveyor.events
//
// Типы сообщений:
//   - run.requested — внешний запрос на запуск pipeline
//   - run.event     — live-событие run (run_update, task_log, task_result)
//
// Exchanges:
//   - conveyor.runs   — запросы на запуск
//   - conveyor.events — live-события (topic: <event_type>.<pipeline_id>)
//   - conveyor.dlq    — dead letter queue
//
// RabbitMQ опционален: без RABBITMQ_URL сервер работает только с HTTP API.
package mq
