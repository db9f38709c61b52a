// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI — клиентская утилита для Conveyor API. Работает через HTTP,
// не импортирует внутренние пакеты системы. Позволяет смотреть
// pipelines и runs, запускать pipelines и triggers, читать логи
// и результаты tasks, следить за событиями в реальном времени.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует HTTP-запросы, парсинг
// ответов (DataResponse, ListResponse, ErrorResponse) и разбор потока
// Server-Sent Events. Ошибки API возвращаются как *APIError с ошибками
// по полям для невалидных параметров.
//
//	client := cli.NewClient("http://localhost:8080")
//	pipelines, err := client.ListPipelines()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor run logs 42 | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - pipeline: list, show, schema
//   - run: list, start, show, logs, data
//   - trigger: list, run
//   - watch: live-поток событий
//
// Каждая группа создаётся через фабричную функцию (NewPipelineCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
