// Package tasks содержит встроенные типы task для каталога pipelines.
//
// Pipelines, описанные в коде, задают тело task функцией. Pipelines из
// YAML-каталога выбирают один из встроенных типов и передают ему
// конфигурацию.
//
// Структура:
//   - kind.go      — интерфейс Kind, Request, хелперы конфигурации
//   - registry.go  — реестр типов и Build (конфигурация → domain.TaskFunc)
//   - template.go  — Go templates в значениях конфигурации
//   - http.go      — HTTP запрос
//   - delay.go     — задержка
//   - echo.go      — сообщение в лог и фиксированное значение
//   - transform.go — новый объект из шаблонов
//
// # Шаблоны
//
// Перед каждым запуском строки конфигурации рендерятся с данными:
//
//	{{ .Params.region }}   — параметры run
//	{{ .Input.rows }}      — результат предыдущего task
//	{{ .Env.API_TOKEN }}   — разрешённые переменные окружения
//	{{ .RunID }}           — ID run
//
// Синтаксис шаблонов проверяется при Build, поэтому ошибка в каталоге
// обнаруживается при старте сервера.
package tasks
