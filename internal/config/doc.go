// Package config читает настройки conveyor-server из окружения.
//
// Переменные:
//   - API_PORT         — порт HTTP API (8080)
//   - DB_URL           — PostgreSQL DSN; пустой — runs хранятся в памяти
//   - RABBITMQ_URL     — URL RabbitMQ; пустой — без брокера
//   - PIPELINES_FILE   — YAML-каталог pipelines (pipelines.yaml)
//   - SCHEDULER_TICK   — период проверки triggers (1s)
//   - HUB_BUFFER       — очередь live-событий на наблюдателя (64)
//   - SHUTDOWN_TIMEOUT — ожидание runs при остановке (10s)
//   - LOG_LEVEL, LOG_FORMAT — см. telemetry.SetupLogger
//
// Файл .env в рабочей директории подхватывается, если существует.
package config
