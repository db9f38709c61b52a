package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Значения по умолчанию.
const (
	defaultAPIPort       = "8080"
	defaultPipelinesFile = "pipelines.yaml"
	defaultSchedulerTick = time.Second
	defaultHubBuffer     = 64
	defaultShutdown      = 10 * time.Second
)

// Config — настройки conveyor-server.
type Config struct {
	// APIPort — порт HTTP API (API_PORT).
	APIPort string

	// DBURL — DSN PostgreSQL (DB_URL). Пустой — store в памяти.
	DBURL string

	// RabbitMQURL — URL брокера (RABBITMQ_URL). Пустой — без брокера.
	RabbitMQURL string

	// PipelinesFile — путь к YAML-каталогу (PIPELINES_FILE).
	PipelinesFile string

	// SchedulerTick — период проверки triggers (SCHEDULER_TICK).
	SchedulerTick time.Duration

	// HubBuffer — размер очереди наблюдателя (HUB_BUFFER).
	HubBuffer int

	// ShutdownTimeout — сколько ждать завершения runs при остановке (SHUTDOWN_TIMEOUT).
	ShutdownTimeout time.Duration

	// LogLevel (LOG_LEVEL) и LogFormat (LOG_FORMAT) — настройки telemetry.NewLogger.
	LogLevel  string
	LogFormat string
}

// Addr возвращает адрес для http.Server.
func (c *Config) Addr() string {
	return ":" + c.APIPort
}

// Load читает .env (если есть) и переменные окружения.
//
// Переменные окружения процесса имеют приоритет над .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	return FromEnv(os.Getenv)
}

// FromEnv собирает Config из функции чтения переменных.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		APIPort:         stringOr(getenv("API_PORT"), defaultAPIPort),
		DBURL:           getenv("DB_URL"),
		RabbitMQURL:     getenv("RABBITMQ_URL"),
		PipelinesFile:   stringOr(getenv("PIPELINES_FILE"), defaultPipelinesFile),
		SchedulerTick:   defaultSchedulerTick,
		HubBuffer:       defaultHubBuffer,
		ShutdownTimeout: defaultShutdown,
		LogLevel:        stringOr(getenv("LOG_LEVEL"), "INFO"),
		LogFormat:       stringOr(getenv("LOG_FORMAT"), "json"),
	}

	var err error

	if v := getenv("SCHEDULER_TICK"); v != "" {
		if cfg.SchedulerTick, err = positiveDuration("SCHEDULER_TICK", v); err != nil {
			return nil, err
		}
	}

	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if cfg.ShutdownTimeout, err = positiveDuration("SHUTDOWN_TIMEOUT", v); err != nil {
			return nil, err
		}
	}

	if v := getenv("HUB_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("HUB_BUFFER: expected positive integer, got %q", v)
		}
		cfg.HubBuffer = n
	}

	if _, err := strconv.Atoi(cfg.APIPort); err != nil {
		return nil, fmt.Errorf("API_PORT: expected port number, got %q", cfg.APIPort)
	}

	return cfg, nil
}

// --- Helpers ---

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func positiveDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: expected positive duration, got %q", name, v)
	}
	return d, nil
}
