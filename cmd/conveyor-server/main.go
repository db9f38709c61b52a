// Conveyor Server — оркестратор pipelines в одном процессе.
//
// Server:
//   - Загружает pipelines из YAML-каталога в registry
//   - Запускает scheduler, который срабатывает triggers по расписанию
//   - Выполняет runs и хранит их в памяти или PostgreSQL
//   - Отдаёт HTTP API, live-события (SSE), /healthz и /metrics
//   - При наличии RabbitMQ пересылает события в conveyor.events
//     и принимает запросы на запуск из runs.requested
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/catalog"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/hub"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/tasks"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

var startTime = time.Now()

func main() {
	if err := run(); err != nil {
		slog.Error("conveyor-server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Инициализируем structured logging
	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logger.Info("starting conveyor-server", "addr", cfg.Addr())

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// 1. Pipelines
	reg := registry.Init()
	kinds := tasks.DefaultRegistry()
	kinds.SetEnv(environ())

	n, err := catalog.LoadInto(reg, cfg.PipelinesFile, kinds)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("pipelines file not found", "path", cfg.PipelinesFile)
	default:
		// Ошибка одного pipeline не мешает остальным
		for _, perr := range catalog.Errors(err) {
			logger.Error("pipeline rejected", "path", cfg.PipelinesFile, "error", perr)
		}
		logger.Info("pipelines loaded", "path", cfg.PipelinesFile, "count", n)
	}
	reg.Seal()

	// 2. Run Store
	runStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Hub и executor
	events := hub.New(hub.Config{
		Buffer:  cfg.HubBuffer,
		Logger:  logger,
		Metrics: metrics,
	})
	defer events.Close()

	exec := executor.New(executor.Config{
		Store:     runStore,
		Publisher: events,
		Logger:    logger,
		Metrics:   metrics,
	})

	// 4. RabbitMQ (опционально)
	var mqConn *mq.Connection
	if cfg.RabbitMQURL != "" {
		mqConn, err = mq.Dial(ctx, cfg.RabbitMQURL, logger, 5)
		if err != nil {
			logger.Warn("RabbitMQ not available, running without broker", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			relay := mq.NewRelay(mq.RelayConfig{
				Hub:       events,
				Publisher: mq.NewPublisher(mqConn, logger),
				Logger:    logger,
				Metrics:   metrics,
			})
			go relay.Run(ctx)
		}
	}

	// 5. Orchestrator и scheduler
	orch := orchestrator.New(orchestrator.Config{
		Catalog:  reg,
		Store:    runStore,
		Executor: exec,
		Conn:     mqConn,
		Logger:   logger,
	})

	sched := scheduler.New(scheduler.Config{
		Source:       reg,
		Launcher:     orch,
		Logger:       logger,
		Metrics:      metrics,
		TickInterval: cfg.SchedulerTick,
	})
	orch.SetNextFirer(sched)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	sched.Start(ctx)

	// 6. HTTP
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	api.NewHandler(api.Config{
		Orchestrator: orch,
		Store:        runStore,
		Hub:          events,
		Logger:       logger,
	}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Ожидаем сигнал завершения
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}
	logger.Info("shutting down")

	// Сначала перестаём принимать новые runs, затем ждём текущие
	sched.Stop()
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still active at shutdown", "active", orch.ActiveRunsCount(), "error", err)
	}

	// Live-потоки закрываются вместе с hub, иначе server.Shutdown их ждёт
	events.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
	return nil
}

// openStore выбирает Run Store: PostgreSQL при DB_URL, иначе память.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.RunStore, func(), error) {
	if cfg.DBURL == "" {
		logger.Info("using in-memory run store")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := repo.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("connected to database")
	return repo.NewRunRepo(pool), pool.Close, nil
}

// environ возвращает переменные окружения для шаблонов {{ .Env.NAME }}.
func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
