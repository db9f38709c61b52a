package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus метрики движка.
//
// Все методы безопасны для nil-получателя: компоненты, созданные
// без метрик (например, в тестах), просто ничего не записывают.
type Metrics struct {
	runsStarted    *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	taskDuration   *prometheus.HistogramVec
	triggerFires   *prometheus.CounterVec
	hubDropped     prometheus.Counter
	hubSubscribers prometheus.Gauge
	relayEvents    *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg.
//
// В main передаётся prometheus.DefaultRegisterer, в тестах — prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_runs_started_total",
			Help: "Total runs started",
		}, []string{"pipeline"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_runs_finished_total",
			Help: "Total runs finished by status",
		}, []string{"pipeline", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_run_duration_seconds",
			Help:    "Run duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"pipeline"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_task_duration_seconds",
			Help:    "Task duration by status",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"pipeline", "task", "status"}),
		triggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_trigger_fires_total",
			Help: "Total scheduled trigger fires",
		}, []string{"pipeline", "trigger"}),
		hubDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_hub_dropped_events_total",
			Help: "Live events dropped for slow observers",
		}),
		hubSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conveyor_hub_subscribers",
			Help: "Currently connected live observers",
		}),
		relayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_relay_events_total",
			Help: "Events relayed to RabbitMQ by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runDuration,
		m.taskDuration,
		m.triggerFires,
		m.hubDropped,
		m.hubSubscribers,
		m.relayEvents,
	)

	return m
}

// RunStarted фиксирует старт run.
func (m *Metrics) RunStarted(pipelineID string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(pipelineID).Inc()
}

// RunFinished фиксирует завершение run.
func (m *Metrics) RunFinished(pipelineID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(pipelineID, status).Inc()
	m.runDuration.WithLabelValues(pipelineID).Observe(d.Seconds())
}

// TaskFinished фиксирует длительность task.
func (m *Metrics) TaskFinished(pipelineID, taskID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(pipelineID, taskID, status).Observe(d.Seconds())
}

// TriggerFired фиксирует срабатывание trigger.
func (m *Metrics) TriggerFired(pipelineID, triggerID string) {
	if m == nil {
		return
	}
	m.triggerFires.WithLabelValues(pipelineID, triggerID).Inc()
}

// EventDropped фиксирует событие, вытесненное из очереди наблюдателя.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.hubDropped.Inc()
}

// Subscribers устанавливает число наблюдателей.
func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.hubSubscribers.Set(float64(n))
}

// EventRelayed фиксирует результат пересылки события в брокер.
func (m *Metrics) EventRelayed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.relayEvents.WithLabelValues(result).Inc()
}
