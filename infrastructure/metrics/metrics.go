// Package metrics provides Prometheus metrics collection for kira's
// in-process pipelines: the event bus, vault writes, agent graph runs,
// plugin invocations and the LLM router.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kira-host/kira/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics collectors for a kira process.
type Metrics struct {
	// Event bus
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	HandlerDuration      *prometheus.HistogramVec

	// Errors
	ErrorsTotal *prometheus.CounterVec

	// Vault
	VaultWritesTotal   *prometheus.CounterVec
	VaultWriteDuration prometheus.Histogram
	VaultEntityCount   *prometheus.GaugeVec

	// Agent graph
	AgentRunsTotal     *prometheus.CounterVec
	AgentStepsTotal    *prometheus.CounterVec
	AgentRunDuration   prometheus.Histogram
	AgentBudgetAborted *prometheus.CounterVec

	// Plugin host
	PluginInvocationsTotal *prometheus.CounterVec
	PluginDuration         *prometheus.HistogramVec

	// LLM router
	RouterCallsTotal    *prometheus.CounterVec
	RouterCallDuration  *prometheus.HistogramVec
	RouterFallbackTotal *prometheus.CounterVec

	// Process health
	ProcessUptime prometheus.Gauge
	ProcessInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers it on the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registerer.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_events_published_total",
				Help: "Total number of events published on the bus",
			},
			[]string{"event_type"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_events_dropped_total",
				Help: "Total number of events dropped as duplicates",
			},
			[]string{"event_type"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kira_handler_duration_seconds",
				Help:    "Event handler execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"event_type", "handler"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_errors_total",
				Help: "Total number of errors by code and operation",
			},
			[]string{"code", "operation"},
		),

		VaultWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_vault_writes_total",
				Help: "Total number of vault entity writes",
			},
			[]string{"entity_type", "status"},
		),
		VaultWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kira_vault_write_duration_seconds",
				Help:    "Vault write-to-temp-and-rename duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
		),
		VaultEntityCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kira_vault_entity_count",
				Help: "Current number of entities tracked per type",
			},
			[]string{"entity_type"},
		),

		AgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_agent_runs_total",
				Help: "Total number of agent graph runs by terminal status",
			},
			[]string{"status"},
		),
		AgentStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_agent_steps_total",
				Help: "Total number of agent graph node transitions",
			},
			[]string{"node"},
		),
		AgentRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kira_agent_run_duration_seconds",
				Help:    "Agent graph run wall-clock duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		AgentBudgetAborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_agent_budget_aborted_total",
				Help: "Total number of agent runs aborted by budget enforcement",
			},
			[]string{"reason"},
		),

		PluginInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_plugin_invocations_total",
				Help: "Total number of plugin script invocations",
			},
			[]string{"plugin", "status"},
		),
		PluginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kira_plugin_duration_seconds",
				Help:    "Plugin sandbox execution duration in seconds",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5},
			},
			[]string{"plugin"},
		),

		RouterCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_router_calls_total",
				Help: "Total number of LLM router calls by task type and status",
			},
			[]string{"task_type", "provider", "status"},
		),
		RouterCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kira_router_call_duration_seconds",
				Help:    "LLM router call duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
			},
			[]string{"task_type", "provider"},
		),
		RouterFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kira_router_fallback_total",
				Help: "Total number of times the router fell back to a secondary provider",
			},
			[]string{"task_type"},
		),

		ProcessUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kira_process_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		ProcessInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kira_process_info",
				Help: "Process build/environment information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EventsPublishedTotal,
			m.EventsDroppedTotal,
			m.HandlerDuration,
			m.ErrorsTotal,
			m.VaultWritesTotal,
			m.VaultWriteDuration,
			m.VaultEntityCount,
			m.AgentRunsTotal,
			m.AgentStepsTotal,
			m.AgentRunDuration,
			m.AgentBudgetAborted,
			m.PluginInvocationsTotal,
			m.PluginDuration,
			m.RouterCallsTotal,
			m.RouterCallDuration,
			m.RouterFallbackTotal,
			m.ProcessUptime,
			m.ProcessInfo,
		)
	}

	m.ProcessInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordEvent records an event published on the bus.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped by the dedupe filter.
func (m *Metrics) RecordEventDropped(eventType string) {
	m.EventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// RecordHandler records an event handler's execution duration.
func (m *Metrics) RecordHandler(eventType, handler string, duration time.Duration) {
	m.HandlerDuration.WithLabelValues(eventType, handler).Observe(duration.Seconds())
}

// RecordError records an error by code and operation.
func (m *Metrics) RecordError(code, operation string) {
	m.ErrorsTotal.WithLabelValues(code, operation).Inc()
}

// RecordVaultWrite records a vault entity write.
func (m *Metrics) RecordVaultWrite(entityType, status string, duration time.Duration) {
	m.VaultWritesTotal.WithLabelValues(entityType, status).Inc()
	m.VaultWriteDuration.Observe(duration.Seconds())
}

// SetVaultEntityCount sets the current gauge value for an entity type.
func (m *Metrics) SetVaultEntityCount(entityType string, count int) {
	m.VaultEntityCount.WithLabelValues(entityType).Set(float64(count))
}

// RecordAgentRun records a completed agent graph run.
func (m *Metrics) RecordAgentRun(status string, duration time.Duration) {
	m.AgentRunsTotal.WithLabelValues(status).Inc()
	m.AgentRunDuration.Observe(duration.Seconds())
}

// RecordAgentStep records a single node transition in the agent graph.
func (m *Metrics) RecordAgentStep(node string) {
	m.AgentStepsTotal.WithLabelValues(node).Inc()
}

// RecordAgentBudgetAbort records a run terminated by budget enforcement.
func (m *Metrics) RecordAgentBudgetAbort(reason string) {
	m.AgentBudgetAborted.WithLabelValues(reason).Inc()
}

// RecordPluginInvocation records a plugin sandbox invocation.
func (m *Metrics) RecordPluginInvocation(plugin, status string, duration time.Duration) {
	m.PluginInvocationsTotal.WithLabelValues(plugin, status).Inc()
	m.PluginDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

// RecordRouterCall records an LLM router call.
func (m *Metrics) RecordRouterCall(taskType, provider, status string, duration time.Duration) {
	m.RouterCallsTotal.WithLabelValues(taskType, provider, status).Inc()
	m.RouterCallDuration.WithLabelValues(taskType, provider).Observe(duration.Seconds())
}

// RecordRouterFallback records a router fallback to a secondary provider.
func (m *Metrics) RecordRouterFallback(taskType string) {
	m.RouterFallbackTotal.WithLabelValues(taskType).Inc()
}

// UpdateUptime updates the process uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ProcessUptime.Set(time.Since(startTime).Seconds())
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
