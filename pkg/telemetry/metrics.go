package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for aggregates and workflows.
// A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Aggregate metrics
	commandsHandled *prometheus.CounterVec
	eventsAppended  *prometheus.CounterVec

	// Workflow metrics
	workflowsStarted  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	workflowTimeouts  *prometheus.CounterVec
	activeWorkflows   *prometheus.GaugeVec

	// Step metrics
	stepOutcomes *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepTimeouts *prometheus.CounterVec

	// Request layer
	httpRequests *prometheus.CounterVec

	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		commandsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_handled_total",
				Help:      "Total number of aggregate commands by result",
			},
			[]string{"aggregate", "command", "result"},
		),
		eventsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_appended_total",
				Help:      "Total number of events appended to aggregate logs",
			},
			[]string{"aggregate", "type"},
		),

		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflow instances started",
			},
			[]string{"workflow"},
		),
		workflowsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_finished_total",
				Help:      "Total number of workflow instances that reached a terminal step",
			},
			[]string{"workflow", "final_step"},
		),
		workflowTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_timeouts_total",
				Help:      "Total number of workflow instances that exceeded their deadline",
			},
			[]string{"workflow"},
		),
		activeWorkflows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Current number of running workflow drivers",
			},
			[]string{"workflow"},
		),

		stepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_outcomes_total",
				Help:      "Total number of step outcomes by kind",
			},
			[]string{"workflow", "step", "kind"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step actions in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow", "step"},
		),
		stepTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_timeouts_total",
				Help:      "Total number of step actions that did not report in time",
			},
			[]string{"workflow", "step"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests by route and status code",
			},
			[]string{"route", "code"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of classified errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.commandsHandled,
		m.eventsAppended,
		m.workflowsStarted,
		m.workflowsFinished,
		m.workflowTimeouts,
		m.activeWorkflows,
		m.stepOutcomes,
		m.stepDuration,
		m.stepTimeouts,
		m.httpRequests,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Aggregate Metrics

// RecordCommand counts a handled command. result is "accepted" or "rejected".
func (m *Metrics) RecordCommand(aggregate, command, result string) {
	if !m.enabled() {
		return
	}
	m.commandsHandled.WithLabelValues(aggregate, command, result).Inc()
}

// RecordEventAppended counts an event written to an aggregate log.
func (m *Metrics) RecordEventAppended(aggregate, eventType string) {
	if !m.enabled() {
		return
	}
	m.eventsAppended.WithLabelValues(aggregate, eventType).Inc()
}

// Workflow Metrics

// RecordWorkflowStarted counts a started instance.
func (m *Metrics) RecordWorkflowStarted(workflow string) {
	if !m.enabled() {
		return
	}
	m.workflowsStarted.WithLabelValues(workflow).Inc()
}

// RecordWorkflowFinished counts an instance that reached a terminal step.
func (m *Metrics) RecordWorkflowFinished(workflow, finalStep string) {
	if !m.enabled() {
		return
	}
	m.workflowsFinished.WithLabelValues(workflow, finalStep).Inc()
}

// RecordWorkflowTimeout counts an instance whose overall deadline passed.
func (m *Metrics) RecordWorkflowTimeout(workflow string) {
	if !m.enabled() {
		return
	}
	m.workflowTimeouts.WithLabelValues(workflow).Inc()
}

// AddActiveWorkflows moves the active driver gauge by delta.
func (m *Metrics) AddActiveWorkflows(workflow string, delta float64) {
	if !m.enabled() {
		return
	}
	m.activeWorkflows.WithLabelValues(workflow).Add(delta)
}

// Step Metrics

// RecordStep records a step outcome and how long the action took.
func (m *Metrics) RecordStep(workflow, step, kind string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepOutcomes.WithLabelValues(workflow, step, kind).Inc()
	m.stepDuration.WithLabelValues(workflow, step).Observe(duration.Seconds())
}

// RecordStepTimeout counts a step whose action did not report in time.
func (m *Metrics) RecordStepTimeout(workflow, step string) {
	if !m.enabled() {
		return
	}
	m.stepTimeouts.WithLabelValues(workflow, step).Inc()
}

// RecordHTTPRequest counts an API request.
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	if !m.enabled() {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordError counts a classified error by code.
func (m *Metrics) RecordError(code string) {
	if !m.enabled() || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
