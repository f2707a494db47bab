package telemetry

import (
	"context"
	"time"

	"github.com/openfroyo/durastep/pkg/outcome"
)

// Telemetry bundles logging, tracing, metrics, and events. It satisfies the
// engine's observer contracts so the runtime reports through one value.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry that records nothing. Tests and one-shot CLI
// commands use it.
func NewNop() *Telemetry {
	return &Telemetry{
		Logger:  Nop(),
		Metrics: &Metrics{},
		Events:  &EventPublisher{},
		Config:  DefaultConfig(),
	}
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	if t.Tracer != nil {
		return t.Tracer.Shutdown(ctx)
	}
	return nil
}

// CommandHandled records an aggregate command result.
func (t *Telemetry) CommandHandled(aggregate, command string, code string, rejected bool) {
	result := "accepted"
	if rejected {
		result = "rejected"
		t.Metrics.RecordError(code)
	}
	t.Metrics.RecordCommand(aggregate, command, result)
}

// EventAppended records an event written to an aggregate log.
func (t *Telemetry) EventAppended(aggregate, eventType string) {
	t.Metrics.RecordEventAppended(aggregate, eventType)
}

// WorkflowStarted records a newly started workflow instance.
func (t *Telemetry) WorkflowStarted(workflow, instanceID, firstStep string) {
	t.Metrics.RecordWorkflowStarted(workflow)
	if err := t.Events.PublishWorkflowStarted(workflow, instanceID, firstStep); err != nil {
		t.Logger.WithError(err).Warn("failed to publish workflow event")
	}
}

// DriverActive moves the active driver gauge.
func (t *Telemetry) DriverActive(workflow string, delta int) {
	t.Metrics.AddActiveWorkflows(workflow, float64(delta))
}

// StepFinished records a delivered step outcome.
func (t *Telemetry) StepFinished(workflow, instanceID, step string, o outcome.Outcome, next string, timedOut bool, duration time.Duration) {
	t.Metrics.RecordStep(workflow, step, string(o.Kind), duration)
	if timedOut {
		t.Metrics.RecordStepTimeout(workflow, step)
	}
	if err := t.Events.PublishStepOutcome(workflow, instanceID, step, string(o.Kind), o.Message, next, timedOut, duration); err != nil {
		t.Logger.WithError(err).Warn("failed to publish step event")
	}
}

// WorkflowTimedOut records an instance whose overall deadline passed.
func (t *Telemetry) WorkflowTimedOut(workflow, instanceID, step string) {
	t.Metrics.RecordWorkflowTimeout(workflow)
	t.Metrics.RecordError("TIMEOUT")
}

// WorkflowFinished records an instance reaching a terminal step.
func (t *Telemetry) WorkflowFinished(workflow, instanceID, finalStep string, failed bool) {
	t.Metrics.RecordWorkflowFinished(workflow, finalStep)
	if err := t.Events.PublishWorkflowFinished(workflow, instanceID, finalStep, failed); err != nil {
		t.Logger.WithError(err).Warn("failed to publish workflow event")
	}
}
