// Package telemetry provides observability for durastep.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and an in-process event bus. A
// *Telemetry value implements the engine's observer interfaces, so the
// aggregate runtime and the workflow runner report through it.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("washing")
//	logger.WithWorkflow("washing-cycle", "machine-1").Info("cycle started")
//
// # Metrics
//
// Metrics live in a private registry and are exposed through
// Metrics.Handler, which the API server mounts on the configured path:
//
//   - durastep_commands_handled_total{aggregate,command,result}
//   - durastep_events_appended_total{aggregate,type}
//   - durastep_workflows_started_total{workflow}
//   - durastep_workflows_finished_total{workflow,final_step}
//   - durastep_workflow_timeouts_total{workflow}
//   - durastep_active_workflows{workflow}
//   - durastep_step_outcomes_total{workflow,step,kind}
//   - durastep_step_duration_seconds{workflow,step}
//   - durastep_step_timeouts_total{workflow,step}
//   - durastep_http_requests_total{route,code}
//
// # Events
//
// The runner publishes workflow.started, step.completed, step.failed,
// step.timeout, workflow.completed and workflow.failed. Subscribers are
// called on the delivery goroutine in publish order:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Step)
//	}, telemetry.FilterByInstance("washing-cycle", "machine-1"))
//
// # Tracing
//
// Exporters are "stdout", "otlp" (gRPC) and "none". Packages start spans
// with the package-level StartSpan, which uses the global provider
// installed by NewTracer.
package telemetry
