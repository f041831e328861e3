// Package telemetry provides observability instrumentation for PledgeFlow.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics, and an in-process event publisher
// into a single handle the engine carries.
//
// Initialize at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Component loggers carry workflow context:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithInstanceID(id).WithTaskID(taskID).Info("task completed")
//
// Key metrics exposed at /metrics:
//
//   - pledgeflow_tasks_completed_total{role,kind}
//   - pledgeflow_tasks_skipped_total{role}
//   - pledgeflow_completion_conflicts_total{reason}
//   - pledgeflow_dispatch_errors_total{bridge}
//   - pledgeflow_complete_task_duration_seconds{kind}
//   - pledgeflow_active_instances
//
// Trace exporters: "stdout" for development, "otlp" for production
// collectors, "none" to generate spans without exporting.
package telemetry
