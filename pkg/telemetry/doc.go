// Package telemetry provides observability instrumentation for setup runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind a single Telemetry value:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithRunID(runID).WithStepID("1.0").Info("Step finished")
//
// # Metrics
//
// Setup runs are short-lived, so metrics are not served over HTTP by default.
// When MetricsConfig.TextfilePath is set, Shutdown writes the registry to that
// file in the Prometheus text format for a node exporter textfile collector.
//
// Key metrics exposed:
//
//   - hubsetup_runs_completed_total{outcome}
//   - hubsetup_steps_executed_total{level,status}
//   - hubsetup_http_requests_total{method,code}
//   - hubsetup_http_retries_total{code}
//   - hubsetup_auth_probes_total{format,verdict}
//   - hubsetup_poll_attempts_total{operation,result}
//
// # Tracing
//
// Supported exporters are "otlp" (gRPC), "stdout" and "none". A nil *Tracer
// and a disabled one both produce non-recording spans.
//
// Never log credentials. Authorization headers are masked by the auth package
// before they reach any logger.
package telemetry
