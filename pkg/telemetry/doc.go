// Package telemetry provides observability instrumentation for the parity runner.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and engine event publishing behind a
// single Telemetry value built at startup:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.ShutdownWithTimeout(5 * time.Second)
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Component loggers carry session and execution identifiers:
//
//	logger := tel.Logger.NewComponentLogger("engine").WithSessionID(sid)
//	logger.WithStep("coverage", "staging").Info("step completed")
//
// # Tracing
//
// NewTracer installs the global tracer provider, so spans started by the
// engine are exported through the configured exporter (otlp, stdout, none).
//
// # Metrics
//
// Metrics implements engine.MetricsRecorder. Handler serves the registry
// for scraping.
//
// # Events
//
// EventPublisher implements engine.EventPublisher. Subscribers receive
// events synchronously in publish order unless async delivery is enabled:
//
//	unsubscribe := tel.Events.Subscribe(handler, telemetry.FilterBySession(sid))
//	defer unsubscribe()
package telemetry
