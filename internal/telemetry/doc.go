// Package telemetry wires OpenTelemetry tracing and metrics for collectiond.
//
// Spans are exported over OTLP (gRPC or HTTP) when observability is
// enabled in the configuration; otherwise the otel globals stay no-op and
// instrumented packages pay nothing.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Failures to build an exporter do not stop the service. The instance
// reports itself as degraded through Health.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
