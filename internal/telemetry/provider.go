package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func newResource(cfg *Config) *resource.Resource {
	// Standalone resource; resource.Default() carries a different schema URL.
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

// Option overrides exporters, mainly for tests.
type Option func(*options)

type options struct {
	spanExporter   trace.SpanExporter
	metricExporter metric.Exporter
}

// WithTraceExporter replaces the OTLP span exporter.
func WithTraceExporter(exp trace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithMetricExporter replaces the OTLP metric exporter.
func WithMetricExporter(exp metric.Exporter) Option {
	return func(o *options) { o.metricExporter = exp }
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, opts options) (*trace.TracerProvider, error) {
	exporter := opts.spanExporter
	if exporter == nil {
		var err error
		switch cfg.Protocol {
		case "http/protobuf":
			o := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				o = append(o, otlptracehttp.WithInsecure())
			}
			exporter, err = otlptracehttp.New(ctx, o...)
		default:
			o := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(stripScheme(cfg.Endpoint))}
			if cfg.Insecure {
				o = append(o, otlptracegrpc.WithInsecure())
			}
			exporter, err = otlptracegrpc.New(ctx, o...)
		}
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
	}

	var sampler trace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = trace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = trace.NeverSample()
	default:
		sampler = trace.TraceIDRatioBased(cfg.SampleRate)
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, opts options) (*metric.MeterProvider, error) {
	exporter := opts.metricExporter
	if exporter == nil {
		// Cumulative regardless of OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE;
		// Prometheus-style backends expect it.
		cumulative := func(metric.InstrumentKind) metricdata.Temporality {
			return metricdata.CumulativeTemporality
		}

		var err error
		switch cfg.Protocol {
		case "http/protobuf":
			o := []otlpmetrichttp.Option{
				otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
				otlpmetrichttp.WithTemporalitySelector(cumulative),
			}
			if cfg.Insecure {
				o = append(o, otlpmetrichttp.WithInsecure())
			}
			exporter, err = otlpmetrichttp.New(ctx, o...)
		default:
			o := []otlpmetricgrpc.Option{
				otlpmetricgrpc.WithEndpoint(stripScheme(cfg.Endpoint)),
				otlpmetricgrpc.WithTemporalitySelector(cumulative),
			}
			if cfg.Insecure {
				o = append(o, otlpmetricgrpc.WithInsecure())
			}
			exporter, err = otlpmetricgrpc.New(ctx, o...)
		}
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.ExportInterval))),
	), nil
}

// stripScheme removes http:// or https://; OTLP exporters want host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
