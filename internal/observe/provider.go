package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the global OpenTelemetry providers.
type ProviderConfig struct {
	// ServiceName identifies this process in exported telemetry.
	// Default: "verbatim".
	ServiceName string

	// ServiceVersion is attached to the telemetry resource when set.
	ServiceVersion string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// in-process but never leave it, which is what tests want. Production
	// deployments plug in an OTLP exporter here.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the metric and trace providers used by every
// instrument in this package. Metrics flow through a Prometheus exporter so
// the app's /metrics endpoint can serve them; traces go to cfg.TraceExporter
// when one is configured.
//
// The returned function flushes and shuts down both providers. main defers it
// with a short timeout so buffered telemetry survives shutdown.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "verbatim"
	}
	res, err := telemetryResource(cfg)
	if err != nil {
		return nil, err
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(meters)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tracers := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracers)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meters.Shutdown(ctx), tracers.Shutdown(ctx))
	}
	return shutdown, nil
}

func telemetryResource(cfg ProviderConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}
