package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingConfig selects where job.dispatch spans go.
type TracingConfig struct {
	Enabled bool
	Service string

	// InstanceID distinguishes worker processes sharing one service name;
	// workers pass their scheduler id so spans can be matched to lease owners.
	InstanceID string

	// Endpoint is an OTLP/HTTP host:port; empty prints spans to stdout.
	Endpoint string

	// SampleRatio applies to root spans; zero or one samples everything.
	SampleRatio float64
}

// InitTracer installs the global tracer provider and returns its shutdown
// func. A disabled config installs nothing and returns a no-op.
func InitTracer(config TracingConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := newSpanExporter(ctx, strings.TrimSpace(config.Endpoint))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(tracingAttributes(config)...))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(config.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracing enabled",
		"service", config.Service,
		"instance_id", config.InstanceID,
		"endpoint", config.Endpoint,
		"sample_ratio", config.SampleRatio,
	)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	}, nil
}

func newSpanExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout span exporter: %w", err)
		}
		return exporter, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp span exporter: %w", err)
	}
	return exporter, nil
}

func tracingAttributes(config TracingConfig) []attribute.KeyValue {
	attributes := []attribute.KeyValue{
		attribute.String("service.name", config.Service),
	}
	if config.InstanceID != "" {
		attributes = append(attributes, attribute.String("service.instance.id", config.InstanceID))
	}
	return attributes
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(ratio)
}
