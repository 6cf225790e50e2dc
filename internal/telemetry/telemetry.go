// Package telemetry installs the global OpenTelemetry tracer provider.
// Channel adapters trace sends and inbound handling through otel.Tracer,
// so spans are dropped until Setup runs with an endpoint configured.
package telemetry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flemzord/sbridge/internal/config"
)

const defaultServiceName = "sbridge"

// ShutdownFunc flushes pending spans and stops the exporter.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup configures the global tracer provider from cfg. Tracing stays
// disabled when cfg is nil or has no endpoint.
func Setup(ctx context.Context, cfg *config.TelemetryConfig, version string, logger *slog.Logger) (ShutdownFunc, error) {
	if cfg == nil || cfg.OTLPEndpoint == "" {
		return noopShutdown, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(cfg, version)),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("telemetry export failed", "error", err)
	}))

	logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_ratio", effectiveRatio(cfg.SampleRatio))

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func newResource(cfg *config.TelemetryConfig, version string) *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", cmp.Or(cfg.ServiceName, defaultServiceName)),
		attribute.String("service.version", version),
	)
}

// sampler samples root spans at ratio and follows the parent otherwise.
func sampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(effectiveRatio(ratio)))
}

// A zero ratio means "unset" and samples everything.
func effectiveRatio(ratio float64) float64 {
	if ratio <= 0 || ratio > 1 {
		return 1
	}
	return ratio
}
