// Package telemetry installs the console's OpenTelemetry tracer provider.
// Without an OTLP endpoint the global no-op provider stays in place.
package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Options struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	// SampleRatio is the share of root spans kept. Values outside (0, 1]
	// keep everything.
	SampleRatio float64
}

type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup exports dispatcher and HTTP spans over OTLP gRPC. A failing exporter
// is logged and tracing stays off; the console keeps running.
func Setup(ctx context.Context, options Options, logger zerolog.Logger) Shutdown {
	if options.Endpoint == "" {
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(options.Endpoint)}
	if options.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Error().Err(err).Str("endpoint", options.Endpoint).Msg("otel exporter error")
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(options.ServiceName),
		semconv.DeploymentEnvironment(options.Environment),
	))
	if err != nil {
		logger.Warn().Err(err).Msg("otel resource error")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(options.SampleRatio)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logger.Info().
		Str("endpoint", options.Endpoint).
		Float64("sample_ratio", options.SampleRatio).
		Msg("tracing enabled")

	return provider.Shutdown
}

// Sampler follows the caller's sampling decision and samples new traces by
// ratio.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
