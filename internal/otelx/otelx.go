// Package otelx installs the global OpenTelemetry tracer provider for one
// sitepublish run and hands back the flush that must run before exit.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

const defaultDialTimeout = 3 * time.Second

type Options struct {
	Enabled bool

	// Endpoint is the host:port of an OTLP gRPC collector
	Endpoint string
	Insecure bool

	// Sample is the root span sampling ratio, clamped to [0, 1]
	Sample float64

	Service   string
	Component string
	Version   string

	// DialTimeout bounds exporter setup; 0 uses 3s
	DialTimeout time.Duration
}

// ShutdownFunc flushes buffered spans. A run's spans are only exported
// once it is called, so callers give it a deadline of its own.
type ShutdownFunc func(context.Context) error

func Init(ctx context.Context, o Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		// keep an SDK provider so span contexts are still valid for log
		// correlation; nothing is exported
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otelx: tracing enabled without an OTLP endpoint")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otelx: create exporter for %s", o.Endpoint)
	}

	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName(o.Service, o.Component)),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(o.Sample))),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Sampler maps a ratio to a root sampler; 1 and above samples everything,
// 0 and below nothing.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

func serviceName(service, component string) string {
	switch {
	case service == "":
		return component
	case component == "":
		return service
	default:
		return service + "." + component
	}
}
