// Package telemetry wires OpenTelemetry for fb. It is off unless
// FB_OTEL_ENABLED=true; when off, the global providers are no-ops.
//
//	FB_OTEL_ENABLED=true              turn telemetry on
//	FB_OTEL_STDOUT=true               print spans and metrics (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...  OTLP/HTTP metrics endpoint (e.g. localhost:4318)
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/feedbackkit/fb"

// Options selects exporters. The zero value disables telemetry.
type Options struct {
	Enabled     bool
	ServiceName string
	Version     string

	// Stdout prints spans and metrics. Spans always go to stdout when
	// enabled, since no trace endpoint is supported.
	Stdout bool
	// OTLPEndpoint receives metrics over OTLP/HTTP.
	OTLPEndpoint string
	// Interval between metric exports; zero means 30s.
	Interval time.Duration
}

// FromEnv reads Options from the FB_OTEL_* and OTEL_EXPORTER_OTLP_* variables.
func FromEnv(serviceName, version string) Options {
	return Options{
		Enabled:     Enabled(),
		ServiceName: serviceName,
		Version:     version,
		Stdout:      os.Getenv("FB_OTEL_STDOUT") == "true",
		OTLPEndpoint: firstNonEmpty(
			os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
			os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		),
	}
}

// Enabled reports whether FB_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("FB_OTEL_ENABLED") == "true"
}

var shutdownFns []func(context.Context) error

// Init installs the global providers described by opts.
func Init(ctx context.Context, opts Options) error {
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("telemetry: span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
	)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	readers, err := metricReaders(ctx, opts)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

func metricReaders(ctx context.Context, opts Options) ([]sdkmetric.Reader, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	var readers []sdkmetric.Reader
	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
	}
	if opts.OTLPEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(opts.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
	}
	return readers, nil
}

// Tracer returns a tracer for name, or for the module scope when empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or for the module scope when empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the providers Init installed.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
