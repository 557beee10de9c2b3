// OTel SDK providers and exporters for the CLI.
// One provider per signal; a disabled signal leaves its provider nil.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	tracerName      = "amqptrace"
	shutdownTimeout = 5 * time.Second
)

var validSignals = map[string]bool{
	"traces":  true,
	"metrics": true,
	"logs":    true,
}

var validProtocols = map[string]bool{
	"http/protobuf": true,
	"grpc":          true,
}

func validateProtocol(p string) error {
	if !validProtocols[p] {
		return fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", p)
	}
	return nil
}

func parseSignals(s string) (map[string]bool, error) {
	set := make(map[string]bool)
	for _, sig := range strings.Split(s, ",") {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		if !validSignals[sig] {
			return nil, fmt.Errorf("unknown signal %q, valid signals: traces, metrics, logs", sig)
		}
		set[sig] = true
	}
	return set, nil
}

// signalProviders holds the SDK providers for one run.
// tracerProvider is never nil; it records nothing when traces are disabled.
type signalProviders struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

func newSignals(ctx context.Context, opts runOptions) (*signalProviders, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "amqptrace"),
		attribute.String("amqptrace.version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	sig := &signalProviders{}
	if opts.signals["traces"] {
		exporter, err := traceExporters.build(ctx, opts, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		var sp sdktrace.SpanProcessor
		if opts.stdout {
			sp = sdktrace.NewSimpleSpanProcessor(exporter)
		} else {
			sp = sdktrace.NewBatchSpanProcessor(exporter)
		}
		sig.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sp),
			sdktrace.WithResource(res),
		)
	} else {
		sig.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}

	if opts.signals["metrics"] {
		exporter, err := metricExporters.build(ctx, opts, os.Stdout)
		if err != nil {
			_ = sig.shutdown()
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		sig.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		)
	}

	if opts.signals["logs"] {
		exporter, err := logExporters.build(ctx, opts, os.Stdout)
		if err != nil {
			_ = sig.shutdown()
			return nil, fmt.Errorf("creating log exporter: %w", err)
		}
		var processor sdklog.Processor
		if opts.stdout {
			processor = sdklog.NewSimpleProcessor(exporter)
		} else {
			processor = sdklog.NewBatchProcessor(exporter)
		}
		sig.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(processor),
			sdklog.WithResource(res),
		)
	}

	return sig, nil
}

// shutdown flushes and stops every provider that was created, in reverse creation order.
func (s *signalProviders) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.loggerProvider != nil {
		if err := s.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider: %w", err))
		}
	}
	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// exporterSet builds one signal's exporter for the configured destination.
// An empty endpoint leaves the OTLP client on its environment defaults.
type exporterSet[E any] struct {
	signal string
	stdout func(w io.Writer) (E, error)
	grpc   func(ctx context.Context, endpoint string) (E, error)
	http   func(ctx context.Context, endpoint string) (E, error)
}

func (x exporterSet[E]) build(ctx context.Context, opts runOptions, w io.Writer) (E, error) {
	switch {
	case opts.stdout:
		return x.stdout(w)
	case opts.protocol == "grpc":
		return x.grpc(ctx, opts.endpoint)
	case opts.protocol == "http/protobuf", opts.protocol == "":
		return x.http(ctx, opts.endpoint)
	}
	var zero E
	return zero, fmt.Errorf("unsupported protocol %q for %s", opts.protocol, x.signal)
}

var traceExporters = exporterSet[sdktrace.SpanExporter]{
	signal: "traces",
	stdout: func(w io.Writer) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(w))
	},
	grpc: func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		if endpoint == "" {
			return otlptracegrpc.New(ctx)
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	},
	http: func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		if endpoint == "" {
			return otlptracehttp.New(ctx)
		}
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	},
}

var metricExporters = exporterSet[sdkmetric.Exporter]{
	signal: "metrics",
	stdout: func(w io.Writer) (sdkmetric.Exporter, error) {
		return stdoutmetric.New(stdoutmetric.WithWriter(w))
	},
	grpc: func(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
		if endpoint == "" {
			return otlpmetricgrpc.New(ctx)
		}
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	},
	http: func(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
		if endpoint == "" {
			return otlpmetrichttp.New(ctx)
		}
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	},
}

var logExporters = exporterSet[sdklog.Exporter]{
	signal: "logs",
	stdout: func(w io.Writer) (sdklog.Exporter, error) {
		return stdoutlog.New(stdoutlog.WithWriter(w))
	},
	grpc: func(ctx context.Context, endpoint string) (sdklog.Exporter, error) {
		if endpoint == "" {
			return otlploggrpc.New(ctx)
		}
		return otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(endpoint), otlploggrpc.WithInsecure())
	},
	http: func(ctx context.Context, endpoint string) (sdklog.Exporter, error) {
		if endpoint == "" {
			return otlploghttp.New(ctx)
		}
		return otlploghttp.New(ctx, otlploghttp.WithEndpoint(endpoint), otlploghttp.WithInsecure())
	},
}
