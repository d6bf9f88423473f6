// Package telemetry wires logging, tracing and metrics for the server.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName string
	// Endpoint is the OTLP gRPC collector address. Empty keeps everything
	// local: logs go to Output only and traces and metrics are dropped.
	Endpoint string
	LogLevel slog.Level
	Output   io.Writer
}

type Telemetry struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator

	shutdownFuncs []func(context.Context) error
}

// Setup builds the providers and installs them as the otel globals.
// Call Shutdown to flush and stop the exporters.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	output := cfg.Output
	if output == nil {
		output = io.Discard
	}
	local := slog.NewTextHandler(output, &slog.HandlerOptions{Level: cfg.LogLevel})

	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(propagator)

	tel := &Telemetry{Propagator: propagator}

	if cfg.Endpoint == "" {
		tel.Logger = slog.New(local)
		tel.TracerProvider = otel.GetTracerProvider()
		tel.MeterProvider = otel.GetMeterProvider()
		return tel, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	// Undo whatever was started when a later exporter fails.
	fail := func(err error) (*Telemetry, error) {
		return nil, errors.Join(err, tel.Shutdown(ctx))
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fail(fmt.Errorf("telemetry: trace exporter: %w", err))
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	tel.shutdownFuncs = append(tel.shutdownFuncs, tracerProvider.Shutdown)
	tel.TracerProvider = tracerProvider
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fail(fmt.Errorf("telemetry: metric exporter: %w", err))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	tel.shutdownFuncs = append(tel.shutdownFuncs, meterProvider.Shutdown)
	tel.MeterProvider = meterProvider
	otel.SetMeterProvider(meterProvider)

	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(cfg.Endpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return fail(fmt.Errorf("telemetry: log exporter: %w", err))
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	tel.shutdownFuncs = append(tel.shutdownFuncs, loggerProvider.Shutdown)
	global.SetLoggerProvider(loggerProvider)

	remote := otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(loggerProvider))
	tel.Logger = slog.New(NewFanoutHandler(cfg.LogLevel, local, remote))

	return tel, nil
}

// Shutdown stops the providers in reverse start order. It is safe to call more
// than once.
func (tel *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(tel.shutdownFuncs) - 1; i >= 0; i-- {
		errs = append(errs, tel.shutdownFuncs[i](ctx))
	}
	tel.shutdownFuncs = nil
	return errors.Join(errs...)
}
