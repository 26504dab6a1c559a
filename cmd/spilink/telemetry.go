package main

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceVersion = "0.1.0"

// shutdownFunc flushes and stops the telemetry providers.
type shutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// isCollectorReachable checks if the OTLP collector port is reachable.
func isCollectorReachable(endpoint string) bool {
	conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// initTelemetry installs the global OpenTelemetry providers.
// When the collector is not reachable the no-op providers are kept
// and only a warning is logged.
func initTelemetry(ctx context.Context, cfg *TelemetryConfig, tel *internal.Telemetry) (shutdownFunc, error) {
	if cfg.Endpoint == "" {
		tel.LogInfo("telemetry export disabled")
		return noopShutdown, nil
	}

	if !isCollectorReachable(cfg.Endpoint) {
		tel.LogWarn("OpenTelemetry collector is not reachable", "endpoint", cfg.Endpoint)
		return noopShutdown, nil
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	grpcConn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	// Trace
	traceExporter, err := newTraceExporter(ctx, grpcConn)
	if err != nil {
		return nil, errors.Join(err, grpcConn.Close())
	}
	traceProvider := newTraceProvider(res, traceExporter, cfg.TraceRatio)
	otel.SetTracerProvider(traceProvider)

	// Trace Propagator
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Meter
	meterExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(grpcConn))
	if err != nil {
		return nil, errors.Join(err, traceProvider.Shutdown(ctx), grpcConn.Close())
	}
	meterProvider := newMeterProvider(res, meterExporter)
	otel.SetMeterProvider(meterProvider)

	// Runtime
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		tel.LogWarn("failed to start runtime instrumentation", "error", err)
	}

	shutdowns := []shutdownFunc{traceProvider.Shutdown, meterProvider.Shutdown}

	// Logs
	if cfg.LogsEndpoint != "" {
		loggerProvider, err := newLoggerProvider(ctx, cfg.LogsEndpoint, res)
		if err != nil {
			tel.LogWarn("failed to create the OTLP log exporter", "error", err)
		} else {
			global.SetLoggerProvider(loggerProvider)
			internal.EnableOTelLogs(cfg.ServiceName)
			shutdowns = append(shutdowns, loggerProvider.Shutdown)
		}
	}

	tel.LogInfo("telemetry export enabled", "endpoint", cfg.Endpoint, "trace_ratio", cfg.TraceRatio)

	return func(ctx context.Context) error {
		var errs []error
		for _, shutdown := range shutdowns {
			errs = append(errs, shutdown(ctx))
		}
		errs = append(errs, grpcConn.Close())
		return errors.Join(errs...)
	}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}

func newTraceExporter(ctx context.Context, conn *grpc.ClientConn) (*otlptrace.Exporter, error) {
	return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
}

func newTraceProvider(res *resource.Resource, exporter sdktrace.SpanExporter, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
}

func newMeterProvider(res *resource.Resource, exporter sdkmetric.Exporter) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Second)),
		),
	)
}

func newLoggerProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(endpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	), nil
}
