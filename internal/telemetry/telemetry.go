package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	ServiceName    = "fhirchat"
	ServiceVersion = "1.0.0"

	LogFileName     = "fhirchat.log"
	TraceFileName   = "fhirchat_traces.log"
	MetricsFileName = "fhirchat_metrics.log"
)

func rotatingFile(dir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes structured logging with rotation. Logs go to the
// file only so they never interleave with the terminal chat.
func InitLogger(logDir string, debug bool) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	file := rotatingFile(logDir, LogFileName)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With("service", ServiceName)
	slog.SetDefault(logger)

	return logger, file.Close, nil
}

// MetricInterval is how often metrics are flushed to the metrics file.
const MetricInterval = 10 * time.Second

// InitTelemetry installs global trace and meter providers that export to
// rotated files under logDir (TraceFileName, MetricsFileName). attrs are added
// to the service resource, e.g. the FHIR server the process talks to. The
// returned func flushes both providers and closes the files.
func InitTelemetry(ctx context.Context, logDir string, attrs ...attribute.KeyValue) (trace.Tracer, metric.Meter, func(), error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(append([]attribute.KeyValue{
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		}, attrs...)...),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, traceFile, err := newTracerProvider(res, logDir)
	if err != nil {
		return nil, nil, nil, err
	}
	mp, metricsFile, err := newMeterProvider(res, logDir)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = traceFile.Close()
		return nil, nil, nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		report(tp.Shutdown(ctx), "failed to shut down tracer provider")
		report(mp.Shutdown(ctx), "failed to shut down meter provider")
		report(traceFile.Close(), "failed to close trace file")
		report(metricsFile.Close(), "failed to close metrics file")
	}
	return tp.Tracer(ServiceName), mp.Meter(ServiceName), shutdown, nil
}

func newTracerProvider(res *resource.Resource, logDir string) (*sdktrace.TracerProvider, *lumberjack.Logger, error) {
	file := rotatingFile(logDir, TraceFileName)
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(file), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, file, nil
}

func newMeterProvider(res *resource.Resource, logDir string) (*sdkmetric.MeterProvider, *lumberjack.Logger, error) {
	file := rotatingFile(logDir, MetricsFileName)
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(file), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(MetricInterval))),
		sdkmetric.WithResource(res),
	)
	return mp, file, nil
}

func report(err error, msg string) {
	if err != nil {
		slog.Error(msg, "error", err)
	}
}
