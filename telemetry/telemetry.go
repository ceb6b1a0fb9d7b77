// Package telemetry wires OpenTelemetry log and trace exporters for
// processes embedding the transport. The transport itself only takes an
// injected trace.Tracer so library consumers may bring their own providers.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/openclaw/gatelink/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ShutdownFunc flushes and stops the configured providers.
type ShutdownFunc func()

// Telemetry holds the wired providers for one process.
type Telemetry struct {
	Logger logger.Logger
	Tracer trace.Tracer
}

// New configures OTLP HTTP exporters against otlpServerURL and returns a
// logger that ships records there, a tracer for the transport's round trips
// and a shutdown function. authToken may be empty for unauthenticated
// collectors.
func New(ctx context.Context, serviceName string, otlpServerURL string, authToken string) (*Telemetry, ShutdownFunc, error) {
	otlpURL, err := url.Parse(otlpServerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing otlp url: %w", err)
	}
	insecure := otlpURL.Scheme == "http"

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating resource: %w", err)
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}

	otlpURL.Path = "/v1/logs"
	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(otlpURL.String()),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(10 * time.Second),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	if insecure {
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}
	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating log exporter: %w", err)
	}
	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)

	otlpURL.Path = "/v1/traces"
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(otlpURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating trace exporter: %w", err)
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(traceProvider)

	tel := &Telemetry{
		Logger: logger.NewOtelLogger(logProvider.Logger(serviceName), logger.LevelTrace),
		Tracer: traceProvider.Tracer(serviceName),
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = traceProvider.Shutdown(sctx)
		_ = logProvider.Shutdown(sctx)
	}
	return tel, shutdown, nil
}

// NoopTracer returns a tracer that records nothing, for consumers that do
// not configure telemetry.
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("gatelink")
}
