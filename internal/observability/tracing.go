// Package observability wires Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName for traces.
const DefaultServiceName = "songbot"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	ServiceName  string
	Enabled      bool
	ExporterType string // "otlp", "stdout", or "none"
	OTLPEndpoint string
	OTLPHeaders  map[string]string
}

// InitTracingFromEnv initializes tracing from the standard OpenTelemetry
// environment variables:
// - OTEL_SERVICE_NAME: service name (default: "songbot")
// - OTEL_TRACES_EXPORTER: "otlp", "stdout", or "none" (default: "none")
// - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint
// - OTEL_EXPORTER_OTLP_HEADERS: headers as "key1=value1,key2=value2"
func InitTracingFromEnv() error {
	cfg := TracingConfig{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Enabled:      getEnv("OTEL_TRACES_ENABLED", "true") == "true",
		ExporterType: getEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	}
	return InitTracing(cfg)
}

// InitTracing initializes the tracer provider with the given configuration.
func InitTracing(cfg TracingConfig) error {
	if !cfg.Enabled || cfg.ExporterType == "none" {
		log.Println("tracing disabled")
		tracer = otel.GetTracerProvider().Tracer(cfg.ServiceName)
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.ExporterType {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		}
		if len(cfg.OTLPHeaders) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Printf("tracing initialized with OTLP exporter (endpoint: %s)", cfg.OTLPEndpoint)

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		log.Println("tracing initialized with stdout exporter")

	default:
		return fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(cfg.ServiceName)
	return nil
}

// ShutdownTracing flushes pending spans.
func ShutdownTracing(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

// StartSpan starts a span from the parent context.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tr := tracer
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr.Start(ctx, name, opts...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseHeaders parses "key1=value1,key2=value2".
func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			headers[kv[0]] = kv[1]
		}
	}
	return headers
}
