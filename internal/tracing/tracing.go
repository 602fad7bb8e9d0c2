// Package tracing wires OpenTelemetry traces for inbound HTTP requests and
// outbound provider calls.
package tracing

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/pkg/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init installs the global tracer provider. When traces are disabled it
// returns a nil provider and only sets the propagator.
func Init(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.OTELTracesEnabled {
		log.Printf("[TRACING] disabled (OTEL_TRACES_ENABLED=false)")
		return nil, nil
	}

	res, err := metrics.Resource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint),
		otlptracehttp.WithURLPath("/v1/traces"),
	}
	if cfg.OTELExporterOTLPHeaders != "" {
		opts = append(opts, otlptracehttp.WithHeaders(metrics.ParseHeaders(cfg.OTELExporterOTLPHeaders)))
	}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Printf("[TRACING] exporting spans to %s/v1/traces", cfg.OTELExporterOTLPEndpoint)
	return tp, nil
}

// Handler wraps next with server spans named after the mux route template.
// Health checks are not traced.
func Handler(next http.Handler, serviceName string) http.Handler {
	return otelhttp.NewHandler(next, serviceName,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Transport wraps base with client spans and trace context propagation
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
