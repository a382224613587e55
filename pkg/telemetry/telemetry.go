// Package telemetry configures OpenTelemetry tracing for the debug
// sessions.
package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dbgcoord/dbgcoord/pkg/version"
)

const (
	// EndpointEnv is the OTLP/HTTP collector URL. Tracing is off when it
	// is empty.
	EndpointEnv = "DBGCOORD_OTEL_ENDPOINT"
	// EnabledEnv set to "false" turns tracing off even with an endpoint.
	EnabledEnv = "DBGCOORD_OTEL_ENABLED"
)

// Setup installs a global tracer provider exporting to the collector
// named by DBGCOORD_OTEL_ENDPOINT. When tracing is off no provider is
// registered, session spans go to the no-op default, and the returned
// shutdown does nothing.
//
// The returned shutdown flushes pending spans and should be deferred by
// the caller.
func Setup(ctx context.Context, service string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv(EnabledEnv), "false") {
		return noop, nil
	}
	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(version.DbgcoordVersion.Semver()),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}
