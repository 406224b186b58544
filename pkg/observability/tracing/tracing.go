// Package tracing wires an OpenTelemetry tracer for development. Spans are
// pretty-printed to stdout; when disabled every call is a no-op.
package tracing

import (
    "context"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    otelcodes "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/amirimatin/go-usage"

var enabled atomic.Bool

// Setup installs the global tracer provider when enable is set. The returned
// shutdown flushes pending spans and must be called on exit.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled.Store(false)
    if !enable { return func(context.Context) error { return nil }, nil }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil { return nil, err }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    enabled.Store(true)
    return func(ctx context.Context) error {
        enabled.Store(false)
        return tp.Shutdown(ctx)
    }, nil
}

// Enabled reports whether spans are recorded.
func Enabled() bool { return enabled.Load() }

// StartSpan opens a span named name carrying attrs. The context is returned
// unchanged when tracing is off.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
    if !enabled.Load() { return ctx, func() {} }
    ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func() { span.End() }
}

// Fail marks the span in ctx as failed with err.
func Fail(ctx context.Context, err error) {
    if err == nil || !enabled.Load() { return }
    span := trace.SpanFromContext(ctx)
    span.RecordError(err)
    span.SetStatus(otelcodes.Error, err.Error())
}
