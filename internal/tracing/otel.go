package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope of every goose span.
const scope = "github.com/harun/goose"

var (
	tpMu sync.Mutex
	tp   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the process tracer provider, tagged with the service name and
// version. It is a no-op while a provider is installed.
func InitOpenTelemetry(service, version string) error {
	tpMu.Lock()
	defer tpMu.Unlock()
	if tp != nil {
		return nil
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	)
	tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	return nil
}

// ShutdownOpenTelemetry flushes pending spans and uninstalls the provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tpMu.Lock()
	defer tpMu.Unlock()
	if tp == nil {
		return nil
	}
	err := tp.Shutdown(ctx)
	tp = nil
	return err
}

// StartSpan starts a span tagged with the session and turn carried by ctx. The first span
// of a turn stores its trace id in the returned context so log lines can be correlated.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs = append(attrs, contextAttributes(ctx)...)

	ctx, span := otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

func contextAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if s := GetSession(ctx); s != "" {
		attrs = append(attrs, attribute.String("goose.session", s))
	}
	if id := GetTurnID(ctx); id != "" {
		attrs = append(attrs, attribute.String("goose.turn_id", id))
	}
	return attrs
}
