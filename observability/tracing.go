// Package observability also wires OpenTelemetry distributed tracing:
// a server span per HTTP request through the router, propagated via
// W3C Traceparent and exported through a pluggable trace.SpanExporter (a
// zerolog-backed exporter is provided for local/dev use).
package observability

import (
	"context"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AlfredDev/virtualize"

// NewTracerProvider builds an SDK TracerProvider exporting through the
// given exporter, and installs it as the global otel tracer provider along
// with the W3C TraceContext propagator.
func NewTracerProvider(exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp
}

// Tracer returns the package's named tracer off the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// LogExporter writes completed spans as structured log entries, for local
// development where no collector is running.
type LogExporter struct {
	logger zerolog.Logger
}

func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger.With().Str("exporter", "log").Logger()}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		ev := e.logger.Debug().
			Str("name", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Str("span_id", s.SpanContext().SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime())).
			Str("status", s.Status().Code.String())
		for _, a := range s.Attributes() {
			ev = ev.Str(string(a.Key), a.Value.Emit())
		}
		ev.Msg("span")
	}
	return nil
}

func (e *LogExporter) Shutdown(ctx context.Context) error { return nil }

// TracingMiddleware starts a server span for each HTTP request, extracting
// any incoming W3C Traceparent header and propagating it back on the
// response for downstream correlation.
func TracingMiddleware(next http.Handler) http.Handler {
	propagator := propagation.TraceContext{}
	tracer := Tracer()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.String("http.host", r.Host),
		)
		if reqID := chimw.GetReqID(ctx); reqID != "" {
			span.SetAttributes(attribute.String("request_id", reqID))
		}

		carrier := propagation.HeaderCarrier(w.Header())
		propagator.Inject(ctx, carrier)

		rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rw.Status()))
		if rw.Status() >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rw.Status()))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	})
}
