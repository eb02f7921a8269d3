package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/flowwork/run"
)

// tracerName is the instrumentation scope name for flowwork tracing.
const tracerName = "github.com/xraph/flowwork"

// Tracing returns middleware that wraps each tick in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is
// used and this middleware becomes a pass-through.
//
// Span attributes: flowwork.run.id, flowwork.run.name, flowwork.run.attempt,
// flowwork.run.tick, and flowwork.run.state once the tick returns. A tick
// that moves the run to another state adds a "state_changed" event.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		before := r.State
		ctx, span := tracer.Start(ctx, "flowwork.run.tick",
			trace.WithAttributes(
				attribute.String("flowwork.run.id", r.ID.String()),
				attribute.String("flowwork.run.name", r.Name),
				attribute.Int("flowwork.run.attempt", r.Attempt),
				attribute.Int("flowwork.run.tick", r.Ticks+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)

		span.SetAttributes(attribute.String("flowwork.run.state", string(r.State)))
		if r.State != before {
			span.AddEvent("state_changed", trace.WithAttributes(
				attribute.String("from", string(before)),
				attribute.String("to", string(r.State)),
			))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
