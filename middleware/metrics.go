package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/flowwork/run"
)

// meterName is the instrumentation scope name for flowwork metrics.
const meterName = "github.com/xraph/flowwork"

// Metrics returns middleware that records per-tick metrics using the global
// OTel MeterProvider.
//
// Instruments:
//   - flowwork.tick.duration (Float64Histogram): tick time in seconds
//   - flowwork.tick.executions (Int64Counter): total ticks
//   - flowwork.tick.transitions (Int64Counter): ticks that moved the run
//     to a different state, with from_state and to_state attributes
//
// Duration and executions carry run_name, status ("ok" or "error") and
// state, the run state after the tick.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"flowwork.tick.duration",
		metric.WithDescription("Duration of run ticks in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"flowwork.tick.executions",
		metric.WithDescription("Total number of run ticks"),
		metric.WithUnit("{tick}"),
	)
	transitions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"flowwork.tick.transitions",
		metric.WithDescription("Ticks that changed the run state"),
		metric.WithUnit("{tick}"),
	)

	return func(ctx context.Context, r *run.Run, next Handler) error {
		before := r.State
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("run_name", r.Name),
			attribute.String("status", status),
			attribute.String("state", string(r.State)),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		if r.State != before {
			transitions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("run_name", r.Name),
				attribute.String("from_state", string(before)),
				attribute.String("to_state", string(r.State)),
			))
		}
		return err
	}
}
