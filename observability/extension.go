package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/flowwork/ext"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.RunStarted   = (*MetricsExtension)(nil)
	_ ext.RunWaiting   = (*MetricsExtension)(nil)
	_ ext.RunSucceeded = (*MetricsExtension)(nil)
	_ ext.RunFailed    = (*MetricsExtension)(nil)
	_ ext.RunAborted   = (*MetricsExtension)(nil)
	_ ext.RunRetried   = (*MetricsExtension)(nil)
	_ ext.TickFailed   = (*MetricsExtension)(nil)
	_ ext.StepFinished = (*MetricsExtension)(nil)
	_ ext.StepTimedOut = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/flowwork/observability"

// MetricsExtension records system-wide lifecycle metrics via an OTel meter.
//
// Instruments, all with a run_name attribute:
//   - flowwork.run.started, flowwork.run.waiting, flowwork.run.retried,
//     flowwork.tick.failed (Int64Counter)
//   - flowwork.run.finished (Int64Counter) with a state attribute
//   - flowwork.run.duration (Float64Histogram, seconds) with a state attribute
//   - flowwork.step.finished (Int64Counter) with a state attribute
//   - flowwork.step.timed_out (Int64Counter)
type MetricsExtension struct {
	runStarted   metric.Int64Counter
	runWaiting   metric.Int64Counter
	runFinished  metric.Int64Counter
	runDuration  metric.Float64Histogram
	runRetried   metric.Int64Counter
	tickFailed   metric.Int64Counter
	stepFinished metric.Int64Counter
	stepTimedOut metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the API returns noop instruments.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"flowwork.run.duration",
		metric.WithDescription("Wall time from first tick to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		runStarted:   counter("flowwork.run.started", "Runs that completed their first tick"),
		runWaiting:   counter("flowwork.run.waiting", "Ticks that left a run waiting"),
		runFinished:  counter("flowwork.run.finished", "Runs that reached a terminal state"),
		runDuration:  duration,
		runRetried:   counter("flowwork.run.retried", "Runs created by retry"),
		tickFailed:   counter("flowwork.tick.failed", "Ticks rolled back by a unit error"),
		stepFinished: counter("flowwork.step.finished", "Steps that reached a terminal outcome"),
		stepTimedOut: counter("flowwork.step.timed_out", "Steps aborted by their timeout"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func runAttrs(r *run.Run, kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("run_name", r.Name)}, kv...)...)
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *run.Run) error {
	m.runStarted.Add(ctx, 1, runAttrs(r))
	return nil
}

// OnRunWaiting implements ext.RunWaiting.
func (m *MetricsExtension) OnRunWaiting(ctx context.Context, r *run.Run, _ time.Time) error {
	m.runWaiting.Add(ctx, 1, runAttrs(r))
	return nil
}

// OnRunSucceeded implements ext.RunSucceeded.
func (m *MetricsExtension) OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	m.finished(ctx, r, elapsed)
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	m.finished(ctx, r, elapsed)
	return nil
}

// OnRunAborted implements ext.RunAborted.
func (m *MetricsExtension) OnRunAborted(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	m.finished(ctx, r, elapsed)
	return nil
}

func (m *MetricsExtension) finished(ctx context.Context, r *run.Run, elapsed time.Duration) {
	attrs := runAttrs(r, attribute.String("state", string(r.State)))
	m.runFinished.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// OnRunRetried implements ext.RunRetried.
func (m *MetricsExtension) OnRunRetried(ctx context.Context, _, next *run.Run) error {
	m.runRetried.Add(ctx, 1, runAttrs(next))
	return nil
}

// OnTickFailed implements ext.TickFailed.
func (m *MetricsExtension) OnTickFailed(ctx context.Context, r *run.Run, _ error) error {
	m.tickFailed.Add(ctx, 1, runAttrs(r))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepFinished implements ext.StepFinished.
func (m *MetricsExtension) OnStepFinished(ctx context.Context, r *run.Run, s *work.Step, _ time.Duration) error {
	m.stepFinished.Add(ctx, 1, runAttrs(r, attribute.String("state", string(s.State()))))
	return nil
}

// OnStepTimedOut implements ext.StepTimedOut.
func (m *MetricsExtension) OnStepTimedOut(ctx context.Context, r *run.Run, _ *work.Step, _ time.Duration) error {
	m.stepTimedOut.Add(ctx, 1, runAttrs(r))
	return nil
}
