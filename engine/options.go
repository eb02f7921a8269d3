package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/backoff"
	"github.com/xraph/flowwork/ext"
	mw "github.com/xraph/flowwork/middleware"
	"github.com/xraph/flowwork/queue"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithStore sets the run store. Required.
func WithStore(s run.Store) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithConfig replaces the default configuration. The config is validated
// when the engine is built.
func WithConfig(cfg flowwork.Config) Option {
	return func(e *Engine) error {
		e.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) error {
		e.pendingExts = append(e.pendingExts, x)
		return nil
	}
}

// WithMiddleware appends middleware to the tick chain. User middleware
// runs inside the built-in recover, tracing, metrics, logging and timeout
// layers.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(e *Engine) error {
		e.mws = append(e.mws, m...)
		return nil
	}
}

// WithResolver sets the resolver used for progress side links.
func WithResolver(r work.Resolver) Option {
	return func(e *Engine) error {
		e.resolver = r
		return nil
	}
}

// WithBackoff sets the delay strategy between ticks of a waiting run.
// The strategy is capped at Config.MaxWaitBackoff.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) error {
		e.bo = b
		return nil
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// WithRateLimit registers per-lane admission limits for the worker pool.
// Lanes are run names; a config named queue.Wildcard applies to every
// lane without its own config.
func WithRateLimit(lanes ...queue.Config) Option {
	return func(e *Engine) error {
		e.lanes = append(e.lanes, lanes...)
		return nil
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) error {
		e.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) error {
		e.meterProvider = mp
		return nil
	}
}
