package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/backoff"
	"github.com/xraph/flowwork/ext"
	"github.com/xraph/flowwork/id"
	mw "github.com/xraph/flowwork/middleware"
	"github.com/xraph/flowwork/observability"
	"github.com/xraph/flowwork/queue"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
	"github.com/xraph/flowwork/worker"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xraph/flowwork"

// Engine drives runs: it starts them, ticks them inside a store
// transaction, and aborts or retries them on request.
type Engine struct {
	store      run.Store
	config     flowwork.Config
	logger     *slog.Logger
	extensions *ext.Registry
	resolver   work.Resolver
	bo         backoff.Strategy
	now        func() time.Time

	mws   []mw.Middleware
	chain mw.Middleware

	lanes  []queue.Config
	queues *queue.Manager
	pool   *worker.Pool

	pendingExts    []ext.Extension
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	stopped atomic.Bool
}

// New builds an Engine. A store is required.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: flowwork.DefaultConfig(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.store == nil {
		return nil, flowwork.ErrNoStore
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}
	if e.config.MaxWaitBackoff > 0 {
		e.bo = backoff.Capped{Strategy: e.bo, Max: e.config.MaxWaitBackoff}
	}

	e.extensions = ext.NewRegistry(e.logger)
	if e.meterProvider != nil {
		e.extensions.Register(observability.NewMetricsExtensionWithMeter(
			e.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		e.extensions.Register(observability.NewMetricsExtension())
	}
	for _, x := range e.pendingExts {
		e.extensions.Register(x)
	}

	e.chain = mw.Chain(e.middlewares()...)

	e.queues = queue.NewManager(e.lanes...)
	if e.config.TickRate > 0 {
		e.queues.SetConfig(queue.Config{
			Name:      queue.Wildcard,
			RateLimit: e.config.TickRate,
			RateBurst: e.config.TickBurst,
		})
	}

	e.pool = worker.NewPool(e.store, e, e.logger,
		worker.WithConcurrency(e.config.Concurrency),
		worker.WithPollInterval(e.config.PollInterval),
		worker.WithLeaseDuration(e.config.LeaseDuration),
		worker.WithAdmitter(e.queues),
		worker.WithClock(e.now),
	)
	return e, nil
}

// middlewares builds the tick chain: recover, tracing, metrics, logging,
// timeout, then user middleware.
func (e *Engine) middlewares() []mw.Middleware {
	tracing := mw.Tracing()
	if e.tracerProvider != nil {
		tracing = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if e.meterProvider != nil {
		metrics = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	}
	all := []mw.Middleware{
		mw.Recover(e.logger),
		tracing,
		metrics,
		mw.Logging(e.logger),
		mw.Timeout(e.config.TickTimeout, e.logger),
	}
	return append(all, e.mws...)
}

// Start encodes root, persists a new run and performs its first tick.
// A tick error is returned together with the persisted run.
func (e *Engine) Start(ctx context.Context, name string, root *work.Step, env map[string]string) (*run.Run, error) {
	if e.stopped.Load() {
		return nil, flowwork.ErrEngineStopped
	}
	if root.Status().Started() {
		return nil, fmt.Errorf("start run %q: root step already started", name)
	}
	tree, err := work.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("start run %q: %w", name, err)
	}
	r := e.newRun(name, tree, env)
	if err := e.store.CreateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("start run %q: %w", name, err)
	}
	return e.Tick(ctx, r.ID)
}

func (e *Engine) newRun(name string, tree []byte, env map[string]string) *run.Run {
	now := e.now()
	return &run.Run{
		ID:         id.NewRunID(),
		Name:       name,
		State:      run.StatePending,
		Tree:       tree,
		Env:        env,
		Attempt:    1,
		NextTickAt: now,
		CreatedAt:  now,
	}
}

// Abort requests an abort and ticks the run so the abort takes effect in
// the same transactional scope as any other tick.
func (e *Engine) Abort(ctx context.Context, runID id.RunID) (*run.Run, error) {
	if e.stopped.Load() {
		return nil, flowwork.ErrEngineStopped
	}
	err := e.store.Transact(ctx, runID, func(r *run.Run) error {
		if r.State.Terminal() {
			return fmt.Errorf("%w: %s", flowwork.ErrRunFinished, r.ID)
		}
		r.AbortRequested = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("abort run %s: %w", runID, err)
	}
	r, err := e.Tick(ctx, runID)
	if errors.Is(err, flowwork.ErrLeaseHeld) {
		// The lease holder applies the abort on its next tick.
		return e.store.GetRun(ctx, runID)
	}
	return r, err
}

// Retry builds a retried copy of a finished run's tree. With dryRun the
// plan is returned unsaved and nothing is written. Otherwise the new run is
// persisted, linked to the old one and ticked once.
func (e *Engine) Retry(ctx context.Context, runID id.RunID, dryRun bool) (*run.Run, *work.Progress, error) {
	if e.stopped.Load() && !dryRun {
		return nil, nil, flowwork.ErrEngineStopped
	}
	prev, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case !prev.State.Terminal():
		return nil, nil, fmt.Errorf("%w: %s is %s", flowwork.ErrRunNotFinished, prev.ID, prev.State)
	case !prev.RetriedBy.IsNil():
		return nil, nil, fmt.Errorf("%w: %s by %s", flowwork.ErrRunRetried, prev.ID, prev.RetriedBy)
	}

	root, err := work.Unmarshal(prev.Tree)
	if err != nil {
		return nil, nil, err
	}
	if root.Terminal() && !root.IgnoresFailure() && root.Outcome().Kind() == work.KindSuccess {
		return nil, nil, fmt.Errorf("%w: %s", flowwork.ErrRunSucceeded, prev.ID)
	}

	wctx := e.newContext(ctx, prev, nil)
	retried := root
	if root.Status().Started() {
		// Runs aborted before their first tick keep a fresh tree.
		retried, err = root.Retry(wctx, dryRun)
		if err != nil {
			return nil, nil, fmt.Errorf("retry run %s: %w", prev.ID, err)
		}
	}
	tree, err := work.Marshal(retried)
	if err != nil {
		return nil, nil, err
	}

	next := e.newRun(prev.Name, tree, wctx.Env())
	next.Attempt = prev.Attempt + 1
	next.RetryOf = prev.ID

	if dryRun {
		p := retried.Progress(e.newContext(ctx, next, nil))
		return next, &p, nil
	}

	if err := e.store.CreateRun(ctx, next); err != nil {
		return nil, nil, fmt.Errorf("retry run %s: %w", prev.ID, err)
	}
	err = e.store.Transact(ctx, prev.ID, func(r *run.Run) error {
		if !r.RetriedBy.IsNil() {
			return fmt.Errorf("%w: %s by %s", flowwork.ErrRunRetried, r.ID, r.RetriedBy)
		}
		r.RetriedBy = next.ID
		prev = r
		return nil
	})
	if err != nil {
		if delErr := e.store.DeleteRun(ctx, next.ID); delErr != nil {
			e.logger.Warn("discard unlinked retry",
				slog.String("run_id", next.ID.String()),
				slog.Any("error", delErr),
			)
		}
		return nil, nil, fmt.Errorf("retry run %s: %w", runID, err)
	}
	e.extensions.EmitRunRetried(ctx, prev, next)

	ticked, tickErr := e.Tick(ctx, next.ID)
	if ticked == nil {
		ticked = next
	}
	p, err := e.Progress(ctx, ticked.ID)
	if err != nil {
		return ticked, nil, err
	}
	return ticked, p, tickErr
}

// Progress returns the progress tree of a run. Side links are resolved
// through the configured resolver with the shared cache enabled.
func (e *Engine) Progress(ctx context.Context, runID id.RunID) (*work.Progress, error) {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	root, err := work.Unmarshal(r.Tree)
	if err != nil {
		return nil, err
	}
	sess := newSession(r, root, e.resolver)
	sess.SetSharedCache(true)
	p := root.Progress(e.newContext(ctx, r, sess))
	return &p, nil
}

// Get returns a run by ID.
func (e *Engine) Get(ctx context.Context, runID id.RunID) (*run.Run, error) {
	return e.store.GetRun(ctx, runID)
}

// List returns runs matching opts, newest first.
func (e *Engine) List(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	return e.store.ListRuns(ctx, opts)
}

// StartWorkers launches the polling worker pool. It returns immediately.
func (e *Engine) StartWorkers(ctx context.Context) error {
	if e.stopped.Load() {
		return flowwork.ErrEngineStopped
	}
	return e.pool.Start(ctx)
}

// Shutdown stops the worker pool, waiting up to Config.ShutdownTimeout for
// in-flight ticks, and notifies extensions. Later calls to Start, Tick,
// Abort or Retry fail with flowwork.ErrEngineStopped.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancel()

	err := e.pool.Stop(stopCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		e.logger.Warn("shutdown timed out waiting for ticks",
			slog.Duration("timeout", e.config.ShutdownTimeout),
		)
	}
	e.extensions.EmitShutdown(ctx)
	return err
}

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Queues returns the lane admission manager used by the worker pool.
func (e *Engine) Queues() *queue.Manager { return e.queues }

// Pool returns the worker pool.
func (e *Engine) Pool() *worker.Pool { return e.pool }

// Config returns the validated configuration.
func (e *Engine) Config() flowwork.Config { return e.config }
