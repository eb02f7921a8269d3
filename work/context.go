package work

import (
	"context"
	"log/slog"
	"maps"
	"time"
)

// EntityRef identifies a domain entity touched while a step ran.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Listener receives side links reported by units. The context holds at
// most one listener at a time; Step installs its own around every
// execute, abort and retry call.
type Listener interface {
	EntityTouched(ref EntityRef)
	ChildCommandAdded(ref string)
	ChildCommandRemoved(ref string) bool
}

// Observer is notified of step lifecycle transitions. Observers must not
// mutate the step.
type Observer interface {
	StepStarted(wctx *Context, s *Step)
	StepFinished(wctx *Context, s *Step)
	StepTimedOut(wctx *Context, s *Step, elapsed time.Duration)
}

// Tx is the transactional scope a run executes in. The hints are opaque
// to the core: Scatter enables them for the duration of its own calls.
type Tx interface {
	// Flush writes pending changes into the open transaction.
	Flush(ctx context.Context) error

	// SetBatchCommit toggles deferring writes until commit and returns the
	// previous setting.
	SetBatchCommit(on bool) bool

	// SetSharedCache toggles a cache shared across steps and returns the
	// previous setting.
	SetSharedCache(on bool) bool
}

// NopTx is a Tx without a backing store.
type NopTx struct {
	batch, cache bool
}

// Flush implements Tx; there is nothing to write.
func (t *NopTx) Flush(context.Context) error { return nil }

// SetBatchCommit implements Tx and only records the hint.
func (t *NopTx) SetBatchCommit(on bool) bool {
	prev := t.batch
	t.batch = on
	return prev
}

// SetSharedCache implements Tx and only records the hint.
func (t *NopTx) SetSharedCache(on bool) bool {
	prev := t.cache
	t.cache = on
	return prev
}

// Context is threaded through every unit call of a run. It is shared by
// every step in the tree and mutated only by the unit currently running.
type Context struct {
	ctx      context.Context
	env      map[string]string
	tx       Tx
	listener Listener
	logger   *slog.Logger
	observer Observer
	resolver Resolver
	now      func() time.Time
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithEnv seeds the environment registry. The map is copied.
func WithEnv(env map[string]string) ContextOption {
	return func(c *Context) { c.env = maps.Clone(env) }
}

// WithTx sets the transactional scope.
func WithTx(tx Tx) ContextOption {
	return func(c *Context) { c.tx = tx }
}

// WithLogger sets the logger used for swallowed hook errors and timeouts.
func WithLogger(l *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = l }
}

// WithObserver sets the step lifecycle observer.
func WithObserver(o Observer) ContextOption {
	return func(c *Context) { c.observer = o }
}

// WithResolver sets the resolver used to build progress reports.
func WithResolver(r Resolver) ContextOption {
	return func(c *Context) { c.resolver = r }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) ContextOption {
	return func(c *Context) { c.now = now }
}

// NewContext creates an execution context bound to ctx.
func NewContext(ctx context.Context, opts ...ContextOption) *Context {
	c := &Context{
		ctx:    ctx,
		tx:     &NopTx{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.env == nil {
		c.env = make(map[string]string)
	}
	return c
}

// Context returns the underlying context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Get returns an environment value.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// Put sets an environment value.
func (c *Context) Put(key, value string) { c.env[key] = value }

// Delete removes an environment value.
func (c *Context) Delete(key string) { delete(c.env, key) }

// Env returns a copy of the environment registry.
func (c *Context) Env() map[string]string { return maps.Clone(c.env) }

// Tx returns the transaction handle the run executes in.
func (c *Context) Tx() Tx { return c.tx }

// Logger returns the run-scoped logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Resolver returns the resolver for entity references.
func (c *Context) Resolver() Resolver { return c.resolver }

// Now returns the current time from the context clock.
func (c *Context) Now() time.Time { return c.now() }

// Listener returns the installed listener, or a no-op one.
func (c *Context) Listener() Listener {
	if c.listener == nil {
		return nopListener{}
	}
	return c.listener
}

// EntityTouched reports a domain entity to the running step.
func (c *Context) EntityTouched(ref EntityRef) { c.Listener().EntityTouched(ref) }

// ChildCommandAdded reports a spawned command to the running step.
func (c *Context) ChildCommandAdded(ref string) { c.Listener().ChildCommandAdded(ref) }

// ChildCommandRemoved withdraws a previously reported command.
func (c *Context) ChildCommandRemoved(ref string) bool {
	return c.Listener().ChildCommandRemoved(ref)
}

// useListener installs l and returns a func restoring the previous one.
func (c *Context) useListener(l Listener) func() {
	prev := c.listener
	c.listener = l
	return func() { c.listener = prev }
}

// useHints enables the requested hints on the Tx. The returned func
// restores the previous settings.
func (c *Context) useHints(batchCommit, sharedCache bool) (func(), error) {
	if !batchCommit && !sharedCache {
		return func() {}, nil
	}
	var prevBatch, prevCache bool
	if batchCommit {
		if err := c.tx.Flush(c.ctx); err != nil {
			return nil, err
		}
		prevBatch = c.tx.SetBatchCommit(true)
	}
	if sharedCache {
		prevCache = c.tx.SetSharedCache(true)
	}
	return func() {
		if batchCommit {
			c.tx.SetBatchCommit(prevBatch)
		}
		if sharedCache {
			c.tx.SetSharedCache(prevCache)
		}
	}, nil
}

func (c *Context) stepStarted(s *Step) {
	if c.observer != nil {
		c.observer.StepStarted(c, s)
	}
}

func (c *Context) stepFinished(s *Step) {
	if c.observer != nil {
		c.observer.StepFinished(c, s)
	}
}

func (c *Context) stepTimedOut(s *Step, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.StepTimedOut(c, s, elapsed)
	}
}

type nopListener struct{}

func (nopListener) EntityTouched(EntityRef) {}
func (nopListener) ChildCommandAdded(string) {}
func (nopListener) ChildCommandRemoved(string) bool { return false }
