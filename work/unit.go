package work

import "github.com/xraph/flowwork"

// Unit is a pluggable piece of executable logic. Sequence and Scatter are
// units too, which is how trees nest.
//
// Units are persisted between ticks with the codec in this package, so
// concrete types must be registered with Register and must round-trip
// through encoding/json.
type Unit interface {
	// Execute starts the work. It returns a terminal or waiting outcome.
	// A returned error aborts the tick and rolls back its transaction.
	Execute(wctx *Context) (Outcome, error)

	// OnFinish is called once the owning step reaches a terminal outcome.
	// Errors are logged and otherwise ignored.
	OnFinish(out Outcome, wctx *Context) error

	// Retry returns a fresh unit that repeats this work. Units that cannot
	// be retried return flowwork.ErrRetryUnsupported. With dryRun set the
	// unit must not change any durable state.
	Retry(wctx *Context, dryRun bool) (Unit, error)
}

// Base provides default OnFinish and Retry implementations. Embed it in
// units that do not need them.
type Base struct{}

// OnFinish does nothing.
func (Base) OnFinish(Outcome, *Context) error { return nil }

// Retry reports flowwork.ErrRetryUnsupported.
func (Base) Retry(*Context, bool) (Unit, error) { return nil, flowwork.ErrRetryUnsupported }

// Describer is implemented by units that provide a human-readable
// description for progress reports.
type Describer interface {
	Description() string
}

// Callback is notified when a Sequence finishes.
type Callback interface {
	OnFinish(out Outcome, wctx *Context) error
}

// Composite is implemented by units that own child steps.
type Composite interface {
	// Children returns the child steps in reporting order.
	Children() []*Step
	Parallel() bool
}
