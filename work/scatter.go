package work

import (
	"fmt"
	"strings"
)

// Scatter starts all of its steps together and gathers their outcomes.
// The group is waiting while any step is; once all are terminal it
// fails if any step failed or aborted without ignoring failure.
//
// The batch-commit and shared-cache hints are passed to the context's
// Tx for the duration of each call and restored afterwards.
type Scatter struct {
	steps       []*Step
	batchCommit bool
	sharedCache bool
	aborted     bool
}

var (
	_ Unit      = (*Scatter)(nil)
	_ Outcome   = (*Scatter)(nil)
	_ Composite = (*Scatter)(nil)
)

// ScatterOption configures a Scatter.
type ScatterOption func(*Scatter)

// WithBatchCommit defers writes of the fan-out until commit.
func WithBatchCommit() ScatterOption {
	return func(g *Scatter) { g.batchCommit = true }
}

// WithSharedCache enables the cache shared across the group's steps.
func WithSharedCache() ScatterOption {
	return func(g *Scatter) { g.sharedCache = true }
}

// NewScatter builds a fan-out group over steps.
func NewScatter(steps []*Step, opts ...ScatterOption) *Scatter {
	g := &Scatter{steps: steps}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Steps returns the group's steps.
func (g *Scatter) Steps() []*Step { return g.steps }

// Children implements Composite.
func (g *Scatter) Children() []*Step { return g.steps }

// Parallel implements Composite.
func (g *Scatter) Parallel() bool { return true }

// Execute gives every step that has not started its first execution.
func (g *Scatter) Execute(wctx *Context) (Outcome, error) {
	if wctx == nil {
		panic("work: scatter execute requires a context")
	}
	restore, err := wctx.useHints(g.batchCommit, g.sharedCache)
	if err != nil {
		return nil, err
	}
	defer restore()

	for _, s := range g.steps {
		if s.status != StatusNotStarted {
			continue
		}
		if err := s.Execute(wctx); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Resume polls every step that is not yet terminal.
func (g *Scatter) Resume(wctx *Context) (Outcome, error) {
	restore, err := wctx.useHints(g.batchCommit, g.sharedCache)
	if err != nil {
		return nil, err
	}
	defer restore()

	for _, s := range g.steps {
		pending := s.status == StatusNotStarted && !g.aborted
		if !pending && !s.Waiting() {
			continue
		}
		if err := s.Execute(wctx); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Waiting reports whether any step still needs to run.
func (g *Scatter) Waiting() bool {
	for _, s := range g.steps {
		if s.Waiting() || (s.status == StatusNotStarted && !g.aborted) {
			return true
		}
	}
	return false
}

// Kind is KindFailure if any started step reports a non-success kind.
func (g *Scatter) Kind() Kind {
	if g.Waiting() {
		panic("work: kind requested while the scatter group is waiting")
	}
	if len(g.failed()) > 0 {
		return KindFailure
	}
	return KindSuccess
}

// Message summarizes the group.
func (g *Scatter) Message() string {
	total := len(g.steps)
	if g.Waiting() {
		done := 0
		for _, s := range g.steps {
			if s.Terminal() {
				done++
			}
		}
		return fmt.Sprintf("%d of %d steps finished", done, total)
	}
	failed := g.failed()
	if len(failed) == 0 {
		return fmt.Sprintf("%d steps succeeded", total)
	}
	msgs := make([]string, 0, len(failed))
	for _, s := range failed {
		msgs = append(msgs, s.Description()+": "+s.Message())
	}
	return fmt.Sprintf("%d of %d steps failed: %s", len(failed), total, strings.Join(msgs, "; "))
}

// Abort aborts every running step and stops steps that have not started
// from being started. The group stays trusted while any aborted step is
// still winding down.
func (g *Scatter) Abort(wctx *Context) (bool, error) {
	g.aborted = true
	for _, s := range g.steps {
		if s.status == StatusRunning {
			s.Abort(wctx) //nolint:errcheck // Step.Abort never returns an error
		}
	}
	return g.Waiting(), nil
}

// OnFinish implements Unit.
func (g *Scatter) OnFinish(Outcome, *Context) error { return nil }

// Retry returns a new group replacing every retry-eligible step.
func (g *Scatter) Retry(wctx *Context, dryRun bool) (Unit, error) {
	steps, _, err := retrySteps(wctx, g.steps, dryRun)
	if err != nil {
		return nil, err
	}
	return &Scatter{steps: steps, batchCommit: g.batchCommit, sharedCache: g.sharedCache}, nil
}

func (g *Scatter) failed() []*Step {
	var out []*Step
	for _, s := range g.steps {
		if s.Terminal() && s.Kind() != KindSuccess {
			out = append(out, s)
		}
	}
	return out
}
