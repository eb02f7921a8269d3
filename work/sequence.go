package work

import (
	"fmt"
	"slices"
)

// notRun is the cursor of a sequence that has not started.
const notRun = -1

// Sequence runs its steps one at a time in order, then an optional
// finally step. A step that fails without ignoring failure skips the rest
// of the main steps; the finally step runs in every case.
//
// The cursor holds the index of the step to run next: 0..N-1 for main
// steps, N for the finally step, and N (no finally) or N+1 once done.
type Sequence struct {
	steps    []*Step
	finally  *Step
	callback Callback
	cursor   int
	aborting bool
}

var (
	_ Unit      = (*Sequence)(nil)
	_ Outcome   = (*Sequence)(nil)
	_ Composite = (*Sequence)(nil)
)

// SequenceOption configures a Sequence.
type SequenceOption func(*Sequence)

// WithFinally sets the step that always runs after the main steps. It
// reruns on every retry, so it must be idempotent.
func WithFinally(step *Step) SequenceOption {
	return func(q *Sequence) { q.finally = step }
}

// WithCallback sets a callback notified when the sequence finishes.
func WithCallback(cb Callback) SequenceOption {
	return func(q *Sequence) { q.callback = cb }
}

// NewSequence builds a sequence over steps.
func NewSequence(steps []*Step, opts ...SequenceOption) *Sequence {
	q := &Sequence{steps: steps, cursor: notRun}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Steps returns the main steps.
func (q *Sequence) Steps() []*Step { return q.steps }

// Finally returns the finally step, or nil.
func (q *Sequence) Finally() *Step { return q.finally }

// Cursor returns the index of the next step to run.
func (q *Sequence) Cursor() int { return q.cursor }

// Children implements Composite. The finally step comes last.
func (q *Sequence) Children() []*Step {
	if q.finally == nil {
		return q.steps
	}
	return append(q.steps[:len(q.steps):len(q.steps)], q.finally)
}

// Parallel implements Composite.
func (q *Sequence) Parallel() bool { return false }

func (q *Sequence) finallyIndex() int { return len(q.steps) }

func (q *Sequence) doneIndex() int {
	if q.finally != nil {
		return len(q.steps) + 1
	}
	return len(q.steps)
}

func (q *Sequence) stepAt(i int) *Step {
	if i < len(q.steps) {
		return q.steps[i]
	}
	return q.finally
}

// Execute advances through the steps until one is waiting or the
// sequence is done. The sequence is its own outcome.
func (q *Sequence) Execute(wctx *Context) (Outcome, error) {
	if wctx == nil {
		panic("work: sequence execute requires a context")
	}
	if len(q.steps) == 0 {
		return Success("no steps to run"), nil
	}
	if q.cursor == notRun {
		q.cursor = 0
	}
	for q.Waiting() {
		step := q.stepAt(q.cursor)
		if err := step.Execute(wctx); err != nil {
			return nil, err
		}
		if step.Waiting() {
			return q, nil
		}
		if step != q.finally && (q.aborting || step.Kind() != KindSuccess) {
			q.cursor = q.finallyIndex()
			continue
		}
		q.cursor++
	}
	return q, nil
}

// Resume continues from the step the cursor points at.
func (q *Sequence) Resume(wctx *Context) (Outcome, error) {
	return q.Execute(wctx)
}

// Waiting reports whether steps remain to run.
func (q *Sequence) Waiting() bool {
	return len(q.steps) > 0 && q.cursor != q.doneIndex()
}

// Abort aborts the step currently running. No further main step starts;
// the finally step runs on a later resumption. A step that is still
// winding down after its abort keeps the cursor and is resumed until it
// is terminal. When the finally step itself is aborted, the sequence ends
// once that step does.
func (q *Sequence) Abort(wctx *Context) (bool, error) {
	cur := q.currentStep()
	if cur == nil {
		panic("work: abort called on a sequence that never started")
	}
	cur.Abort(wctx) //nolint:errcheck // Step.Abort never returns an error
	q.aborting = true
	switch {
	case cur == q.finally && cur.Waiting():
		q.cursor = q.finallyIndex()
	case cur == q.finally:
		q.cursor = q.doneIndex()
	case cur.Waiting():
		q.cursor = slices.Index(q.steps, cur)
	default:
		q.cursor = q.finallyIndex()
	}
	return true, nil
}

// Aborting reports whether the sequence was aborted.
func (q *Sequence) Aborting() bool { return q.aborting }

// Kind returns the kind of the decisive step.
func (q *Sequence) Kind() Kind {
	step := q.decisiveStep()
	if step == nil || q.Waiting() || !step.Terminal() {
		panic("work: kind requested before the sequence finished")
	}
	return step.Kind()
}

// Message returns the message of the decisive step.
func (q *Sequence) Message() string {
	if step := q.decisiveStep(); step != nil {
		return step.Message()
	}
	return ""
}

// OnFinish notifies the callback, if any.
func (q *Sequence) OnFinish(out Outcome, wctx *Context) error {
	if q.callback == nil {
		return nil
	}
	return q.callback.OnFinish(out, wctx)
}

// Retry returns a new sequence that replaces the one retry-eligible main
// step, keeps every other main step, and always reruns the finally step.
// It panics if more than one main step is eligible.
func (q *Sequence) Retry(wctx *Context, dryRun bool) (Unit, error) {
	if n := countEligible(q.steps); n > 1 {
		panic(fmt.Sprintf("work: sequence has %d retry-eligible steps, expected at most one", n))
	}
	steps, replaced, err := retrySteps(wctx, q.steps, dryRun)
	if err != nil {
		return nil, err
	}

	next := &Sequence{steps: steps, callback: q.callback, cursor: notRun}
	if q.finally != nil {
		next.finally = q.finally
		if q.finally.status.Started() {
			if next.finally, err = q.finally.retry(wctx, dryRun); err != nil {
				return nil, err
			}
		}
	}

	if len(replaced) == 1 {
		next.cursor = replaced[0]
	} else {
		next.cursor = firstPending(steps)
	}
	return next, nil
}

// currentStep returns the step that ran most recently, including the
// finally step.
func (q *Sequence) currentStep() *Step {
	if q.finally != nil && q.finally.status.Started() {
		return q.finally
	}
	return q.lastMainStep()
}

func (q *Sequence) lastMainStep() *Step {
	var last *Step
	for _, s := range q.steps {
		if !s.status.Started() {
			break
		}
		last = s
	}
	return last
}

// decisiveStep is the last main step that ran, unless it succeeded and a
// finally step that does not ignore failure exists, in which case the
// finally step decides.
func (q *Sequence) decisiveStep() *Step {
	last := q.lastMainStep()
	if last == nil {
		return nil
	}
	if q.finally != nil && !q.finally.ignoreFailure && last.Terminal() && last.Kind() == KindSuccess {
		return q.finally
	}
	return last
}

// firstPending returns the index of the first main step that is not
// done, or the finally stage index when all are.
func firstPending(steps []*Step) int {
	for i, s := range steps {
		if s.status != StatusDone {
			return i
		}
	}
	return len(steps)
}
