package work

import (
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Step wraps one Unit with a lifecycle: status, timestamps, an optional
// timeout, a failure-ignoring policy, and the side links reported while
// it ran. A Step is built once per attempt; Retry returns a new Step.
//
// Step is itself an Outcome, so the root of a run is simply a Step that
// the driver resumes while it is waiting.
type Step struct {
	unit          Unit
	outcome       Outcome
	status        Status
	description   string
	ignoreFailure bool
	timeout       time.Duration

	timedOut     bool
	abortTrusted bool
	finished     bool
	startedAt    time.Time
	endedAt      time.Time

	childCommands []string
	entities      []EntityRef
}

var _ Outcome = (*Step)(nil)

// StepOption configures a Step.
type StepOption func(*Step)

// WithDescription overrides the description reported for the step.
func WithDescription(desc string) StepOption {
	return func(s *Step) { s.description = desc }
}

// IgnoreFailure makes a failed or aborted step count as successful for
// sequencing. Its outcome still reports the real kind.
func IgnoreFailure() StepOption {
	return func(s *Step) { s.ignoreFailure = true }
}

// WithTimeout aborts the step once d has elapsed since its first execution
// and it is still waiting. Zero disables the timeout.
func WithTimeout(d time.Duration) StepOption {
	return func(s *Step) {
		if d < 0 {
			panic(fmt.Sprintf("work: negative step timeout %s", d))
		}
		s.timeout = d
	}
}

// NewStep wraps unit in a not-yet-started step.
func NewStep(unit Unit, opts ...StepOption) *Step {
	if unit == nil {
		panic("work: NewStep requires a unit")
	}
	s := &Step{unit: unit, status: StatusNotStarted}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unit returns the wrapped unit.
func (s *Step) Unit() Unit { return s.unit }

// Status returns the lifecycle status.
func (s *Step) Status() Status { return s.status }

// IgnoresFailure reports whether a failure counts as success for sequencing.
func (s *Step) IgnoresFailure() bool { return s.ignoreFailure }

// Timeout returns the step timeout; zero means none.
func (s *Step) Timeout() time.Duration { return s.timeout }

// TimedOut reports whether the step was aborted by its timeout.
func (s *Step) TimedOut() bool { return s.timedOut }

// StartedAt returns the time of the first execution, or zero.
func (s *Step) StartedAt() time.Time { return s.startedAt }

// EndedAt returns the time the step finished, or zero.
func (s *Step) EndedAt() time.Time { return s.endedAt }

// ChildCommands returns a copy of the commands the step spawned.
func (s *Step) ChildCommands() []string { return slices.Clone(s.childCommands) }

// ContextEntities returns a copy of the entities the step touched.
func (s *Step) ContextEntities() []EntityRef { return slices.Clone(s.entities) }

// Description returns the override, the unit's own description, or the
// unit's type name.
func (s *Step) Description() string {
	if s.description != "" {
		return s.description
	}
	if d, ok := s.unit.(Describer); ok {
		return d.Description()
	}
	return fmt.Sprintf("%T", s.unit)
}

// Outcome returns the last recorded outcome, decorated as Aborted when
// the step was aborted. It is nil before the first execution.
func (s *Step) Outcome() Outcome {
	if s.status != StatusAborted {
		return s.outcome
	}
	a := Aborted{Inner: s.outcome, trusted: s.abortTrusted}
	if s.timedOut {
		a.Timeout = s.timeout
	}
	return a
}

// Waiting reports whether the step needs another Execute call.
func (s *Step) Waiting() bool {
	out := s.Outcome()
	return out != nil && out.Waiting()
}

// Terminal reports whether the step has produced a final outcome.
func (s *Step) Terminal() bool {
	out := s.Outcome()
	return out != nil && !out.Waiting()
}

// Kind returns the kind used for sequencing. A step ignoring failure
// always reports success; Outcome still exposes the real kind.
func (s *Step) Kind() Kind {
	out := s.Outcome()
	if out == nil {
		panic("work: kind requested before the step produced an outcome")
	}
	if out.Waiting() {
		panic("work: kind requested while the step is waiting")
	}
	if s.ignoreFailure {
		return KindSuccess
	}
	return out.Kind()
}

// Message returns the message of the current outcome.
func (s *Step) Message() string {
	if out := s.Outcome(); out != nil {
		return out.Message()
	}
	return ""
}

// Execute runs the unit on the first call and resumes the recorded
// outcome afterwards. An error from the unit is recorded as an Errored
// outcome and returned; the step is left running and the caller must
// discard the tick's changes. Executing the same step again panics.
func (s *Step) Execute(wctx *Context) error {
	if wctx == nil {
		panic("work: execute requires a context")
	}
	switch {
	case s.status == StatusDone:
		panic(fmt.Sprintf("work: execute called on finished step %q", s.Description()))
	case s.status == StatusAborted && !s.Waiting():
		panic(fmt.Sprintf("work: execute called on aborted step %q", s.Description()))
	}

	if s.status != StatusAborted {
		s.status = StatusRunning
	}
	first := s.startedAt.IsZero()
	if first {
		s.startedAt = wctx.Now()
	}

	release := wctx.useListener(s.recorder())
	defer release()

	if first {
		wctx.stepStarted(s)
	}

	var (
		out Outcome
		err error
	)
	if s.outcome == nil {
		out, err = s.unit.Execute(wctx)
	} else {
		if r, ok := s.outcome.(Result); ok && r.Cause() != "" {
			panic(fmt.Sprintf("work: execute called on step %q after it returned an error (%s); the tick must be rolled back", s.Description(), r.Cause()))
		}
		if !s.outcome.Waiting() {
			panic(fmt.Sprintf("work: resume called on terminal outcome of step %q", s.Description()))
		}
		out, err = s.outcome.Resume(wctx)
	}
	if err != nil {
		s.outcome = Errored(err)
		wctx.Logger().Warn("step returned an error",
			slog.String("step", s.Description()),
			slog.Any("error", err),
		)
		return fmt.Errorf("step %q: %w", s.Description(), err)
	}
	if out == nil {
		panic(fmt.Sprintf("work: step %q produced a nil outcome", s.Description()))
	}
	s.outcome = out

	if s.status == StatusRunning {
		s.checkTimeout(wctx)
	}
	if !s.Waiting() {
		s.finish(wctx)
	}
	return nil
}

// Resume implements Outcome by executing the step again.
func (s *Step) Resume(wctx *Context) (Outcome, error) {
	if err := s.Execute(wctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Abort halts a running step. It panics if the step never started and
// does nothing for a step that already finished. Errors from the
// outcome's own Abort are logged. The step is marked aborted regardless;
// if the outcome asked to be trusted and is still waiting, completion
// housekeeping is deferred until it stops waiting.
func (s *Step) Abort(wctx *Context) (bool, error) {
	if !s.status.Started() {
		panic(fmt.Sprintf("work: abort called on step %q that never started", s.Description()))
	}
	if s.status == StatusDone || s.status == StatusAborted {
		return false, nil
	}

	release := wctx.useListener(s.recorder())
	defer release()

	trusted := false
	if s.outcome != nil {
		var ok bool
		err := guard(func() (err error) {
			ok, err = s.outcome.Abort(wctx)
			return err
		})
		if err != nil {
			wctx.Logger().Warn("step abort hook failed",
				slog.String("step", s.Description()),
				slog.Any("error", err),
			)
		}
		trusted = ok && err == nil
	}
	s.status = StatusAborted
	s.abortTrusted = trusted
	if !s.Waiting() {
		s.finish(wctx)
	}
	return false, nil
}

// Retry builds a new step wrapping a retried copy of the unit. The step
// must be terminal and either ignore failure or not have succeeded.
// Side links collected so far are carried into the new step.
func (s *Step) Retry(wctx *Context, dryRun bool) (*Step, error) {
	out := s.Outcome()
	if out == nil || out.Waiting() {
		panic(fmt.Sprintf("work: retry requires step %q to be terminal", s.Description()))
	}
	if !s.ignoreFailure && out.Kind() == KindSuccess {
		panic(fmt.Sprintf("work: retry of successful step %q", s.Description()))
	}
	return s.retry(wctx, dryRun)
}

func (s *Step) retry(wctx *Context, dryRun bool) (*Step, error) {
	next := &Step{
		status:        StatusNotStarted,
		description:   s.description,
		ignoreFailure: s.ignoreFailure,
		timeout:       s.timeout,
		childCommands: slices.Clone(s.childCommands),
		entities:      slices.Clone(s.entities),
	}

	release := wctx.useListener(next.recorder())
	defer release()

	unit, err := s.unit.Retry(wctx, dryRun)
	if err != nil {
		return nil, fmt.Errorf("retry step %q: %w", s.Description(), err)
	}
	if unit == nil {
		panic(fmt.Sprintf("work: retry of step %q returned a nil unit", s.Description()))
	}
	next.unit = unit
	return next, nil
}

func (s *Step) checkTimeout(wctx *Context) {
	if s.timeout == 0 || !s.outcome.Waiting() {
		return
	}
	elapsed := wctx.Now().Sub(s.startedAt)
	if elapsed < s.timeout {
		return
	}
	s.timedOut = true
	wctx.Logger().Error("step timed out",
		slog.String("step", s.Description()),
		slog.Duration("timeout", s.timeout),
		slog.Duration("elapsed", elapsed),
	)
	wctx.stepTimedOut(s, elapsed)
	s.Abort(wctx) //nolint:errcheck // Step.Abort never returns an error
}

// finish runs completion housekeeping once.
func (s *Step) finish(wctx *Context) {
	if s.finished {
		return
	}
	s.finished = true
	if s.status == StatusRunning {
		s.status = StatusDone
	}
	s.endedAt = wctx.Now()

	out := s.Outcome()
	if err := guard(func() error { return s.unit.OnFinish(out, wctx) }); err != nil {
		wctx.Logger().Warn("step finish hook failed",
			slog.String("step", s.Description()),
			slog.Any("error", err),
		)
	}
	wctx.stepFinished(s)
}

func (s *Step) recorder() Listener { return stepRecorder{s} }

type stepRecorder struct{ s *Step }

func (r stepRecorder) EntityTouched(ref EntityRef) {
	if !slices.Contains(r.s.entities, ref) {
		r.s.entities = append(r.s.entities, ref)
	}
}

func (r stepRecorder) ChildCommandAdded(ref string) {
	r.s.childCommands = append(r.s.childCommands, ref)
}

func (r stepRecorder) ChildCommandRemoved(ref string) bool {
	i := slices.Index(r.s.childCommands, ref)
	if i < 0 {
		return false
	}
	r.s.childCommands = slices.Delete(r.s.childCommands, i, i+1)
	return true
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
