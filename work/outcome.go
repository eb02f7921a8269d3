package work

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the result of attempting a unit of work. A waiting outcome
// is resumed on a later tick; a terminal one reports its Kind.
type Outcome interface {
	Message() string

	// Kind is only defined once Waiting reports false.
	Kind() Kind

	Waiting() bool

	// Resume is only called while Waiting reports true. It returns the
	// same or a new outcome, which may still be waiting.
	Resume(wctx *Context) (Outcome, error)

	// Abort asks the outcome to halt. It returns true when the caller
	// should keep trusting the outcome (it may stay waiting while the
	// cancellation completes), false when it should be treated as aborted.
	Abort(wctx *Context) (bool, error)
}

// Result is a terminal outcome.
type Result struct {
	kind  Kind
	msg   string
	cause string
}

var _ Outcome = Result{}

// Success returns a terminal successful outcome.
func Success(msg string) Result { return Result{kind: KindSuccess, msg: msg} }

// Failure returns a terminal failed outcome.
func Failure(msg string) Result { return Result{kind: KindFailure, msg: msg} }

// Failuref formats a failure message.
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// Errored records an unexpected error returned by a unit as a failure.
func Errored(err error) Result {
	return Result{kind: KindFailure, msg: err.Error(), cause: err.Error()}
}

// Message returns the result text.
func (r Result) Message() string { return r.msg }

// Kind returns the result kind.
func (r Result) Kind() Kind { return r.kind }

// Waiting is always false: a Result is terminal.
func (r Result) Waiting() bool { return false }

// Cause is the error text when the result was built by Errored.
func (r Result) Cause() string { return r.cause }

// Resume panics; a terminal result cannot be resumed.
func (r Result) Resume(*Context) (Outcome, error) {
	panic("work: resume called on a terminal result")
}

// Abort is a no-op on a terminal result.
func (r Result) Abort(*Context) (bool, error) { return false, nil }

type resultJSON struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
	Cause   string `json:"cause,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{Kind: r.kind, Message: r.msg, Cause: r.cause})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var v resultJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Result{kind: v.Kind, msg: v.Message, cause: v.Cause}
	return nil
}

// Aborted is the view of an outcome after its step was aborted. Timeout
// is set when the abort was triggered by the step's timeout.
type Aborted struct {
	Inner   Outcome
	Timeout time.Duration

	// trusted is set when Inner asked to be trusted during abort; the
	// aborted view then keeps waiting until Inner finishes.
	trusted bool
}

var _ Outcome = Aborted{}

// Kind is always KindAborted.
func (a Aborted) Kind() Kind { return KindAborted }

// Waiting reports whether a trusted inner outcome is still winding down.
func (a Aborted) Waiting() bool {
	return a.trusted && a.Inner != nil && a.Inner.Waiting()
}

// Message describes the abort, including a timeout and the inner message.
func (a Aborted) Message() string {
	var inner string
	if a.Inner != nil {
		inner = a.Inner.Message()
	}
	switch {
	case a.Timeout > 0 && inner != "":
		return fmt.Sprintf("timed out after %s: %s", a.Timeout, inner)
	case a.Timeout > 0:
		return fmt.Sprintf("timed out after %s", a.Timeout)
	case inner != "":
		return "aborted: " + inner
	default:
		return "aborted"
	}
}

// Resume advances the trusted inner outcome and keeps the aborted view.
func (a Aborted) Resume(wctx *Context) (Outcome, error) {
	if !a.Waiting() {
		panic("work: resume called on a terminal aborted outcome")
	}
	out, err := a.Inner.Resume(wctx)
	if err != nil {
		return nil, err
	}
	return Aborted{Inner: out, Timeout: a.Timeout, trusted: a.trusted}, nil
}

// Abort is a no-op; the outcome is already aborted.
func (a Aborted) Abort(*Context) (bool, error) { return false, nil }
