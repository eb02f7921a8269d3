package work

// Kind is the terminal classification of an outcome.
type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
	// KindAborted is only produced by Step when it aborts the outcome it holds.
	KindAborted Kind = "aborted"
)

// Status is the lifecycle state of a Step.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusDone       Status = "done"
	StatusAborted    Status = "aborted"
)

// Started reports whether the step has been executed at least once.
func (s Status) Started() bool { return s != StatusNotStarted && s != "" }
