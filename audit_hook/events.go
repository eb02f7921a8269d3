package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunStarted   = "run.started"
	ActionRunWaiting   = "run.waiting"
	ActionRunSucceeded = "run.succeeded"
	ActionRunFailed    = "run.failed"
	ActionRunAborted   = "run.aborted"
	ActionRunRetried   = "run.retried"
	ActionTickFailed   = "run.tick_failed"
	ActionStepStarted  = "step.started"
	ActionStepFinished = "step.finished"
	ActionStepTimedOut = "step.timed_out"
)

// Audit event categories group related actions.
const (
	CategoryRun  = "flowwork.run"
	CategoryStep = "flowwork.step"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRun  = "run"
	ResourceStep = "step"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunWaiting,
		ActionRunSucceeded,
		ActionRunFailed,
		ActionRunAborted,
		ActionRunRetried,
		ActionTickFailed,
		ActionStepStarted,
		ActionStepFinished,
		ActionStepTimedOut,
	}
}
