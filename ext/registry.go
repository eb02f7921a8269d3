package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runWaitingEntry struct {
	name string
	hook RunWaiting
}

type runSucceededEntry struct {
	name string
	hook RunSucceeded
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runAbortedEntry struct {
	name string
	hook RunAborted
}

type runRetriedEntry struct {
	name string
	hook RunRetried
}

type tickFailedEntry struct {
	name string
	hook TickFailed
}

type stepStartedEntry struct {
	name string
	hook StepStarted
}

type stepFinishedEntry struct {
	name string
	hook StepFinished
}

type stepTimedOutEntry struct {
	name string
	hook StepTimedOut
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted   []runStartedEntry
	runWaiting   []runWaitingEntry
	runSucceeded []runSucceededEntry
	runFailed    []runFailedEntry
	runAborted   []runAbortedEntry
	runRetried   []runRetriedEntry
	tickFailed   []tickFailedEntry
	stepStarted  []stepStartedEntry
	stepFinished []stepFinishedEntry
	stepTimedOut []stepTimedOutEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunWaiting); ok {
		r.runWaiting = append(r.runWaiting, runWaitingEntry{name, h})
	}
	if h, ok := e.(RunSucceeded); ok {
		r.runSucceeded = append(r.runSucceeded, runSucceededEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(RunAborted); ok {
		r.runAborted = append(r.runAborted, runAbortedEntry{name, h})
	}
	if h, ok := e.(RunRetried); ok {
		r.runRetried = append(r.runRetried, runRetriedEntry{name, h})
	}
	if h, ok := e.(TickFailed); ok {
		r.tickFailed = append(r.tickFailed, tickFailedEntry{name, h})
	}
	if h, ok := e.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, stepStartedEntry{name, h})
	}
	if h, ok := e.(StepFinished); ok {
		r.stepFinished = append(r.stepFinished, stepFinishedEntry{name, h})
	}
	if h, ok := e.(StepTimedOut); ok {
		r.stepTimedOut = append(r.stepTimedOut, stepTimedOutEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, rn); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunWaiting notifies all extensions that implement RunWaiting.
func (r *Registry) EmitRunWaiting(ctx context.Context, rn *run.Run, nextTickAt time.Time) {
	for _, e := range r.runWaiting {
		if err := e.hook.OnRunWaiting(ctx, rn, nextTickAt); err != nil {
			r.logHookError("OnRunWaiting", e.name, err)
		}
	}
}

// EmitRunSucceeded notifies all extensions that implement RunSucceeded.
func (r *Registry) EmitRunSucceeded(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runSucceeded {
		if err := e.hook.OnRunSucceeded(ctx, rn, elapsed); err != nil {
			r.logHookError("OnRunSucceeded", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, rn, elapsed); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunAborted notifies all extensions that implement RunAborted.
func (r *Registry) EmitRunAborted(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runAborted {
		if err := e.hook.OnRunAborted(ctx, rn, elapsed); err != nil {
			r.logHookError("OnRunAborted", e.name, err)
		}
	}
}

// EmitRunRetried notifies all extensions that implement RunRetried.
func (r *Registry) EmitRunRetried(ctx context.Context, prev, next *run.Run) {
	for _, e := range r.runRetried {
		if err := e.hook.OnRunRetried(ctx, prev, next); err != nil {
			r.logHookError("OnRunRetried", e.name, err)
		}
	}
}

// EmitTickFailed notifies all extensions that implement TickFailed.
func (r *Registry) EmitTickFailed(ctx context.Context, rn *run.Run, tickErr error) {
	for _, e := range r.tickFailed {
		if err := e.hook.OnTickFailed(ctx, rn, tickErr); err != nil {
			r.logHookError("OnTickFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepStarted notifies all extensions that implement StepStarted.
func (r *Registry) EmitStepStarted(ctx context.Context, rn *run.Run, s *work.Step) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, rn, s); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

// EmitStepFinished notifies all extensions that implement StepFinished.
func (r *Registry) EmitStepFinished(ctx context.Context, rn *run.Run, s *work.Step, elapsed time.Duration) {
	for _, e := range r.stepFinished {
		if err := e.hook.OnStepFinished(ctx, rn, s, elapsed); err != nil {
			r.logHookError("OnStepFinished", e.name, err)
		}
	}
}

// EmitStepTimedOut notifies all extensions that implement StepTimedOut.
func (r *Registry) EmitStepTimedOut(ctx context.Context, rn *run.Run, s *work.Step, elapsed time.Duration) {
	for _, e := range r.stepTimedOut {
		if err := e.hook.OnStepTimedOut(ctx, rn, s, elapsed); err != nil {
			r.logHookError("OnStepTimedOut", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
