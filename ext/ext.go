// Package ext defines the extension system for flowwork.
// Extensions are notified of lifecycle events (run started, waiting,
// finished, step timed out, etc.) and can react to them: logging, metrics,
// audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called after a run is created, before its first tick.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunWaiting is called after a tick leaves the run waiting.
type RunWaiting interface {
	OnRunWaiting(ctx context.Context, r *run.Run, nextTickAt time.Time) error
}

// RunSucceeded is called when a run finishes successfully.
type RunSucceeded interface {
	OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is called when a run finishes with a failure.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunAborted is called when an aborted run finishes.
type RunAborted interface {
	OnRunAborted(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunRetried is called after a finished run was retried as next.
type RunRetried interface {
	OnRunRetried(ctx context.Context, prev, next *run.Run) error
}

// TickFailed is called when a tick returned an error and was rolled back.
type TickFailed interface {
	OnTickFailed(ctx context.Context, r *run.Run, err error) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called the first time a step executes. The step must not
// be mutated.
type StepStarted interface {
	OnStepStarted(ctx context.Context, r *run.Run, s *work.Step) error
}

// StepFinished is called once a step is terminal and its housekeeping ran.
type StepFinished interface {
	OnStepFinished(ctx context.Context, r *run.Run, s *work.Step, elapsed time.Duration) error
}

// StepTimedOut is called when a step exceeded its timeout and is being
// aborted.
type StepTimedOut interface {
	OnStepTimedOut(ctx context.Context, r *run.Run, s *work.Step, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
