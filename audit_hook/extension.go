package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/flowwork/ext"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.RunStarted   = (*Extension)(nil)
	_ ext.RunWaiting   = (*Extension)(nil)
	_ ext.RunSucceeded = (*Extension)(nil)
	_ ext.RunFailed    = (*Extension)(nil)
	_ ext.RunAborted   = (*Extension)(nil)
	_ ext.RunRetried   = (*Extension)(nil)
	_ ext.TickFailed   = (*Extension)(nil)
	_ ext.StepStarted  = (*Extension)(nil)
	_ ext.StepFinished = (*Extension)(nil)
	_ ext.StepTimedOut = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges run lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	minRank  int
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *run.Run) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"run_name", r.Name,
		"attempt", r.Attempt,
	)
}

// OnRunWaiting implements ext.RunWaiting.
func (e *Extension) OnRunWaiting(ctx context.Context, r *run.Run, nextTickAt time.Time) error {
	return e.record(ctx, ActionRunWaiting, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"run_name", r.Name,
		"ticks", r.Ticks,
		"next_tick_at", nextTickAt.UTC().Format(time.RFC3339),
	)
}

// OnRunSucceeded implements ext.RunSucceeded.
func (e *Extension) OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionRunSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"run_name", r.Name,
		"attempt", r.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, messageErr(r.Message),
		"run_name", r.Name,
		"attempt", r.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunAborted implements ext.RunAborted.
func (e *Extension) OnRunAborted(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionRunAborted, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, messageErr(r.Message),
		"run_name", r.Name,
		"attempt", r.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunRetried implements ext.RunRetried.
func (e *Extension) OnRunRetried(ctx context.Context, prev, next *run.Run) error {
	return e.record(ctx, ActionRunRetried, SeverityInfo, OutcomeSuccess,
		ResourceRun, next.ID.String(), CategoryRun, nil,
		"run_name", next.Name,
		"attempt", next.Attempt,
		"retry_of", prev.ID.String(),
	)
}

// OnTickFailed implements ext.TickFailed.
func (e *Extension) OnTickFailed(ctx context.Context, r *run.Run, tickErr error) error {
	return e.record(ctx, ActionTickFailed, SeverityWarning, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, tickErr,
		"run_name", r.Name,
		"wait_streak", r.WaitStreak,
	)
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepStarted implements ext.StepStarted.
func (e *Extension) OnStepStarted(ctx context.Context, r *run.Run, s *work.Step) error {
	return e.record(ctx, ActionStepStarted, SeverityInfo, OutcomeSuccess,
		ResourceStep, r.ID.String(), CategoryStep, nil,
		"run_name", r.Name,
		"step", s.Description(),
	)
}

// OnStepFinished implements ext.StepFinished.
func (e *Extension) OnStepFinished(ctx context.Context, r *run.Run, s *work.Step, elapsed time.Duration) error {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if s.State() == work.StateFailed {
		outcome, severity = OutcomeFailure, SeverityWarning
	}
	return e.record(ctx, ActionStepFinished, severity, outcome,
		ResourceStep, r.ID.String(), CategoryStep, nil,
		"run_name", r.Name,
		"step", s.Description(),
		"message", s.Message(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepTimedOut implements ext.StepTimedOut.
func (e *Extension) OnStepTimedOut(ctx context.Context, r *run.Run, s *work.Step, elapsed time.Duration) error {
	return e.record(ctx, ActionStepTimedOut, SeverityWarning, OutcomeFailure,
		ResourceStep, r.ID.String(), CategoryStep, nil,
		"run_name", r.Name,
		"step", s.Description(),
		"timeout_ms", s.Timeout().Milliseconds(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Internal helpers ────────────────────────────────

type messageError string

func (m messageError) Error() string { return string(m) }

// messageErr turns a run's outcome message into the event reason.
func messageErr(msg string) error {
	if msg == "" {
		return nil
	}
	return messageError(msg)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}
	if severityRank[severity] < e.minRank {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.Any("error", recErr),
		)
	}
	return nil
}
