package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Tick advances a run by one step of its tree inside a store transaction.
// A unit error rolls the transaction back; LastError and a delayed
// NextTickAt are then recorded separately and the error is returned with
// the updated run. Ticking a finished run fails with
// flowwork.ErrRunFinished.
func (e *Engine) Tick(ctx context.Context, runID id.RunID) (*run.Run, error) {
	if e.stopped.Load() {
		return nil, flowwork.ErrEngineStopped
	}
	owner := run.OwnerFrom(ctx)

	var (
		staged   *run.Run
		prev     run.State
		events   *stepEvents
		tickErr  error
		rejected bool
	)
	err := e.store.Transact(ctx, runID, func(r *run.Run) error {
		staged, prev = r, r.State
		if r.State.Terminal() {
			rejected = true
			return fmt.Errorf("%w: %s", flowwork.ErrRunFinished, r.ID)
		}
		if r.Leased(owner, e.now()) {
			rejected = true
			return fmt.Errorf("%w: %s held by %s", flowwork.ErrLeaseHeld, r.ID, r.LeaseOwner)
		}
		events = &stepEvents{ext: e.extensions, run: r}
		tickErr = e.chain(ctx, r, func(ctx context.Context) error {
			return e.advance(ctx, r, events)
		})
		return tickErr
	})
	if err != nil && (rejected || tickErr == nil) {
		return nil, err
	}
	if tickErr != nil {
		return e.recordTickError(ctx, runID, tickErr)
	}

	events.flush(ctx)
	e.emitTransition(ctx, staged, prev)
	return staged, nil
}

// advance executes the root once and folds the result into r.
func (e *Engine) advance(ctx context.Context, r *run.Run, events *stepEvents) error {
	root, err := work.Unmarshal(r.Tree)
	if err != nil {
		return err
	}
	sess := newSession(r, root, e.resolver)
	wctx := e.newContext(ctx, r, sess, work.WithObserver(events))
	now := e.now()

	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.Ticks++

	if r.AbortRequested && !root.Status().Started() {
		r.State = run.StateAborted
		r.Message = "aborted before start"
		r.CompletedAt = &now
		r.WaitStreak = 0
		return nil
	}
	if r.AbortRequested && !root.Terminal() {
		if _, err := root.Abort(wctx); err != nil {
			return err
		}
	}
	if !root.Terminal() {
		if err := root.Execute(wctx); err != nil {
			return err
		}
	}

	if err := sess.Flush(ctx); err != nil {
		return err
	}
	r.Env = wctx.Env()
	r.Message = root.Message()
	r.LastError = ""

	if root.Waiting() {
		r.State = run.StateWaiting
		r.WaitStreak++
		r.NextTickAt = now.Add(e.bo.Delay(r.WaitStreak))
		return nil
	}

	r.State = stateOf(root.Outcome().Kind())
	r.WaitStreak = 0
	r.AbortRequested = false
	r.CompletedAt = &now
	return nil
}

func stateOf(k work.Kind) run.State {
	switch k {
	case work.KindSuccess:
		return run.StateSucceeded
	case work.KindAborted:
		return run.StateAborted
	default:
		return run.StateFailed
	}
}

// recordTickError stores a failed tick outside the rolled-back transaction.
func (e *Engine) recordTickError(ctx context.Context, runID id.RunID, tickErr error) (*run.Run, error) {
	var failed *run.Run
	err := e.store.Transact(ctx, runID, func(r *run.Run) error {
		r.LastError = tickErr.Error()
		r.WaitStreak++
		r.NextTickAt = e.now().Add(e.bo.Delay(r.WaitStreak))
		failed = r
		return nil
	})
	if err != nil {
		e.logger.Error("record tick error",
			slog.String("run_id", runID.String()),
			slog.Any("tick_error", tickErr),
			slog.Any("error", err),
		)
		return nil, tickErr
	}
	e.extensions.EmitTickFailed(ctx, failed, tickErr)
	return failed, tickErr
}

func (e *Engine) emitTransition(ctx context.Context, r *run.Run, prev run.State) {
	if prev == run.StatePending {
		e.extensions.EmitRunStarted(ctx, r)
	}
	switch r.State {
	case run.StateWaiting:
		e.extensions.EmitRunWaiting(ctx, r, r.NextTickAt)
	case run.StateSucceeded:
		e.extensions.EmitRunSucceeded(ctx, r, elapsed(r))
	case run.StateFailed:
		e.extensions.EmitRunFailed(ctx, r, elapsed(r))
	case run.StateAborted:
		e.extensions.EmitRunAborted(ctx, r, elapsed(r))
	}
}

func elapsed(r *run.Run) time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

func (e *Engine) newContext(ctx context.Context, r *run.Run, tx work.Tx, opts ...work.ContextOption) *work.Context {
	base := []work.ContextOption{
		work.WithEnv(r.Env),
		work.WithLogger(e.logger.With(slog.String("run_id", r.ID.String()))),
		work.WithClock(e.now),
	}
	if tx != nil {
		base = append(base, work.WithTx(tx))
	}
	if e.resolver != nil {
		if s, ok := tx.(*session); ok {
			base = append(base, work.WithResolver(s.resolver()))
		} else {
			base = append(base, work.WithResolver(e.resolver))
		}
	}
	return work.NewContext(ctx, append(base, opts...)...)
}
