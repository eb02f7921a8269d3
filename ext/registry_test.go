package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/flowwork/ext"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnRunStarted(_ context.Context, _ *run.Run) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *allHooksExt) OnRunWaiting(_ context.Context, _ *run.Run, _ time.Time) error {
	e.calls = append(e.calls, "OnRunWaiting")
	return nil
}

func (e *allHooksExt) OnRunSucceeded(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunSucceeded")
	return nil
}

func (e *allHooksExt) OnRunFailed(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunFailed")
	return nil
}

func (e *allHooksExt) OnRunAborted(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunAborted")
	return nil
}

func (e *allHooksExt) OnRunRetried(_ context.Context, _, _ *run.Run) error {
	e.calls = append(e.calls, "OnRunRetried")
	return nil
}

func (e *allHooksExt) OnTickFailed(_ context.Context, _ *run.Run, _ error) error {
	e.calls = append(e.calls, "OnTickFailed")
	return nil
}

func (e *allHooksExt) OnStepStarted(_ context.Context, _ *run.Run, _ *work.Step) error {
	e.calls = append(e.calls, "OnStepStarted")
	return nil
}

func (e *allHooksExt) OnStepFinished(_ context.Context, _ *run.Run, _ *work.Step, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepFinished")
	return nil
}

func (e *allHooksExt) OnStepTimedOut(_ context.Context, _ *run.Run, _ *work.Step, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepTimedOut")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// finishOnlyExt only implements the terminal run hooks.
type finishOnlyExt struct {
	calls []string
}

func (e *finishOnlyExt) Name() string { return "finish-only" }

func (e *finishOnlyExt) OnRunSucceeded(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunSucceeded")
	return nil
}

func (e *finishOnlyExt) OnRunFailed(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunFailed")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnRunStarted(_ context.Context, _ *run.Run) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func newStep() *work.Step {
	return work.NewStep(work.NewSequence(nil), work.WithDescription("noop"))
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	fo := &finishOnlyExt{}
	r.Register(all)
	r.Register(fo)

	ctx := context.Background()
	rn := &run.Run{Name: "deploy"}

	// Both implement OnRunSucceeded.
	r.EmitRunSucceeded(ctx, rn, time.Second)
	if len(all.calls) != 1 || all.calls[0] != "OnRunSucceeded" {
		t.Fatalf("all: expected [OnRunSucceeded], got %v", all.calls)
	}
	if len(fo.calls) != 1 || fo.calls[0] != "OnRunSucceeded" {
		t.Fatalf("fo: expected [OnRunSucceeded], got %v", fo.calls)
	}

	// Only all implements OnRunWaiting.
	r.EmitRunWaiting(ctx, rn, time.Now())
	if len(all.calls) != 2 || all.calls[1] != "OnRunWaiting" {
		t.Fatalf("all: expected OnRunWaiting as 2nd, got %v", all.calls)
	}
	if len(fo.calls) != 1 {
		t.Fatalf("fo: should still have 1 call, got %v", fo.calls)
	}
}

func TestRegistry_AllRunHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	rn := &run.Run{Name: "deploy"}

	r.EmitRunStarted(ctx, rn)
	r.EmitRunWaiting(ctx, rn, time.Now())
	r.EmitRunSucceeded(ctx, rn, time.Second)
	r.EmitRunFailed(ctx, rn, time.Second)
	r.EmitRunAborted(ctx, rn, time.Second)
	r.EmitRunRetried(ctx, rn, &run.Run{Name: "deploy", Attempt: 2})
	r.EmitTickFailed(ctx, rn, errors.New("fail"))

	expected := []string{
		"OnRunStarted", "OnRunWaiting", "OnRunSucceeded", "OnRunFailed",
		"OnRunAborted", "OnRunRetried", "OnTickFailed",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_AllStepHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	rn := &run.Run{Name: "deploy"}
	s := newStep()

	r.EmitStepStarted(ctx, rn, s)
	r.EmitStepTimedOut(ctx, rn, s, time.Minute)
	r.EmitStepFinished(ctx, rn, s, time.Minute)
	r.EmitShutdown(ctx)

	expected := []string{"OnStepStarted", "OnStepTimedOut", "OnStepFinished", "OnShutdown"}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	r.EmitRunStarted(ctx, &run.Run{})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnRunStarted" {
		t.Fatalf("all: expected hooks to fire despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()
	rn := &run.Run{}

	// None of these should panic or error.
	r.EmitRunStarted(ctx, rn)
	r.EmitRunWaiting(ctx, rn, time.Now())
	r.EmitRunSucceeded(ctx, rn, time.Second)
	r.EmitRunFailed(ctx, rn, time.Second)
	r.EmitRunAborted(ctx, rn, time.Second)
	r.EmitRunRetried(ctx, rn, rn)
	r.EmitTickFailed(ctx, rn, errors.New("x"))
	r.EmitStepStarted(ctx, rn, newStep())
	r.EmitStepFinished(ctx, rn, newStep(), time.Second)
	r.EmitStepTimedOut(ctx, rn, newStep(), time.Second)
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(orderExt{"first", &order})
	r.Register(orderExt{"second", &order})

	r.EmitRunFailed(context.Background(), &run.Run{}, 0)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e orderExt) Name() string { return e.name }

func (e orderExt) OnRunFailed(_ context.Context, _ *run.Run, _ time.Duration) error {
	*e.order = append(*e.order, e.name)
	return nil
}
