package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/backoff"
	"github.com/xraph/flowwork/engine"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/store/memory"
	"github.com/xraph/flowwork/work"
)

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newEngine builds an engine over a memory store with a fixed clock and a
// constant 5s wait backoff.
func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store, *clock) {
	t.Helper()
	clk := newClock()
	s := memory.New()
	base := []engine.Option{
		engine.WithStore(s),
		engine.WithLogger(testLogger()),
		engine.WithClock(clk.Now),
		engine.WithBackoff(backoff.NewConstant(5 * time.Second)),
	}
	eng, err := engine.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s, clk
}

// ── Units ───────────────────────────────────────────

// scripted consumes one script entry per execute or resume: "ok", "fail"
// or "wait".
type scripted struct {
	Name   string   `json:"name"`
	Script []string `json:"script"`
	Again  []string `json:"again,omitempty"`
}

func newScripted(name string, script ...string) *work.Step {
	return work.NewStep(&scripted{Name: name, Script: script})
}

func (u *scripted) Description() string { return u.Name }

func (u *scripted) Execute(*work.Context) (work.Outcome, error) {
	return advanceScript(u.Name, u.Script), nil
}

func (u *scripted) OnFinish(work.Outcome, *work.Context) error { return nil }

func (u *scripted) Retry(*work.Context, bool) (work.Unit, error) {
	again := u.Again
	if len(again) == 0 {
		again = []string{"ok"}
	}
	return &scripted{Name: u.Name, Script: again}, nil
}

func advanceScript(name string, script []string) work.Outcome {
	switch script[0] {
	case "ok":
		return work.Success(name + " ok")
	case "fail":
		return work.Failure(name + " failed")
	case "wait":
		return &scriptWait{Name: name, Rest: script[1:]}
	default:
		panic("scripted: unknown entry " + script[0])
	}
}

type scriptWait struct {
	Name string   `json:"name"`
	Rest []string `json:"rest"`
}

func (w *scriptWait) Message() string { return w.Name + " waiting" }
func (w *scriptWait) Kind() work.Kind { panic("kind of a waiting script") }
func (w *scriptWait) Waiting() bool   { return true }

func (w *scriptWait) Resume(*work.Context) (work.Outcome, error) {
	return advanceScript(w.Name, w.Rest), nil
}

func (w *scriptWait) Abort(*work.Context) (bool, error) { return false, nil }

// flakyFailures is the number of upcoming flaky executions that error.
var flakyFailures atomic.Int64

type flaky struct {
	Name string `json:"name"`
}

func (u *flaky) Execute(*work.Context) (work.Outcome, error) {
	if flakyFailures.Add(-1) >= 0 {
		return nil, errBoom
	}
	return work.Success(u.Name + " ok"), nil
}

func (u *flaky) OnFinish(work.Outcome, *work.Context) error { return nil }

func (u *flaky) Retry(*work.Context, bool) (work.Unit, error) { return &flaky{Name: u.Name}, nil }

// putEnv writes one environment entry and reports a child command.
type putEnv struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Command string `json:"command,omitempty"`
}

func (u *putEnv) Execute(wctx *work.Context) (work.Outcome, error) {
	wctx.Put(u.Key, u.Value)
	if u.Command != "" {
		wctx.ChildCommandAdded(u.Command)
	}
	return work.Success("set " + u.Key), nil
}

func (u *putEnv) OnFinish(work.Outcome, *work.Context) error { return nil }

func (u *putEnv) Retry(*work.Context, bool) (work.Unit, error) {
	return &putEnv{Key: u.Key, Value: u.Value, Command: u.Command}, nil
}

func init() {
	work.Register("engine_test.scripted", &scripted{})
	work.Register("engine_test.script_wait", &scriptWait{})
	work.Register("engine_test.flaky", &flaky{})
	work.Register("engine_test.put_env", &putEnv{})
}

// ── Extension ───────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *recorder) OnRunStarted(context.Context, *run.Run) error {
	r.add("run_started")
	return nil
}

func (r *recorder) OnRunWaiting(context.Context, *run.Run, time.Time) error {
	r.add("run_waiting")
	return nil
}

func (r *recorder) OnRunSucceeded(context.Context, *run.Run, time.Duration) error {
	r.add("run_succeeded")
	return nil
}

func (r *recorder) OnRunFailed(context.Context, *run.Run, time.Duration) error {
	r.add("run_failed")
	return nil
}

func (r *recorder) OnRunAborted(context.Context, *run.Run, time.Duration) error {
	r.add("run_aborted")
	return nil
}

func (r *recorder) OnRunRetried(context.Context, *run.Run, *run.Run) error {
	r.add("run_retried")
	return nil
}

func (r *recorder) OnTickFailed(context.Context, *run.Run, error) error {
	r.add("tick_failed")
	return nil
}

func (r *recorder) OnStepStarted(_ context.Context, _ *run.Run, s *work.Step) error {
	r.add("step_started:" + s.Description())
	return nil
}

func (r *recorder) OnStepFinished(_ context.Context, _ *run.Run, s *work.Step, _ time.Duration) error {
	r.add("step_finished:" + s.Description())
	return nil
}

func (r *recorder) OnShutdown(context.Context) error {
	r.add("shutdown")
	return nil
}

// ── Resolver ────────────────────────────────────────

type countingResolver struct {
	calls atomic.Int64
}

func (c *countingResolver) ResolveCommand(_ context.Context, ref string) (*work.CommandInfo, error) {
	c.calls.Add(1)
	if ref == "gone" {
		return nil, flowwork.ErrRefNotFound
	}
	return &work.CommandInfo{Ref: ref, Name: "command " + ref, State: "done"}, nil
}

func (c *countingResolver) ResolveEntity(_ context.Context, ref work.EntityRef) (*work.EntityInfo, error) {
	c.calls.Add(1)
	return &work.EntityInfo{Kind: ref.Kind, ID: ref.ID}, nil
}

// noRetry finishes with a failure and cannot be retried.
type noRetry struct {
	work.Base
}

func (noRetry) Execute(*work.Context) (work.Outcome, error) {
	return work.Failure("needs a human"), nil
}

func init() {
	work.Register("engine_test.no_retry", &noRetry{})
}

func newRunID() id.RunID { return id.NewRunID() }

func backoffFunc(d time.Duration) backoff.Strategy {
	return backoff.Func(func(int) time.Duration { return d })
}
