package work_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/work"
)

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newContext(t *testing.T, opts ...work.ContextOption) (*work.Context, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []work.ContextOption{work.WithLogger(testLogger()), work.WithClock(clk.Now)}
	return work.NewContext(context.Background(), append(base, opts...)...), clk
}

func mustPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	fn()
}

// fake is a scripted unit. Each entry of script is consumed by one
// Execute or Resume call: "ok", "fail", "wait" or "err".
type fake struct {
	name   string
	script []string
	pos    int
	log    *[]string

	onExec func(*work.Context)

	finishErr   error
	finishPanic bool
	finished    []work.Outcome

	abortTrust bool
	abortErr   error
	aborts     int

	retryScript []string
	noRetry     bool
	retries     []bool
}

func newFake(name string, log *[]string, script ...string) *fake {
	return &fake{name: name, script: script, log: log, retryScript: []string{"ok"}}
}

func (f *fake) record(what string) {
	if f.log != nil {
		*f.log = append(*f.log, f.name+":"+what)
	}
}

func (f *fake) Description() string { return f.name }

func (f *fake) Execute(wctx *work.Context) (work.Outcome, error) {
	f.record("execute")
	return f.next(wctx)
}

func (f *fake) next(wctx *work.Context) (work.Outcome, error) {
	if f.onExec != nil {
		f.onExec(wctx)
	}
	if f.pos >= len(f.script) {
		panic(fmt.Sprintf("fake %s: script exhausted", f.name))
	}
	r := f.script[f.pos]
	f.pos++
	switch r {
	case "ok":
		return work.Success(f.name + " ok"), nil
	case "fail":
		return work.Failure(f.name + " failed"), nil
	case "wait":
		return &pending{f: f}, nil
	case "err":
		return nil, errBoom
	default:
		panic("fake: unknown script entry " + r)
	}
}

func (f *fake) OnFinish(out work.Outcome, _ *work.Context) error {
	f.record("finish")
	f.finished = append(f.finished, out)
	if f.finishPanic {
		panic("finish exploded")
	}
	return f.finishErr
}

func (f *fake) Retry(_ *work.Context, dryRun bool) (work.Unit, error) {
	f.retries = append(f.retries, dryRun)
	if f.noRetry {
		return nil, flowwork.ErrRetryUnsupported
	}
	f.record("retry")
	next := newFake(f.name, f.log, f.retryScript...)
	next.onExec = f.onExec
	return next, nil
}

type pending struct{ f *fake }

func (p *pending) Message() string { return p.f.name + " waiting" }
func (p *pending) Kind() work.Kind { panic("kind of a pending outcome") }
func (p *pending) Waiting() bool { return true }

func (p *pending) Resume(wctx *work.Context) (work.Outcome, error) {
	p.f.record("resume")
	return p.f.next(wctx)
}

func (p *pending) Abort(*work.Context) (bool, error) {
	p.f.aborts++
	p.f.record("abort")
	return p.f.abortTrust, p.f.abortErr
}

func unitOf(s *work.Step) *fake { return s.Unit().(*fake) }

// countdown is a serializable unit that waits for Ticks resumptions.
type countdown struct {
	Name  string `json:"name"`
	Ticks int    `json:"ticks"`
	Fail  bool   `json:"fail,omitempty"`
}

func (c *countdown) Execute(*work.Context) (work.Outcome, error) {
	w := &countdownWait{Name: c.Name, Left: c.Ticks, Fail: c.Fail}
	return w.settle(), nil
}

func (c *countdown) OnFinish(work.Outcome, *work.Context) error { return nil }

func (c *countdown) Retry(*work.Context, bool) (work.Unit, error) {
	return &countdown{Name: c.Name, Ticks: c.Ticks}, nil
}

func (c *countdown) Description() string { return c.Name }

type countdownWait struct {
	Name string `json:"name"`
	Left int    `json:"left"`
	Fail bool   `json:"fail,omitempty"`
}

func (w *countdownWait) settle() work.Outcome {
	switch {
	case w.Left > 0:
		return w
	case w.Fail:
		return work.Failure(w.Name + " failed")
	default:
		return work.Success(w.Name + " done")
	}
}

func (w *countdownWait) Message() string { return fmt.Sprintf("%s: %d left", w.Name, w.Left) }
func (w *countdownWait) Kind() work.Kind { panic("kind of a waiting countdown") }
func (w *countdownWait) Waiting() bool { return true }

func (w *countdownWait) Resume(*work.Context) (work.Outcome, error) {
	w.Left--
	return w.settle(), nil
}

func (w *countdownWait) Abort(*work.Context) (bool, error) { return false, nil }

func init() {
	work.Register("test.countdown", &countdown{})
	work.Register("test.countdown_wait", &countdownWait{})
}
