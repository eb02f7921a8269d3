package work_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/xraph/flowwork/work"
)

func TestScatterFanOut(t *testing.T) {
	wctx, _ := newContext(t)
	var log []string
	one := work.NewStep(newFake("one", &log, "ok"))
	two := work.NewStep(newFake("two", &log, "wait", "ok"))
	three := work.NewStep(newFake("three", &log, "fail"))
	g := work.NewScatter([]*work.Step{one, two, three})

	out, err := g.Execute(wctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"one:execute", "two:execute", "three:execute"} {
		if !slices.Contains(log, name) {
			t.Errorf("%s not attempted: %v", name, log)
		}
	}
	if !out.Waiting() {
		t.Fatal("aggregate should wait for step two")
	}
	if out.Message() != "2 of 3 steps finished" {
		t.Errorf("message = %q", out.Message())
	}

	log = nil
	out, err = out.Resume(wctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(log, []string{"two:resume", "two:finish"}) {
		t.Errorf("resume log = %v, want only step two polled", log)
	}
	if out.Waiting() || out.Kind() != work.KindFailure {
		t.Fatalf("waiting = %v", out.Waiting())
	}
	for _, s := range []*work.Step{one, two, three} {
		if s.Status() != work.StatusDone {
			t.Errorf("%s status = %s", s.Description(), s.Status())
		}
	}
	if !strings.Contains(out.Message(), "three: three failed") {
		t.Errorf("message = %q", out.Message())
	}
}

func TestScatterIgnoredFailureSucceeds(t *testing.T) {
	wctx, _ := newContext(t)
	g := work.NewScatter([]*work.Step{
		work.NewStep(newFake("a", nil, "ok")),
		work.NewStep(newFake("b", nil, "fail"), work.IgnoreFailure()),
	})
	out, err := g.Execute(wctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind() != work.KindSuccess || out.Message() != "2 steps succeeded" {
		t.Errorf("kind = %s message = %q", out.Kind(), out.Message())
	}
}

type recordingTx struct {
	batch, cache bool
	flushes      int
	flushErr     error
}

func (tx *recordingTx) Flush(context.Context) error {
	tx.flushes++
	return tx.flushErr
}

func (tx *recordingTx) SetBatchCommit(on bool) bool {
	prev := tx.batch
	tx.batch = on
	return prev
}

func (tx *recordingTx) SetSharedCache(on bool) bool {
	prev := tx.cache
	tx.cache = on
	return prev
}

func TestScatterHintsAreScoped(t *testing.T) {
	tx := &recordingTx{}
	wctx, _ := newContext(t, work.WithTx(tx))

	var seenBatch, seenCache bool
	u := newFake("a", nil, "ok")
	u.onExec = func(c *work.Context) {
		rtx := c.Tx().(*recordingTx)
		seenBatch, seenCache = rtx.batch, rtx.cache
	}
	g := work.NewScatter([]*work.Step{work.NewStep(u)}, work.WithBatchCommit(), work.WithSharedCache())
	if _, err := g.Execute(wctx); err != nil {
		t.Fatal(err)
	}
	if !seenBatch || !seenCache {
		t.Errorf("hints not applied during execute: batch=%v cache=%v", seenBatch, seenCache)
	}
	if tx.batch || tx.cache {
		t.Error("hints not restored after execute")
	}
	if tx.flushes != 1 {
		t.Errorf("flushes = %d, want 1 before batching", tx.flushes)
	}
}

func TestScatterHintsRestoredOnError(t *testing.T) {
	tx := &recordingTx{}
	wctx, _ := newContext(t, work.WithTx(tx))
	g := work.NewScatter([]*work.Step{work.NewStep(newFake("a", nil, "err"))}, work.WithBatchCommit())

	if _, err := g.Execute(wctx); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if tx.batch {
		t.Error("batch commit left enabled after error")
	}
}

func TestScatterFlushErrorStopsExecute(t *testing.T) {
	tx := &recordingTx{flushErr: errBoom}
	wctx, _ := newContext(t, work.WithTx(tx))
	var log []string
	g := work.NewScatter([]*work.Step{work.NewStep(newFake("a", &log, "ok"))}, work.WithBatchCommit())

	if _, err := g.Execute(wctx); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if len(log) != 0 {
		t.Errorf("steps ran after a failed flush: %v", log)
	}
}

func TestScatterAbort(t *testing.T) {
	wctx, _ := newContext(t)
	a := work.NewStep(newFake("a", nil, "wait"))
	b := work.NewStep(newFake("b", nil, "wait"))
	done := work.NewStep(newFake("c", nil, "ok"))
	root := work.NewStep(work.NewScatter([]*work.Step{a, b, done}))

	if err := root.Execute(wctx); err != nil {
		t.Fatal(err)
	}
	_, _ = root.Abort(wctx)

	if a.Status() != work.StatusAborted || b.Status() != work.StatusAborted {
		t.Errorf("statuses = %s %s, want aborted", a.Status(), b.Status())
	}
	if done.Status() != work.StatusDone {
		t.Errorf("finished step status = %s", done.Status())
	}
	if root.Waiting() || root.Kind() != work.KindAborted {
		t.Errorf("root waiting = %v", root.Waiting())
	}
}

func TestScatterAbortWaitsForTrustedSteps(t *testing.T) {
	wctx, _ := newContext(t)
	u := newFake("a", nil, "wait", "ok")
	u.abortTrust = true
	a := work.NewStep(u)
	g := work.NewScatter([]*work.Step{a})
	if _, err := g.Execute(wctx); err != nil {
		t.Fatal(err)
	}

	if ok, _ := g.Abort(wctx); !ok {
		t.Fatal("group with a winding-down step should stay trusted")
	}
	if !g.Waiting() {
		t.Fatal("group should wait for the trusted step")
	}
	if _, err := g.Resume(wctx); err != nil {
		t.Fatal(err)
	}
	if g.Waiting() || a.Status() != work.StatusAborted {
		t.Errorf("waiting = %v status = %s", g.Waiting(), a.Status())
	}
}

func TestScatterEmpty(t *testing.T) {
	wctx, _ := newContext(t)
	out, err := work.NewScatter(nil).Execute(wctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Waiting() || out.Kind() != work.KindSuccess {
		t.Errorf("empty group waiting = %v", out.Waiting())
	}
}
