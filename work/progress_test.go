package work_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/work"
)

type mapResolver struct {
	commands map[string]work.CommandInfo
	entities map[work.EntityRef]work.EntityInfo
}

func (r *mapResolver) ResolveCommand(_ context.Context, ref string) (*work.CommandInfo, error) {
	info, ok := r.commands[ref]
	if !ok {
		return nil, fmt.Errorf("command %s: %w", ref, flowwork.ErrRefNotFound)
	}
	return &info, nil
}

func (r *mapResolver) ResolveEntity(_ context.Context, ref work.EntityRef) (*work.EntityInfo, error) {
	info, ok := r.entities[ref]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", ref.ID, flowwork.ErrRefNotFound)
	}
	return &info, nil
}

func TestProgressTree(t *testing.T) {
	resolver := &mapResolver{
		commands: map[string]work.CommandInfo{
			"cmd-1": {Ref: "cmd-1", Name: "install", State: "done"},
		},
		entities: map[work.EntityRef]work.EntityInfo{
			{Kind: "host", ID: "h1"}: {Kind: "host", ID: "h1", Name: "web-1"},
		},
	}
	wctx, _ := newContext(t, work.WithResolver(resolver))

	leaf := newFake("install", nil, "ok")
	leaf.onExec = func(c *work.Context) {
		c.ChildCommandAdded("cmd-1")
		c.ChildCommandAdded("cmd-deleted")
		c.EntityTouched(work.EntityRef{Kind: "host", ID: "h1"})
	}
	root := work.NewStep(work.NewSequence([]*work.Step{
		work.NewStep(leaf),
		work.NewStep(work.NewScatter([]*work.Step{
			work.NewStep(newFake("probe-a", nil, "wait")),
			work.NewStep(newFake("probe-b", nil, "fail"), work.IgnoreFailure()),
		}), work.WithDescription("probes")),
	}, work.WithFinally(work.NewStep(newFake("cleanup", nil, "ok")))), work.WithDescription("deploy"))

	if err := root.Execute(wctx); err != nil {
		t.Fatal(err)
	}

	want := work.Progress{
		State:       work.StateRunning,
		Description: "deploy",
		Message:     "1 of 2 steps finished",
		Children: []work.Progress{
			{
				State:       work.StateSucceeded,
				Description: "install",
				Message:     "install ok",
				Commands:    []work.CommandInfo{{Ref: "cmd-1", Name: "install", State: "done"}},
				Entities:    []work.EntityInfo{{Kind: "host", ID: "h1", Name: "web-1"}},
			},
			{
				State:       work.StateRunning,
				Description: "probes",
				Message:     "1 of 2 steps finished",
				Parallel:    true,
				Children: []work.Progress{
					{State: work.StateRunning, Description: "probe-a", Message: "probe-a waiting"},
					{State: work.StateSucceeded, Description: "probe-b", Message: "probe-b failed", IgnoreFailure: true},
				},
			},
			{State: work.StateNotRun, Description: "cleanup"},
		},
	}

	got := root.Progress(wctx)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(work.Progress{}, "StartedAt", "EndedAt")); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if got.StartedAt == nil || got.EndedAt != nil {
		t.Errorf("root timestamps = %v / %v", got.StartedAt, got.EndedAt)
	}
}

func TestProgressAbortedIsFailed(t *testing.T) {
	wctx, _ := newContext(t)
	s := work.NewStep(newFake("a", nil, "wait"))
	if err := s.Execute(wctx); err != nil {
		t.Fatal(err)
	}
	_, _ = s.Abort(wctx)

	p := s.Progress(wctx)
	if p.State != work.StateFailed || p.Message != "aborted: a waiting" {
		t.Errorf("state = %s message = %q", p.State, p.Message)
	}
}
