package run_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

func TestStateTerminal(t *testing.T) {
	tests := []struct {
		state run.State
		want  bool
	}{
		{run.StatePending, false},
		{run.StateWaiting, false},
		{run.StateSucceeded, true},
		{run.StateFailed, true},
		{run.StateAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	r := &run.Run{
		ID:        id.NewRunID(),
		Name:      "deploy",
		Tree:      []byte(`{"unit":{}}`),
		Env:       map[string]string{"k": "v"},
		StartedAt: &now,
	}
	cp := r.Clone()
	if diff := cmp.Diff(r, cp, cmp.Comparer(func(a, b id.ID) bool { return a.String() == b.String() })); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	cp.Tree[0] = 'X'
	cp.Env["k"] = "changed"
	*cp.StartedAt = now.Add(time.Hour)
	if r.Tree[0] != '{' || r.Env["k"] != "v" || !r.StartedAt.Equal(now) {
		t.Error("clone shares memory with the original")
	}
}

func TestDueAndLeased(t *testing.T) {
	now := time.Now()
	r := &run.Run{State: run.StateWaiting, NextTickAt: now}
	if !r.Due(now) {
		t.Error("run due at now should be due")
	}
	r.NextTickAt = now.Add(time.Second)
	if r.Due(now) {
		t.Error("future run should not be due")
	}
	r.State = run.StateSucceeded
	r.NextTickAt = now
	if r.Due(now) {
		t.Error("terminal run should never be due")
	}

	r.LeaseOwner, r.LeaseUntil = "a", now.Add(time.Minute)
	if !r.Leased("b", now) || r.Leased("a", now) {
		t.Error("lease ownership misreported")
	}
	if r.Leased("b", now.Add(2*time.Minute)) {
		t.Error("expired lease still held")
	}
}

func TestOwnerContext(t *testing.T) {
	if got := run.OwnerFrom(context.Background()); got != "" {
		t.Errorf("OwnerFrom(empty) = %q", got)
	}
	ctx := run.WithOwner(context.Background(), "wkr_1")
	if got := run.OwnerFrom(ctx); got != "wkr_1" {
		t.Errorf("OwnerFrom = %q, want wkr_1", got)
	}
}
