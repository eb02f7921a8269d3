// Package storetest holds the conformance suite every run.Store backend
// must pass. Backends call Run from their own tests with a fresh store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

// Factory returns an empty store. Each subtest gets its own store.
type Factory func(t *testing.T) run.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s run.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"Update", testUpdate},
		{"TransactCommit", testTransactCommit},
		{"TransactRollback", testTransactRollback},
		{"TransactMissing", testTransactMissing},
		{"TransactSerializes", testTransactSerializes},
		{"List", testList},
		{"ClaimDueRuns", testClaimDueRuns},
		{"ReleaseRun", testReleaseRun},
		{"DeleteRun", testDeleteRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewRun returns a pending run due at now.
func NewRun(name string, now time.Time) *run.Run {
	return &run.Run{
		ID:         id.NewRunID(),
		Name:       name,
		State:      run.StatePending,
		Tree:       []byte(`{"type":"test.tree","value":{}}`),
		Env:        map[string]string{"region": "eu-west-1"},
		Attempt:    1,
		NextTickAt: now,
		CreatedAt:  now,
	}
}

func base() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func mustCreate(t *testing.T, s run.Store, r *run.Run) {
	t.Helper()
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func testCreateAndGet(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := NewRun("deploy", base())
	mustCreate(t, s, r)

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID.String() != r.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, r.ID)
	}
	if got.Name != "deploy" || got.State != run.StatePending {
		t.Errorf("got name=%q state=%q", got.Name, got.State)
	}
	if string(got.Tree) != string(r.Tree) {
		t.Errorf("Tree = %s, want %s", got.Tree, r.Tree)
	}
	if got.Env["region"] != "eu-west-1" {
		t.Errorf("Env = %v", got.Env)
	}
	if got.Version < 1 {
		t.Errorf("Version = %d, want >= 1", got.Version)
	}

	// Mutating the returned copy must not leak into the store.
	got.Env["region"] = "mutated"
	again, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if again.Env["region"] != "eu-west-1" {
		t.Errorf("store shares memory with caller: %v", again.Env)
	}
}

func testCreateDuplicate(t *testing.T, s run.Store) {
	r := NewRun("deploy", base())
	mustCreate(t, s, r)
	err := s.CreateRun(context.Background(), r.Clone())
	if !errors.Is(err, flowwork.ErrRunAlreadyExists) {
		t.Fatalf("duplicate CreateRun error = %v, want ErrRunAlreadyExists", err)
	}
}

func testGetMissing(t *testing.T, s run.Store) {
	_, err := s.GetRun(context.Background(), id.NewRunID())
	if !errors.Is(err, flowwork.ErrRunNotFound) {
		t.Fatalf("GetRun error = %v, want ErrRunNotFound", err)
	}
}

func testUpdate(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := NewRun("deploy", base())
	mustCreate(t, s, r)

	got, _ := s.GetRun(ctx, r.ID)
	before := got.Version
	got.State = run.StateWaiting
	got.Message = "1 of 2 steps finished"
	got.Ticks = 1
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	after, _ := s.GetRun(ctx, r.ID)
	if after.State != run.StateWaiting || after.Ticks != 1 {
		t.Errorf("got state=%q ticks=%d", after.State, after.Ticks)
	}
	if after.Version <= before {
		t.Errorf("Version = %d, want > %d", after.Version, before)
	}

	missing := NewRun("ghost", base())
	if err := s.UpdateRun(ctx, missing); !errors.Is(err, flowwork.ErrRunNotFound) {
		t.Errorf("UpdateRun(missing) error = %v, want ErrRunNotFound", err)
	}
}

func testTransactCommit(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := NewRun("deploy", base())
	mustCreate(t, s, r)

	err := s.Transact(ctx, r.ID, func(cur *run.Run) error {
		cur.State = run.StateSucceeded
		cur.Message = "done"
		now := base()
		cur.CompletedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.State != run.StateSucceeded || got.Message != "done" {
		t.Errorf("got state=%q message=%q", got.State, got.Message)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}
}

func testTransactRollback(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := NewRun("deploy", base())
	mustCreate(t, s, r)

	boom := errors.New("boom")
	err := s.Transact(ctx, r.ID, func(cur *run.Run) error {
		cur.State = run.StateFailed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transact error = %v, want boom", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.State != run.StatePending {
		t.Errorf("State = %q, rollback did not discard changes", got.State)
	}
}

func testTransactMissing(t *testing.T, s run.Store) {
	err := s.Transact(context.Background(), id.NewRunID(), func(*run.Run) error { return nil })
	if !errors.Is(err, flowwork.ErrRunNotFound) {
		t.Fatalf("Transact error = %v, want ErrRunNotFound", err)
	}
}

func testTransactSerializes(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := NewRun("counter", base())
	mustCreate(t, s, r)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transact(ctx, r.ID, func(cur *run.Run) error {
				cur.Ticks++
				return nil
			})
			switch {
			case err == nil:
				mu.Lock()
				committed++
				mu.Unlock()
			case errors.Is(err, flowwork.ErrConflict):
			default:
				t.Errorf("Transact: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetRun(ctx, r.ID)
	if got.Ticks != committed {
		t.Errorf("Ticks = %d, committed = %d: lost update", got.Ticks, committed)
	}
	if committed == 0 {
		t.Error("no transaction committed")
	}
}

func testList(t *testing.T, s run.Store) {
	ctx := context.Background()
	now := base()
	for i := range 5 {
		r := NewRun(fmt.Sprintf("job-%d", i%2), now.Add(time.Duration(i)*time.Second))
		if i == 4 {
			r.State = run.StateFailed
		}
		mustCreate(t, s, r)
	}

	tests := []struct {
		name  string
		opts  run.ListOpts
		count int
	}{
		{"all", run.ListOpts{}, 5},
		{"limit", run.ListOpts{Limit: 2}, 2},
		{"offset", run.ListOpts{Offset: 3}, 2},
		{"offset past end", run.ListOpts{Offset: 10}, 0},
		{"by state", run.ListOpts{State: run.StateFailed}, 1},
		{"by name", run.ListOpts{Name: "job-1"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(got) != tt.count {
				t.Errorf("ListRuns returned %d runs, want %d", len(got), tt.count)
			}
		})
	}

	all, _ := s.ListRuns(ctx, run.ListOpts{})
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("ListRuns not newest first at %d", i)
		}
	}
}

func testClaimDueRuns(t *testing.T, s run.Store) {
	ctx := context.Background()
	now := base()

	early := NewRun("early", now)
	early.NextTickAt = now.Add(-2 * time.Second)
	late := NewRun("late", now)
	late.NextTickAt = now.Add(-time.Second)
	future := NewRun("future", now)
	future.NextTickAt = now.Add(time.Hour)
	done := NewRun("done", now)
	done.State = run.StateSucceeded
	for _, r := range []*run.Run{early, late, future, done} {
		mustCreate(t, s, r)
	}

	claimed, err := s.ClaimDueRuns(ctx, "wkr-a", 10, time.Minute, now)
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d runs, want 2", len(claimed))
	}
	if claimed[0].Name != "early" || claimed[1].Name != "late" {
		t.Errorf("claim order = %s, %s", claimed[0].Name, claimed[1].Name)
	}
	for _, r := range claimed {
		if r.LeaseOwner != "wkr-a" {
			t.Errorf("LeaseOwner = %q", r.LeaseOwner)
		}
	}

	// Leased by a live owner: another worker gets nothing.
	other, err := s.ClaimDueRuns(ctx, "wkr-b", 10, time.Minute, now)
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("wkr-b claimed %d leased runs", len(other))
	}

	// Expired leases are up for grabs.
	stolen, err := s.ClaimDueRuns(ctx, "wkr-b", 1, time.Minute, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}
	if len(stolen) != 1 || stolen[0].LeaseOwner != "wkr-b" {
		t.Errorf("expected wkr-b to claim one expired run, got %d", len(stolen))
	}
}

func testReleaseRun(t *testing.T, s run.Store) {
	ctx := context.Background()
	now := base()
	r := NewRun("deploy", now)
	mustCreate(t, s, r)

	if _, err := s.ClaimDueRuns(ctx, "wkr-a", 1, time.Minute, now); err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}

	// A non-owner release is ignored.
	if err := s.ReleaseRun(ctx, r.ID, "wkr-b"); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	got, _ := s.GetRun(ctx, r.ID)
	if got.LeaseOwner != "wkr-a" {
		t.Fatalf("LeaseOwner = %q after foreign release", got.LeaseOwner)
	}

	if err := s.ReleaseRun(ctx, r.ID, "wkr-a"); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	got, _ = s.GetRun(ctx, r.ID)
	if got.LeaseOwner != "" {
		t.Errorf("LeaseOwner = %q after release", got.LeaseOwner)
	}

	claimed, _ := s.ClaimDueRuns(ctx, "wkr-b", 1, time.Minute, now)
	if len(claimed) != 1 {
		t.Errorf("released run not claimable, got %d", len(claimed))
	}
}

func testDeleteRun(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := NewRun("deploy", base())
	mustCreate(t, s, r)

	if err := s.DeleteRun(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, r.ID); !errors.Is(err, flowwork.ErrRunNotFound) {
		t.Errorf("GetRun after delete error = %v", err)
	}
	if err := s.DeleteRun(ctx, r.ID); !errors.Is(err, flowwork.ErrRunNotFound) {
		t.Errorf("second DeleteRun error = %v, want ErrRunNotFound", err)
	}
}
