package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/queue"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/store/memory"
	"github.com/xraph/flowwork/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// finisher is a Ticker that marks every run succeeded.
type finisher struct {
	store run.Store

	mu     sync.Mutex
	ticked []id.RunID
	owners []string
	hold   chan struct{}
	calls  atomic.Int64
}

func (f *finisher) Tick(ctx context.Context, runID id.RunID) (*run.Run, error) {
	f.calls.Add(1)
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.ticked = append(f.ticked, runID)
	f.owners = append(f.owners, run.OwnerFrom(ctx))
	f.mu.Unlock()

	var out *run.Run
	err := f.store.Transact(ctx, runID, func(r *run.Run) error {
		r.State = run.StateSucceeded
		out = r
		return nil
	})
	return out, err
}

func seedRuns(t *testing.T, s *memory.Store, name string, n int) []id.RunID {
	t.Helper()
	ids := make([]id.RunID, 0, n)
	for range n {
		r := &run.Run{
			ID:      id.NewRunID(),
			Name:    name,
			State:   run.StatePending,
			Attempt: 1,
		}
		if err := s.CreateRun(context.Background(), r); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}
	return ids
}

func TestPool_StartStop(t *testing.T) {
	s := memory.New()
	pool := worker.NewPool(s, &finisher{store: s}, testLogger(),
		worker.WithConcurrency(2),
		worker.WithPollInterval(50*time.Millisecond),
	)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_TicksDueRuns(t *testing.T) {
	s := memory.New()
	tk := &finisher{store: s}
	pool := worker.NewPool(s, tk, testLogger(),
		worker.WithConcurrency(4),
		worker.WithPollInterval(10*time.Millisecond),
	)
	ids := seedRuns(t, s, "deploy", 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		done := 0
		for _, rid := range ids {
			r, err := s.GetRun(context.Background(), rid)
			if err != nil {
				t.Fatal(err)
			}
			if r.State == run.StateSucceeded {
				done++
			}
		}
		if done == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d runs ticked", done, len(ids))
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	for _, rid := range ids {
		r, _ := s.GetRun(context.Background(), rid)
		if r.LeaseOwner != "" {
			t.Errorf("run %s still leased by %q", rid, r.LeaseOwner)
		}
	}
}

func TestPool_DrainPassesLeaseOwner(t *testing.T) {
	s := memory.New()
	tk := &finisher{store: s}
	pool := worker.NewPool(s, tk, testLogger(), worker.WithConcurrency(2))
	seedRuns(t, s, "deploy", 1)

	n, err := pool.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ticked = %d, want 1", n)
	}
	if len(tk.owners) != 1 || tk.owners[0] != pool.WorkerID().String() {
		t.Errorf("owners = %v, want [%s]", tk.owners, pool.WorkerID())
	}
}

func TestPool_DrainRespectsConcurrency(t *testing.T) {
	s := memory.New()
	tk := &finisher{store: s}
	pool := worker.NewPool(s, tk, testLogger(), worker.WithConcurrency(2))
	seedRuns(t, s, "deploy", 5)

	n, err := pool.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("first drain ticked %d, want 2", n)
	}
	n, _ = pool.Drain(context.Background())
	if n != 2 {
		t.Errorf("second drain ticked %d, want 2", n)
	}
	n, _ = pool.Drain(context.Background())
	if n != 1 {
		t.Errorf("third drain ticked %d, want 1", n)
	}
}

func TestPool_LaneLimitsDeferTicks(t *testing.T) {
	s := memory.New()
	tk := &finisher{store: s}
	qm := queue.NewManager(queue.Config{Name: "backup", RateLimit: 0.001, RateBurst: 1})
	pool := worker.NewPool(s, tk, testLogger(),
		worker.WithConcurrency(10),
		worker.WithAdmitter(qm),
	)
	backups := seedRuns(t, s, "backup", 3)
	seedRuns(t, s, "deploy", 2)

	n, err := pool.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("ticked = %d, want 3 (1 backup + 2 deploy)", n)
	}

	pending := 0
	for _, rid := range backups {
		r, _ := s.GetRun(context.Background(), rid)
		if r.State == run.StatePending {
			pending++
			if r.LeaseOwner != "" {
				t.Errorf("deferred run %s kept its lease", rid)
			}
		}
	}
	if pending != 2 {
		t.Errorf("pending backups = %d, want 2", pending)
	}
	if qm.ActiveCount("backup") != 0 {
		t.Errorf("lane slots leaked: %d", qm.ActiveCount("backup"))
	}
}

func TestPool_StopCancelsAfterDeadline(t *testing.T) {
	s := memory.New()
	tk := &finisher{store: s, hold: make(chan struct{})}
	pool := worker.NewPool(s, tk, testLogger(),
		worker.WithConcurrency(1),
		worker.WithPollInterval(5*time.Millisecond),
	)
	seedRuns(t, s, "slow", 1)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for tk.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tick never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err == nil {
		t.Fatal("expected deadline error from Stop")
	}
	if pool.Active() != 0 {
		t.Errorf("active = %d after stop", pool.Active())
	}
}
