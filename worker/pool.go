// Package worker provides the polling loop that claims due runs and ticks
// them concurrently on behalf of an engine.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

// Ticker advances a run by one tick.
type Ticker interface {
	Tick(ctx context.Context, runID id.RunID) (*run.Run, error)
}

// Admitter controls per-lane rate limiting and concurrency. The pool calls
// Acquire with the run name before ticking a claimed run and Release after
// the tick completes.
type Admitter interface {
	Acquire(lane string) bool
	Release(lane string)
}

// Pool claims due runs from the store and ticks them through a Ticker.
type Pool struct {
	store        run.Store
	ticker       Ticker
	admitter     Admitter
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	active atomic.Int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the maximum number of runs ticked at once.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often the pool looks for due runs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseDuration sets how long a claimed run stays owned by the pool.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) { p.lease = d }
}

// WithAdmitter sets the lane admission control.
func WithAdmitter(a Admitter) PoolOption {
	return func(p *Pool) { p.admitter = a }
}

// WithClock overrides the wall clock used for claims.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool.
func NewPool(store run.Store, ticker Ticker, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		ticker:       ticker,
		concurrency:  10,
		pollInterval: time.Second,
		lease:        2 * time.Minute,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier. It is the lease
// owner recorded on claimed runs.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Active returns the number of ticks in flight.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Start launches the polling loop. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.group = new(errgroup.Group)
	p.group.SetLimit(p.concurrency)

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	go p.pollLoop(base)
	return nil
}

// Stop stops claiming new runs and waits for in-flight ticks. If ctx ends
// first, in-flight ticks are cancelled and Stop returns ctx.Err() once
// they have unwound.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	<-p.done

	waited := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		p.cancel()
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active ticks",
			slog.Int("active", p.Active()),
		)
		p.cancel()
		<-waited
		return ctx.Err()
	}
}

// Drain runs a single claim cycle and waits for the claimed ticks to
// finish. It returns the number of runs ticked.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	n, err := p.poll(ctx, g)
	_ = g.Wait()
	return n, err
}

func (p *Pool) pollLoop(ctx context.Context) {
	defer close(p.done)

	for {
		if _, err := p.poll(ctx, p.group); err != nil {
			p.logger.Error("claim due runs", slog.Any("error", err))
		}
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// poll claims up to the free capacity and schedules one tick per admitted
// run on g.
func (p *Pool) poll(ctx context.Context, g *errgroup.Group) (int, error) {
	free := p.concurrency - p.Active()
	if free <= 0 {
		return 0, nil
	}
	owner := p.workerID.String()
	runs, err := p.store.ClaimDueRuns(ctx, owner, free, p.lease, p.now())
	if err != nil {
		return 0, err
	}

	ticked := 0
	for _, r := range runs {
		if p.admitter != nil && !p.admitter.Acquire(r.Name) {
			p.logger.Debug("tick deferred by lane limits",
				slog.String("run_id", r.ID.String()),
				slog.String("run_name", r.Name),
			)
			p.release(ctx, r.ID)
			continue
		}
		ticked++
		p.active.Add(1)
		g.Go(func() error {
			defer p.active.Add(-1)
			if p.admitter != nil {
				defer p.admitter.Release(r.Name)
			}
			p.tick(ctx, r)
			return nil
		})
	}
	return ticked, nil
}

func (p *Pool) tick(ctx context.Context, r *run.Run) {
	defer p.release(ctx, r.ID)

	_, err := p.ticker.Tick(run.WithOwner(ctx, p.workerID.String()), r.ID)
	switch {
	case err == nil:
	case errors.Is(err, flowwork.ErrRunFinished), errors.Is(err, flowwork.ErrRunNotFound):
		p.logger.Debug("claimed run no longer tickable",
			slog.String("run_id", r.ID.String()),
			slog.Any("error", err),
		)
	default:
		p.logger.Debug("tick failed",
			slog.String("run_id", r.ID.String()),
			slog.String("run_name", r.Name),
			slog.Any("error", err),
		)
	}
}

func (p *Pool) release(ctx context.Context, runID id.RunID) {
	ctx = context.WithoutCancel(ctx)
	if err := p.store.ReleaseRun(ctx, runID, p.workerID.String()); err != nil && !errors.Is(err, flowwork.ErrRunNotFound) {
		p.logger.Warn("release run lease",
			slog.String("run_id", runID.String()),
			slog.Any("error", err),
		)
	}
}
