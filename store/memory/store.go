package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
// Records are copied on the way in and out so callers never share memory
// with the store.
type Store struct {
	mu   sync.Mutex
	runs map[string]*run.Run
	now  func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		runs: make(map[string]*run.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return flowwork.ErrRunAlreadyExists
	}
	now := m.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1
	m.runs[key] = r.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, flowwork.ErrRunNotFound
	}
	return r.Clone(), nil
}

// UpdateRun replaces an existing run.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(r)
}

func (m *Store) put(r *run.Run) error {
	cur, ok := m.runs[r.ID.String()]
	if !ok {
		return flowwork.ErrRunNotFound
	}
	r.Version = cur.Version + 1
	r.UpdatedAt = m.now()
	m.runs[r.ID.String()] = r.Clone()
	return nil
}

// Transact runs fn against a copy of the run while holding the store lock.
func (m *Store) Transact(_ context.Context, runID id.RunID, fn func(r *run.Run) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.runs[runID.String()]
	if !ok {
		return flowwork.ErrRunNotFound
	}
	staged := cur.Clone()
	if err := fn(staged); err != nil {
		return err
	}
	staged.ID = cur.ID
	return m.put(staged)
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID.String() > result[k].ID.String()
		}
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ClaimDueRuns leases due runs, earliest NextTickAt first.
func (m *Store) ClaimDueRuns(_ context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*run.Run
	for _, r := range m.runs {
		if r.Due(now) && !r.Leased(owner, now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		return due[i].NextTickAt.Before(due[k].NextTickAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*run.Run, 0, len(due))
	for _, r := range due {
		r.LeaseOwner = owner
		r.LeaseUntil = now.Add(lease)
		r.Version++
		r.UpdatedAt = m.now()
		claimed = append(claimed, r.Clone())
	}
	return claimed, nil
}

// ReleaseRun clears the lease if owner holds it.
func (m *Store) ReleaseRun(_ context.Context, runID id.RunID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return flowwork.ErrRunNotFound
	}
	if r.LeaseOwner != owner {
		return nil
	}
	r.LeaseOwner = ""
	r.LeaseUntil = time.Time{}
	r.Version++
	return nil
}

// DeleteRun removes a run.
func (m *Store) DeleteRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID.String()]; !ok {
		return flowwork.ErrRunNotFound
	}
	delete(m.runs, runID.String())
	return nil
}
