package engine

import (
	"context"
	"sync"

	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// session is the transactional scope of one tick. Flush writes the current
// tree into the staged record, which the store commits only if the tick
// succeeds.
type session struct {
	staged *run.Run
	root   *work.Step
	lookup work.Resolver

	batch   bool
	shared  bool
	pending bool

	mu       sync.Mutex
	commands map[string]*work.CommandInfo
	entities map[work.EntityRef]*work.EntityInfo
}

var _ work.Tx = (*session)(nil)

func newSession(r *run.Run, root *work.Step, lookup work.Resolver) *session {
	return &session{staged: r, root: root, lookup: lookup}
}

// Flush encodes the tree into the staged record. While batch commit is on
// the write is deferred to the next Flush after batching ends.
func (s *session) Flush(context.Context) error {
	if s.batch {
		s.pending = true
		return nil
	}
	tree, err := work.Marshal(s.root)
	if err != nil {
		return err
	}
	s.staged.Tree = tree
	s.pending = false
	return nil
}

func (s *session) SetBatchCommit(on bool) bool {
	prev := s.batch
	s.batch = on
	return prev
}

// SetSharedCache toggles memoization of resolver lookups. Turning it off
// drops the cache.
func (s *session) SetSharedCache(on bool) bool {
	prev := s.shared
	s.shared = on
	if !on {
		s.mu.Lock()
		s.commands, s.entities = nil, nil
		s.mu.Unlock()
	}
	return prev
}

func (s *session) resolver() work.Resolver {
	if s.lookup == nil {
		return nil
	}
	return cachingResolver{s}
}

// cachingResolver consults the session cache while shared cache is on.
type cachingResolver struct{ s *session }

func (c cachingResolver) ResolveCommand(ctx context.Context, ref string) (*work.CommandInfo, error) {
	s := c.s
	if !s.shared {
		return s.lookup.ResolveCommand(ctx, ref)
	}
	s.mu.Lock()
	info, ok := s.commands[ref]
	s.mu.Unlock()
	if ok {
		return info, nil
	}
	info, err := s.lookup.ResolveCommand(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.commands == nil {
		s.commands = make(map[string]*work.CommandInfo)
	}
	s.commands[ref] = info
	s.mu.Unlock()
	return info, nil
}

func (c cachingResolver) ResolveEntity(ctx context.Context, ref work.EntityRef) (*work.EntityInfo, error) {
	s := c.s
	if !s.shared {
		return s.lookup.ResolveEntity(ctx, ref)
	}
	s.mu.Lock()
	info, ok := s.entities[ref]
	s.mu.Unlock()
	if ok {
		return info, nil
	}
	info, err := s.lookup.ResolveEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.entities == nil {
		s.entities = make(map[work.EntityRef]*work.EntityInfo)
	}
	s.entities[ref] = info
	s.mu.Unlock()
	return info, nil
}
