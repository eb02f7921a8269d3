package queue

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Wildcard names the template config applied to unconfigured lanes.
const Wildcard = "*"

// Config defines per-lane behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the lane identifier (the run name), or Wildcard.
	Name string

	// MaxConcurrency limits how many ticks of this lane may run at once.
	// Zero means no lane-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained ticks per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token bucket. Defaults to 1 if
	// RateLimit is set but RateBurst is zero.
	RateBurst int
}

// laneState tracks runtime state for a single lane.
type laneState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newLaneState(cfg Config) *laneState {
	ls := &laneState{config: cfg}
	if cfg.RateLimit > 0 {
		ls.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return ls
}

// saturated reports whether the lane is at its concurrency cap.
func (ls *laneState) saturated() bool {
	return ls.config.MaxConcurrency > 0 && ls.active >= ls.config.MaxConcurrency
}

// Manager controls per-lane rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	lanes    map[string]*laneState
	template *Config
	global   *laneState
}

// NewManager creates a Manager with the given lane configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{lanes: make(map[string]*laneState, len(configs))}
	for _, cfg := range configs {
		m.setLocked(cfg)
	}
	return m
}

// SetGlobal installs a pool-wide limit checked before every lane. The
// config name is ignored.
func (m *Manager) SetGlobal(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gs := newLaneState(cfg)
	if m.global != nil {
		gs.active = m.global.active
	}
	m.global = gs
}

// SetConfig dynamically updates (or creates) a lane configuration.
// Current active counts are preserved.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(cfg)
}

func (m *Manager) setLocked(cfg Config) {
	if cfg.Name == Wildcard {
		tmpl := cfg
		m.template = &tmpl
		return
	}
	ls := newLaneState(cfg)
	if existing := m.lanes[cfg.Name]; existing != nil {
		ls.active = existing.active
	}
	m.lanes[cfg.Name] = ls
}

// lane returns the state for name, instantiating it from the template.
func (m *Manager) lane(name string) *laneState {
	if ls := m.lanes[name]; ls != nil {
		return ls
	}
	if m.template == nil {
		return nil
	}
	cfg := *m.template
	cfg.Name = name
	ls := newLaneState(cfg)
	m.lanes[name] = ls
	return ls
}

// Acquire reports whether a tick of lane may start now. On true the caller
// MUST call Release when the tick completes. A denied Acquire consumes no
// rate tokens.
func (m *Manager) Acquire(lane string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls := m.lane(lane)
	if m.global != nil && m.global.saturated() {
		return false
	}
	if ls != nil && ls.saturated() {
		return false
	}

	var reserved []*rate.Reservation
	for _, st := range []*laneState{m.global, ls} {
		if st == nil || st.limiter == nil {
			continue
		}
		r := st.limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			for _, prev := range reserved {
				prev.Cancel()
			}
			return false
		}
		reserved = append(reserved, r)
	}

	if m.global != nil {
		m.global.active++
	}
	if ls != nil {
		ls.active++
	}
	return true
}

// Release decrements the active tick count for the lane.
func (m *Manager) Release(lane string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ls := m.lanes[lane]; ls != nil && ls.active > 0 {
		ls.active--
	}
	if m.global != nil && m.global.active > 0 {
		m.global.active--
	}
}

// ActiveCount returns the current number of active ticks for a lane.
func (m *Manager) ActiveCount(lane string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls := m.lanes[lane]; ls != nil {
		return ls.active
	}
	return 0
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Name           string  `json:"name"`
	Active         int     `json:"active"`
	MaxConcurrency int     `json:"max_concurrency,omitempty"`
	RateLimit      float64 `json:"rate_limit,omitempty"`
}

// Stats returns the known lanes sorted by name.
func (m *Manager) Stats() []LaneStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LaneStats, 0, len(m.lanes))
	for name, ls := range m.lanes {
		out = append(out, LaneStats{
			Name:           name,
			Active:         ls.active,
			MaxConcurrency: ls.config.MaxConcurrency,
			RateLimit:      ls.config.RateLimit,
		})
	}
	slices.SortFunc(out, func(a, b LaneStats) int { return strings.Compare(a.Name, b.Name) })
	return out
}
