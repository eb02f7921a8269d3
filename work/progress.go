package work

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/flowwork"
)

// State is the reporting bucket of a step. Failed covers both failed
// and aborted steps.
type State string

const (
	StateNotRun    State = "not_run"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// CommandInfo describes a child command spawned by a step.
type CommandInfo struct {
	Ref    string `json:"ref"`
	Name   string `json:"name,omitempty"`
	State  string `json:"state,omitempty"`
	Remote string `json:"remote,omitempty"`
}

// EntityInfo describes a domain entity touched by a step.
type EntityInfo struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Resolver looks up side links for progress reports. Implementations
// return an error wrapping flowwork.ErrRefNotFound for references that no
// longer exist; those are left out of the report.
type Resolver interface {
	ResolveCommand(ctx context.Context, ref string) (*CommandInfo, error)
	ResolveEntity(ctx context.Context, ref EntityRef) (*EntityInfo, error)
}

// Progress is a read-only snapshot of a step and its children.
type Progress struct {
	State         State         `json:"state"`
	Description   string        `json:"description"`
	Message       string        `json:"message,omitempty"`
	IgnoreFailure bool          `json:"ignore_failure,omitempty"`
	TimedOut      bool          `json:"timed_out,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Parallel      bool          `json:"parallel,omitempty"`
	Children      []Progress    `json:"children,omitempty"`
	Commands      []CommandInfo `json:"commands,omitempty"`
	Entities      []EntityInfo  `json:"entities,omitempty"`
}

// State maps the step status onto a reporting bucket.
func (s *Step) State() State {
	switch s.status {
	case StatusRunning:
		if s.Terminal() {
			return StateFailed
		}
		return StateRunning
	case StatusDone:
		if s.Kind() == KindSuccess {
			return StateSucceeded
		}
		return StateFailed
	case StatusAborted:
		return StateFailed
	default:
		return StateNotRun
	}
}

// Progress builds the progress snapshot of the step. Side links are
// resolved through the context's resolver, if any.
func (s *Step) Progress(wctx *Context) Progress {
	p := Progress{
		State:         s.State(),
		Description:   s.Description(),
		Message:       s.Message(),
		IgnoreFailure: s.ignoreFailure,
		TimedOut:      s.timedOut,
		StartedAt:     timePtr(s.startedAt),
		EndedAt:       timePtr(s.endedAt),
	}
	if c, ok := s.unit.(Composite); ok {
		p.Parallel = c.Parallel()
		for _, child := range c.Children() {
			p.Children = append(p.Children, child.Progress(wctx))
		}
	}
	if r := wctx.Resolver(); r != nil {
		p.Commands = s.resolveCommands(wctx, r)
		p.Entities = s.resolveEntities(wctx, r)
	}
	return p
}

func (s *Step) resolveCommands(wctx *Context, r Resolver) []CommandInfo {
	var out []CommandInfo
	for _, ref := range s.childCommands {
		info, err := r.ResolveCommand(wctx.Context(), ref)
		if err != nil {
			logUnresolved(wctx, "command", ref, err)
			continue
		}
		if info != nil {
			out = append(out, *info)
		}
	}
	return out
}

func (s *Step) resolveEntities(wctx *Context, r Resolver) []EntityInfo {
	var out []EntityInfo
	for _, ref := range s.entities {
		info, err := r.ResolveEntity(wctx.Context(), ref)
		if err != nil {
			logUnresolved(wctx, "entity", ref.Kind+":"+ref.ID, err)
			continue
		}
		if info != nil {
			out = append(out, *info)
		}
	}
	return out
}

func logUnresolved(wctx *Context, what, ref string, err error) {
	if errors.Is(err, flowwork.ErrRefNotFound) {
		return
	}
	wctx.Logger().Warn("progress: unresolved reference",
		slog.String("kind", what),
		slog.String("ref", ref),
		slog.Any("error", err),
	)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
