// Package run defines the durable record of one execution of a step tree
// and the persistence contract the driver uses to advance it.
package run

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/xraph/flowwork/id"
)

// State is the lifecycle state of a run.
type State string

const (
	// StatePending means the run was created but never ticked.
	StatePending State = "pending"
	// StateWaiting means the root step is waiting for another tick.
	StateWaiting State = "waiting"
	// StateSucceeded means the root step finished successfully.
	StateSucceeded State = "succeeded"
	// StateFailed means the root step finished with a failure.
	StateFailed State = "failed"
	// StateAborted means the root step was aborted.
	StateAborted State = "aborted"
)

// Terminal reports whether no further ticks will happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// Run is one execution of a step tree.
type Run struct {
	ID      id.RunID          `json:"id"`
	Name    string            `json:"name"`
	State   State             `json:"state"`
	Tree    []byte            `json:"tree"`
	Env     map[string]string `json:"env,omitempty"`
	Message string            `json:"message,omitempty"`

	// Attempt is 1 for a fresh run and grows by one per retry.
	Attempt   int      `json:"attempt"`
	RetryOf   id.RunID `json:"retry_of,omitempty"`
	RetriedBy id.RunID `json:"retried_by,omitempty"`

	Ticks          int       `json:"ticks"`
	WaitStreak     int       `json:"wait_streak"`
	LastError      string    `json:"last_error,omitempty"`
	NextTickAt     time.Time `json:"next_tick_at"`
	AbortRequested bool      `json:"abort_requested,omitempty"`

	LeaseOwner string    `json:"lease_owner,omitempty"`
	LeaseUntil time.Time `json:"lease_until,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Version increases on every write and guards concurrent updates.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Tree = slices.Clone(r.Tree)
	cp.Env = maps.Clone(r.Env)
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Due reports whether the run should be ticked at now.
func (r *Run) Due(now time.Time) bool {
	return !r.State.Terminal() && !r.NextTickAt.After(now)
}

// Leased reports whether another owner holds a live lease at now.
func (r *Run) Leased(owner string, now time.Time) bool {
	return r.LeaseOwner != "" && r.LeaseOwner != owner && r.LeaseUntil.After(now)
}

type ownerKey struct{}

// WithOwner returns a context carrying the lease owner acting on runs.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the lease owner carried by ctx, or "".
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
