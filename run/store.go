package run

import (
	"context"
	"time"

	"github.com/xraph/flowwork/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State State
	// Name filters by run name. Empty means all names.
	Name string
}

// Store defines the persistence contract for runs.
type Store interface {
	// CreateRun persists a new run. It returns flowwork.ErrRunAlreadyExists
	// if the ID is taken.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun replaces an existing run, bumping Version and UpdatedAt.
	UpdateRun(ctx context.Context, r *Run) error

	// Transact loads the run, passes a private copy to fn and commits the
	// copy only if fn returns nil. Concurrent transactions on the same run
	// are serialized or fail with flowwork.ErrConflict.
	Transact(ctx context.Context, runID id.RunID, fn func(r *Run) error) error

	// ListRuns returns runs matching opts, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// ClaimDueRuns leases up to limit due runs to owner for the given
	// duration. Runs leased by another live owner are skipped.
	ClaimDueRuns(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*Run, error)

	// ReleaseRun clears the lease if owner still holds it.
	ReleaseRun(ctx context.Context, runID id.RunID, owner string) error

	// DeleteRun removes a run.
	DeleteRun(ctx context.Context, runID id.RunID) error
}
