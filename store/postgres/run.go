package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	_, err := s.pool.Exec(ctx, `
		INSERT INTO flowwork_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)`,
		r.ID, r.Name, string(r.State), r.Tree, envOrEmpty(r.Env), r.Message, r.Attempt,
		r.RetryOf, r.RetriedBy, r.Ticks, r.WaitStreak, r.LastError,
		r.NextTickAt, r.AbortRequested, r.LeaseOwner, r.LeaseUntil,
		r.StartedAt, r.CompletedAt, r.CreatedAt, r.UpdatedAt, r.Version,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return flowwork.ErrRunAlreadyExists
		}
		return fmt.Errorf("flowwork/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM flowwork_runs WHERE id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flowwork.ErrRunNotFound
		}
		return nil, fmt.Errorf("flowwork/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun replaces an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	return updateRun(ctx, s.pool, r)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateRun(ctx context.Context, db execer, r *run.Run) error {
	r.UpdatedAt = time.Now().UTC()
	err := db.QueryRow(ctx, `
		UPDATE flowwork_runs SET
			name = $2, state = $3, tree = $4, env = $5, message = $6,
			attempt = $7, retry_of = $8, retried_by = $9, ticks = $10,
			wait_streak = $11, last_error = $12, next_tick_at = $13,
			abort_requested = $14, lease_owner = $15, lease_until = $16,
			started_at = $17, completed_at = $18, updated_at = $19,
			version = version + 1
		WHERE id = $1
		RETURNING version`,
		r.ID, r.Name, string(r.State), r.Tree, envOrEmpty(r.Env), r.Message,
		r.Attempt, r.RetryOf, r.RetriedBy, r.Ticks,
		r.WaitStreak, r.LastError, r.NextTickAt,
		r.AbortRequested, r.LeaseOwner, r.LeaseUntil,
		r.StartedAt, r.CompletedAt, r.UpdatedAt,
	).Scan(&r.Version)
	if err != nil {
		if isNoRows(err) {
			return flowwork.ErrRunNotFound
		}
		return fmt.Errorf("flowwork/postgres: update run: %w", err)
	}
	return nil
}

// Transact locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (s *Store) Transact(ctx context.Context, runID id.RunID, fn func(r *run.Run) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+runColumns+` FROM flowwork_runs WHERE id = $1 FOR UPDATE`, runID)
		r, err := scanRun(row)
		if err != nil {
			if isNoRows(err) {
				return flowwork.ErrRunNotFound
			}
			return fmt.Errorf("flowwork/postgres: lock run: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
		r.ID = runID
		return updateRun(ctx, tx, r)
	})
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != "" {
		args = append(args, string(opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}

	q := `SELECT ` + runColumns + ` FROM flowwork_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("flowwork/postgres: list runs: %w", err)
	}
	return collectRuns(rows, "list runs")
}

// ClaimDueRuns leases due runs using FOR UPDATE SKIP LOCKED so concurrent
// workers never claim the same row.
func (s *Store) ClaimDueRuns(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE flowwork_runs SET
			lease_owner = $1,
			lease_until = $2,
			updated_at = NOW(),
			version = version + 1
		WHERE id IN (
			SELECT id FROM flowwork_runs
			WHERE state NOT IN ('succeeded', 'failed', 'aborted')
			  AND next_tick_at <= $3
			  AND (lease_owner = '' OR lease_owner = $1 OR lease_until <= $3)
			ORDER BY next_tick_at ASC
			LIMIT NULLIF($4, 0)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns,
		owner, now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("flowwork/postgres: claim runs: %w", err)
	}
	claimed, err := collectRuns(rows, "claim runs")
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].NextTickAt.Before(claimed[j].NextTickAt)
	})
	return claimed, nil
}

// ReleaseRun clears the lease if owner holds it.
func (s *Store) ReleaseRun(ctx context.Context, runID id.RunID, owner string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		WITH released AS (
			UPDATE flowwork_runs
			SET lease_owner = '', lease_until = NOW(), version = version + 1
			WHERE id = $1 AND lease_owner = $2
		)
		SELECT EXISTS(SELECT 1 FROM flowwork_runs WHERE id = $1)`,
		runID, owner,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("flowwork/postgres: release run: %w", err)
	}
	if !exists {
		return flowwork.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flowwork_runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("flowwork/postgres: delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flowwork.ErrRunNotFound
	}
	return nil
}

func collectRuns(rows pgx.Rows, op string) ([]*run.Run, error) {
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*run.Run, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, fmt.Errorf("flowwork/postgres: %s: %w", op, err)
	}
	return runs, nil
}
