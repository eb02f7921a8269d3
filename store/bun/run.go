package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"

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

	_, err := s.db.NewInsert().Model(toRunModel(r)).Exec(ctx)
	return runErr("create run", err)
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	m := new(runModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", runID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, runErr("get run", err)
	}
	return fromRunModel(m)
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	return updateRun(ctx, s.db, r)
}

func updateRun(ctx context.Context, db bun.IDB, r *run.Run) error {
	r.UpdatedAt = time.Now().UTC()
	m := toRunModel(r)
	err := db.NewUpdate().Model(m).
		ExcludeColumn("id", "created_at").
		Value("version", "version + 1").
		WherePK().
		Returning("version").
		Scan(ctx, &r.Version)
	return runErr("update run", err)
}

// Transact locks the row with SELECT ... FOR UPDATE inside RunInTx.
func (s *Store) Transact(ctx context.Context, runID id.RunID, fn func(r *run.Run) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		m := new(runModel)
		err := tx.NewSelect().Model(m).
			Where("id = ?", runID.String()).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return runErr("lock run", err)
		}
		r, err := fromRunModel(m)
		if err != nil {
			return err
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
	var models []runModel
	q := s.db.NewSelect().Model(&models)

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}

	q = q.OrderExpr("created_at DESC, id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("flowwork/bun: list runs: %w", err)
	}
	return fromRunModels(models)
}

// ClaimDueRuns leases due runs with FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimDueRuns(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*run.Run, error) {
	due := s.db.NewSelect().
		Model((*runModel)(nil)).
		Column("id").
		Where("state NOT IN (?)", bun.In([]string{
			string(run.StateSucceeded), string(run.StateFailed), string(run.StateAborted),
		})).
		Where("next_tick_at <= ?", now).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("lease_owner = ''").
				WhereOr("lease_owner = ?", owner).
				WhereOr("lease_until <= ?", now)
		}).
		OrderExpr("next_tick_at ASC").
		For("UPDATE SKIP LOCKED")
	if limit > 0 {
		due = due.Limit(limit)
	}

	var models []runModel
	err := s.db.NewRaw(`
		UPDATE flowwork_runs SET
			lease_owner = ?,
			lease_until = ?,
			updated_at = ?,
			version = version + 1
		WHERE id IN (?)
		RETURNING *`,
		owner, now.Add(lease), time.Now().UTC(), due,
	).Scan(ctx, &models)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("flowwork/bun: claim runs: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.Slice(models, func(i, j int) bool {
		return models[i].NextTickAt.Before(models[j].NextTickAt)
	})
	return fromRunModels(models)
}

// ReleaseRun clears the lease if owner holds it.
func (s *Store) ReleaseRun(ctx context.Context, runID id.RunID, owner string) error {
	res, err := s.db.NewUpdate().
		Model((*runModel)(nil)).
		Set("lease_owner = ''").
		Set("lease_until = ?", time.Now().UTC()).
		Set("version = version + 1").
		Where("id = ?", runID.String()).
		Where("lease_owner = ?", owner).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flowwork/bun: release run: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 { //nolint:errcheck // driver always returns nil
		return nil
	}
	exists, err := s.db.NewSelect().Model((*runModel)(nil)).
		Where("id = ?", runID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("flowwork/bun: release run: %w", err)
	}
	if !exists {
		return flowwork.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.NewDelete().
		Model((*runModel)(nil)).
		Where("id = ?", runID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flowwork/bun: delete run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return flowwork.ErrRunNotFound
	}
	return nil
}
