package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/flowwork/run"
)

// runColumns lists the flowwork_runs columns in scanRun order.
const runColumns = `id, name, state, tree, env, message, attempt, retry_of, retried_by,
	ticks, wait_streak, last_error, next_tick_at, abort_requested, lease_owner,
	lease_until, started_at, completed_at, created_at, updated_at, version`

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// scanRun reads one row selected with runColumns.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r     run.Run
		state string
		env   map[string]string
	)
	err := row.Scan(
		&r.ID, &r.Name, &state, &r.Tree, &env, &r.Message, &r.Attempt,
		&r.RetryOf, &r.RetriedBy, &r.Ticks, &r.WaitStreak, &r.LastError,
		&r.NextTickAt, &r.AbortRequested, &r.LeaseOwner, &r.LeaseUntil,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	r.State = run.State(state)
	if len(env) > 0 {
		r.Env = env
	}
	r.NextTickAt = r.NextTickAt.UTC()
	r.LeaseUntil = r.LeaseUntil.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.StartedAt = utcPtr(r.StartedAt)
	r.CompletedAt = utcPtr(r.CompletedAt)
	return &r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// envOrEmpty keeps the NOT NULL env column satisfied.
func envOrEmpty(env map[string]string) map[string]string {
	if env == nil {
		return map[string]string{}
	}
	return env
}
