package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

type runModel struct {
	bun.BaseModel `bun:"table:flowwork_runs"`

	ID             string            `bun:"id,pk"`
	Name           string            `bun:"name,notnull"`
	State          string            `bun:"state,notnull"`
	Tree           []byte            `bun:"tree,type:bytea,notnull"`
	Env            map[string]string `bun:"env,type:jsonb,notnull"`
	Message        string            `bun:"message,notnull"`
	Attempt        int               `bun:"attempt,notnull"`
	RetryOf        string            `bun:"retry_of,nullzero"`
	RetriedBy      string            `bun:"retried_by,nullzero"`
	Ticks          int               `bun:"ticks,notnull"`
	WaitStreak     int               `bun:"wait_streak,notnull"`
	LastError      string            `bun:"last_error,notnull"`
	NextTickAt     time.Time         `bun:"next_tick_at,notnull"`
	AbortRequested bool              `bun:"abort_requested,notnull"`
	LeaseOwner     string            `bun:"lease_owner,notnull"`
	LeaseUntil     time.Time         `bun:"lease_until,notnull"`
	StartedAt      *time.Time        `bun:"started_at"`
	CompletedAt    *time.Time        `bun:"completed_at"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
	UpdatedAt      time.Time         `bun:"updated_at,notnull"`
	Version        int64             `bun:"version,notnull"`
}

func toRunModel(r *run.Run) *runModel {
	env := r.Env
	if env == nil {
		env = map[string]string{}
	}
	return &runModel{
		ID:             r.ID.String(),
		Name:           r.Name,
		State:          string(r.State),
		Tree:           r.Tree,
		Env:            env,
		Message:        r.Message,
		Attempt:        r.Attempt,
		RetryOf:        r.RetryOf.String(),
		RetriedBy:      r.RetriedBy.String(),
		Ticks:          r.Ticks,
		WaitStreak:     r.WaitStreak,
		LastError:      r.LastError,
		NextTickAt:     r.NextTickAt,
		AbortRequested: r.AbortRequested,
		LeaseOwner:     r.LeaseOwner,
		LeaseUntil:     r.LeaseUntil,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Version:        r.Version,
	}
}

func fromRunModel(m *runModel) (*run.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flowwork/bun: parse run id %q: %w", m.ID, err)
	}
	r := &run.Run{
		ID:             parsedID,
		Name:           m.Name,
		State:          run.State(m.State),
		Tree:           m.Tree,
		Message:        m.Message,
		Attempt:        m.Attempt,
		Ticks:          m.Ticks,
		WaitStreak:     m.WaitStreak,
		LastError:      m.LastError,
		NextTickAt:     m.NextTickAt.UTC(),
		AbortRequested: m.AbortRequested,
		LeaseOwner:     m.LeaseOwner,
		LeaseUntil:     m.LeaseUntil.UTC(),
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
		Version:        m.Version,
	}
	if len(m.Env) > 0 {
		r.Env = m.Env
	}
	if m.RetryOf != "" {
		if r.RetryOf, err = id.ParseRunID(m.RetryOf); err != nil {
			return nil, fmt.Errorf("flowwork/bun: parse retry_of: %w", err)
		}
	}
	if m.RetriedBy != "" {
		if r.RetriedBy, err = id.ParseRunID(m.RetriedBy); err != nil {
			return nil, fmt.Errorf("flowwork/bun: parse retried_by: %w", err)
		}
	}
	return r, nil
}

func fromRunModels(models []runModel) ([]*run.Run, error) {
	runs := make([]*run.Run, 0, len(models))
	for i := range models {
		r, err := fromRunModel(&models[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}
