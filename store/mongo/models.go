package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

type runModel struct {
	ID             string            `bson:"_id"`
	Name           string            `bson:"name"`
	State          string            `bson:"state"`
	Tree           []byte            `bson:"tree"`
	Env            map[string]string `bson:"env,omitempty"`
	Message        string            `bson:"message"`
	Attempt        int               `bson:"attempt"`
	RetryOf        string            `bson:"retry_of,omitempty"`
	RetriedBy      string            `bson:"retried_by,omitempty"`
	Ticks          int               `bson:"ticks"`
	WaitStreak     int               `bson:"wait_streak"`
	LastError      string            `bson:"last_error,omitempty"`
	NextTickAt     time.Time         `bson:"next_tick_at"`
	AbortRequested bool              `bson:"abort_requested"`
	LeaseOwner     string            `bson:"lease_owner"`
	LeaseUntil     time.Time         `bson:"lease_until"`
	StartedAt      *time.Time        `bson:"started_at,omitempty"`
	CompletedAt    *time.Time        `bson:"completed_at,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
	Version        int64             `bson:"version"`
}

func toRunModel(r *run.Run) *runModel {
	return &runModel{
		ID:             r.ID.String(),
		Name:           r.Name,
		State:          string(r.State),
		Tree:           r.Tree,
		Env:            r.Env,
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
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flowwork/mongo: parse run id %q: %w", m.ID, err)
	}
	r := &run.Run{
		ID:             runID,
		Name:           m.Name,
		State:          run.State(m.State),
		Tree:           m.Tree,
		Env:            m.Env,
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
	if m.RetryOf != "" {
		if r.RetryOf, err = id.ParseRunID(m.RetryOf); err != nil {
			return nil, fmt.Errorf("flowwork/mongo: parse retry_of: %w", err)
		}
	}
	if m.RetriedBy != "" {
		if r.RetriedBy, err = id.ParseRunID(m.RetriedBy); err != nil {
			return nil, fmt.Errorf("flowwork/mongo: parse retried_by: %w", err)
		}
	}
	return r, nil
}
