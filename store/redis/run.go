package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

// errSkip aborts a claim attempt for a run that is no longer claimable.
var errSkip = errors.New("skip")

func encodeRun(r *run.Run) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRun(data []byte) (*run.Run, error) {
	var r run.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("flowwork/redis: decode run: %w", err)
	}
	return &r, nil
}

// writeRun queues the document and index updates for r on pipe.
func writeRun(ctx context.Context, pipe goredis.Pipeliner, r *run.Run, data []byte) {
	rID := r.ID.String()
	pipe.Set(ctx, runKey(rID), data, 0)
	if r.State.Terminal() {
		pipe.ZRem(ctx, dueKey, rID)
	} else {
		pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(r.NextTickAt.UnixMilli()), Member: rID})
	}
}

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	data, err := encodeRun(r)
	if err != nil {
		return fmt.Errorf("flowwork/redis: create run: %w", err)
	}
	rID := r.ID.String()

	ok, err := s.client.SetNX(ctx, runKey(rID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("flowwork/redis: create run: %w", err)
	}
	if !ok {
		return flowwork.ErrRunAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, runsByCreatedKey, goredis.Z{Score: float64(r.CreatedAt.UnixNano()), Member: rID})
	if !r.State.Terminal() {
		pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(r.NextTickAt.UnixMilli()), Member: rID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowwork/redis: index run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	data, err := s.client.Get(ctx, runKey(runID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, flowwork.ErrRunNotFound
		}
		return nil, fmt.Errorf("flowwork/redis: get run: %w", err)
	}
	return decodeRun(data)
}

// UpdateRun replaces an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	return s.Transact(ctx, r.ID, func(cur *run.Run) error {
		version := cur.Version
		*cur = *r.Clone()
		cur.Version = version
		return nil
	})
}

// Transact runs fn inside a WATCH/MULTI transaction on the run key.
func (s *Store) Transact(ctx context.Context, runID id.RunID, fn func(r *run.Run) error) error {
	key := runKey(runID.String())

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return flowwork.ErrRunNotFound
			}
			return fmt.Errorf("flowwork/redis: transact get: %w", err)
		}
		r, err := decodeRun(data)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		r.ID = runID
		r.Version++
		r.UpdatedAt = time.Now().UTC()
		out, err := encodeRun(r)
		if err != nil {
			return fmt.Errorf("flowwork/redis: transact encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			writeRun(ctx, pipe, r, out)
			return nil
		})
		return err
	}

	for range s.maxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return flowwork.ErrConflict
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	ids, err := s.client.ZRevRange(ctx, runsByCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("flowwork/redis: list runs: %w", err)
	}

	skipped := 0
	var runs []*run.Run
	for _, rID := range ids {
		data, getErr := s.client.Get(ctx, runKey(rID)).Bytes()
		if getErr != nil {
			continue
		}
		r, convErr := decodeRun(data)
		if convErr != nil {
			s.logger.Warn("skipping undecodable run", "run_id", rID, "error", convErr)
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		runs = append(runs, r)
		if opts.Limit > 0 && len(runs) == opts.Limit {
			break
		}
	}
	return runs, nil
}

// ClaimDueRuns leases due runs, earliest first. Runs that change while
// being claimed are skipped rather than retried.
func (s *Store) ClaimDueRuns(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]*run.Run, error) {
	ids, err := s.client.ZRangeByScore(ctx, dueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("flowwork/redis: claim runs: %w", err)
	}

	var claimed []*run.Run
	for _, rID := range ids {
		if limit > 0 && len(claimed) == limit {
			break
		}
		key := runKey(rID)
		var got *run.Run
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			r, err := decodeRun(data)
			if err != nil {
				return err
			}
			if !r.Due(now) || r.Leased(owner, now) {
				return errSkip
			}
			r.LeaseOwner = owner
			r.LeaseUntil = now.Add(lease)
			r.Version++
			r.UpdatedAt = time.Now().UTC()
			out, err := encodeRun(r)
			if err != nil {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			}); err != nil {
				return err
			}
			got = r
			return nil
		}, key)
		switch {
		case err == nil:
			claimed = append(claimed, got)
		case errors.Is(err, errSkip), errors.Is(err, goredis.TxFailedErr), errors.Is(err, goredis.Nil):
		default:
			return claimed, fmt.Errorf("flowwork/redis: claim run %s: %w", rID, err)
		}
	}
	return claimed, nil
}

// ReleaseRun clears the lease if owner holds it.
func (s *Store) ReleaseRun(ctx context.Context, runID id.RunID, owner string) error {
	err := s.Transact(ctx, runID, func(r *run.Run) error {
		if r.LeaseOwner != owner {
			return errSkip
		}
		r.LeaseOwner = ""
		r.LeaseUntil = time.Time{}
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	return err
}

// DeleteRun removes a run and its index entries.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	rID := runID.String()
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, runKey(rID))
	pipe.ZRem(ctx, runsByCreatedKey, rID)
	pipe.ZRem(ctx, dueKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowwork/redis: delete run: %w", err)
	}
	if del.Val() == 0 {
		return flowwork.ErrRunNotFound
	}
	return nil
}
