package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
)

var terminalStates = bson.A{
	string(run.StateSucceeded), string(run.StateFailed), string(run.StateAborted),
}

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	t := now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t
	}
	r.UpdatedAt = t
	r.Version = 1

	if _, err := s.runs().InsertOne(ctx, toRunModel(r)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return flowwork.ErrRunAlreadyExists
		}
		return fmt.Errorf("flowwork/mongo: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	var m runModel
	err := s.runs().FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, flowwork.ErrRunNotFound
		}
		return nil, fmt.Errorf("flowwork/mongo: get run: %w", err)
	}
	return fromRunModel(&m)
}

// UpdateRun replaces an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	r.UpdatedAt = now()
	m := toRunModel(r)

	var out runModel
	err := s.runs().FindOneAndUpdate(ctx,
		bson.M{"_id": m.ID},
		bson.M{
			"$set": setFields(m),
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		if isNoDocuments(err) {
			return flowwork.ErrRunNotFound
		}
		return fmt.Errorf("flowwork/mongo: update run: %w", err)
	}
	r.Version = out.Version
	return nil
}

// setFields returns every mutable field of m for a $set update.
func setFields(m *runModel) bson.M {
	return bson.M{
		"name":            m.Name,
		"state":           m.State,
		"tree":            m.Tree,
		"env":             m.Env,
		"message":         m.Message,
		"attempt":         m.Attempt,
		"retry_of":        m.RetryOf,
		"retried_by":      m.RetriedBy,
		"ticks":           m.Ticks,
		"wait_streak":     m.WaitStreak,
		"last_error":      m.LastError,
		"next_tick_at":    m.NextTickAt,
		"abort_requested": m.AbortRequested,
		"lease_owner":     m.LeaseOwner,
		"lease_until":     m.LeaseUntil,
		"started_at":      m.StartedAt,
		"completed_at":    m.CompletedAt,
		"updated_at":      m.UpdatedAt,
	}
}

// Transact reads the run, applies fn and replaces the document only if
// its version is unchanged. Lost races are retried.
func (s *Store) Transact(ctx context.Context, runID id.RunID, fn func(r *run.Run) error) error {
	for range s.maxRetries {
		r, err := s.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		read := r.Version
		if err := fn(r); err != nil {
			return err
		}
		r.ID = runID
		r.Version = read + 1
		r.UpdatedAt = now()

		res, err := s.runs().ReplaceOne(ctx,
			bson.M{"_id": runID.String(), "version": read},
			toRunModel(r),
		)
		if err != nil {
			return fmt.Errorf("flowwork/mongo: transact: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
		s.logger.Debug("run version changed, retrying", "run_id", runID.String(), "version", read)
	}
	return flowwork.ErrConflict
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	filter := bson.M{}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if opts.Name != "" {
		filter["name"] = opts.Name
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.runs().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("flowwork/mongo: list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []runModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("flowwork/mongo: list runs decode: %w", err)
	}

	runs := make([]*run.Run, 0, len(models))
	for i := range models {
		r, convErr := fromRunModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// claimableFilter matches runs due at t that owner may lease.
func claimableFilter(owner string, t time.Time) bson.M {
	return bson.M{
		"state":        bson.M{"$nin": terminalStates},
		"next_tick_at": bson.M{"$lte": t},
		"$or": bson.A{
			bson.M{"lease_owner": ""},
			bson.M{"lease_owner": owner},
			bson.M{"lease_until": bson.M{"$lte": t}},
		},
	}
}

// ClaimDueRuns leases due runs one document at a time with
// FindOneAndUpdate, earliest NextTickAt first.
func (s *Store) ClaimDueRuns(ctx context.Context, owner string, limit int, lease time.Duration, t time.Time) ([]*run.Run, error) {
	var claimed []*run.Run
	claimedIDs := bson.A{}
	for limit <= 0 || len(claimed) < limit {
		filter := claimableFilter(owner, t)
		filter["_id"] = bson.M{"$nin": claimedIDs}

		var m runModel
		err := s.runs().FindOneAndUpdate(ctx,
			filter,
			bson.M{
				"$set": bson.M{
					"lease_owner": owner,
					"lease_until": t.Add(lease),
					"updated_at":  now(),
				},
				"$inc": bson.M{"version": 1},
			},
			options.FindOneAndUpdate().
				SetSort(bson.D{{Key: "next_tick_at", Value: 1}}).
				SetReturnDocument(options.After),
		).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}
			return claimed, fmt.Errorf("flowwork/mongo: claim runs: %w", err)
		}

		r, err := fromRunModel(&m)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, r)
		claimedIDs = append(claimedIDs, m.ID)
	}
	return claimed, nil
}

// ReleaseRun clears the lease if owner holds it.
func (s *Store) ReleaseRun(ctx context.Context, runID id.RunID, owner string) error {
	res, err := s.runs().UpdateOne(ctx,
		bson.M{"_id": runID.String(), "lease_owner": owner},
		bson.M{
			"$set": bson.M{"lease_owner": "", "lease_until": time.Time{}},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("flowwork/mongo: release run: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	res, err := s.runs().DeleteOne(ctx, bson.M{"_id": runID.String()})
	if err != nil {
		return fmt.Errorf("flowwork/mongo: delete run: %w", err)
	}
	if res.DeletedCount == 0 {
		return flowwork.ErrRunNotFound
	}
	return nil
}
