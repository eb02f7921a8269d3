package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/flowwork/store"
)

// Collection name constants.
const (
	colRuns = "flowwork_runs"
)

// defaultMaxRetries bounds version-conflict retries in Transact.
const defaultMaxRetries = 16

var _ store.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db         *mongod.Database
	logger     *slog.Logger
	maxRetries int
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMaxRetries sets how many times Transact retries on a version conflict.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// New creates a new MongoDB store.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:         db,
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

func (s *Store) runs() *mongod.Collection {
	return s.db.Collection(colRuns)
}

// Migrate creates indexes for all flowwork collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("flowwork/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all flowwork collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRuns: {
			// Due scan: state + next tick.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "next_tick_at", Value: 1},
			}},
			// Listing: newest first.
			{Keys: bson.D{
				{Key: "created_at", Value: -1},
				{Key: "_id", Value: -1},
			}},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetName("name_1")},
		},
	}
}
