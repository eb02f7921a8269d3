// Package store defines the aggregate persistence interface. Backends:
// Memory, Redis, PostgreSQL (pgx), Bun and MongoDB.
package store

import (
	"context"

	"github.com/xraph/flowwork/run"
)

// Store is the aggregate persistence interface.
type Store interface {
	run.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
