package bunstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle. The Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

const migrationLock int64 = 0x666c6f77

// migrationModel records one applied migration file.
type migrationModel struct {
	bun.BaseModel `bun:"table:flowwork_migrations"`

	Filename  string    `bun:"filename,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// Migrate applies the embedded SQL files in filename order, each in its
// own transaction together with its bookkeeping row.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*migrationModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", flowwork.ErrMigrationFailed, err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read migrations: %w", flowwork.ErrMigrationFailed, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		applied, err := s.applyMigration(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", flowwork.ErrMigrationFailed, name, err)
		}
		if applied {
			s.logger.Info("applied migration", slog.String("file", name))
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, name string) (bool, error) {
	data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
	if err != nil {
		return false, err
	}

	applied := false
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Same key as the postgres store: both migrate one schema.
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", migrationLock); err != nil {
			return err
		}
		done, err := tx.NewSelect().
			Model((*migrationModel)(nil)).
			Where("filename = ?", name).
			Exists(ctx)
		if err != nil || done {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return err
		}
		_, err = tx.NewInsert().
			Model(&migrationModel{Filename: name, AppliedAt: time.Now().UTC()}).
			Exec(ctx)
		applied = err == nil
		return err
	})
	return applied, err
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
