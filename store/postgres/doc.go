// Package postgres implements store.Store using pgx/v5 with raw SQL.
// Features: row-locked Transact, SKIP LOCKED lease claiming, embedded SQL
// migrations.
package postgres
