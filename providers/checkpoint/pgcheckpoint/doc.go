// Package pgcheckpoint provides a PostgreSQL-backed [checkpoint.Store].
//
// Every record is one row keyed by (run_id, seq) holding the encoded
// checkpoint as JSONB, so a run interrupted on one process can be resumed on
// another that shares the database. Records are append-only: writing an
// existing (run_id, seq) fails with [checkpoint.ErrConflict].
//
// The main entry point is [New]. Use [Store.EnsureSchema] during development
// to create the table; deployments apply the same DDL with cmd/migrate.
package pgcheckpoint
