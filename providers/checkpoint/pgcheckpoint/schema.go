package pgcheckpoint

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// createTableSQL mirrors cmd/migrate's first migration. The record column
// holds the full encoded checkpoint; the other columns exist for ordering
// and for operators querying the table directly.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    run_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    step       INTEGER NOT NULL,
    status     TEXT NOT NULL,
    record     JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, seq)
)`

// createStatusIndexSQL supports finding interrupted runs.
const createStatusIndexSQL = `CREATE INDEX IF NOT EXISTS %s ON %s (status)`

// EnsureSchema creates the checkpoint table and its index if they do not
// exist yet.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.db.Exec(ctx, fmt.Sprintf(createTableSQL, store.table)); err != nil {
		return fmt.Errorf("pgcheckpoint: create table: %w", err)
	}

	index := pgx.Identifier{"idx_" + store.name + "_status"}.Sanitize()
	if _, err := store.db.Exec(ctx, fmt.Sprintf(createStatusIndexSQL, index, store.table)); err != nil {
		return fmt.Errorf("pgcheckpoint: create status index: %w", err)
	}
	return nil
}
