package pgcheckpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leofalp/stategraph/checkpoint"
)

// defaultTableName is the PostgreSQL table used when no custom name is provided.
const defaultTableName = "stategraph_checkpoints"

const pgDuplicateKeyCode = "23505"

// Querier abstracts the pgx query methods needed by Store.
// Both *pgxpool.Pool and pgx.Tx satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements [checkpoint.Store] with PostgreSQL persistence. Thread
// safety is handled by the underlying pgx pool.
type Store struct {
	db Querier

	// name is the raw table name, table its sanitized form for queries.
	name  string
	table string
}

// Compile-time check: Store must implement checkpoint.Store.
var _ checkpoint.Store = (*Store)(nil)

// Option configures optional Store behavior.
type Option func(*Store)

// WithTableName overrides the default table name ("stategraph_checkpoints").
// The name is sanitized via pgx.Identifier since it is interpolated into
// queries.
func WithTableName(name string) Option {
	return func(store *Store) {
		store.name = name
		store.table = pgx.Identifier{name}.Sanitize()
	}
}

// New creates a checkpoint store over db, typically a *pgxpool.Pool.
func New(db Querier, opts ...Option) *Store {
	store := &Store{
		db:    db,
		name:  defaultTableName,
		table: defaultTableName,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Put inserts a record. A duplicate (run_id, seq) maps to checkpoint.ErrConflict.
func (store *Store) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (run_id, seq, step, status, record, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, store.table)

	_, err = store.db.Exec(ctx, query, cp.RunID, cp.Seq, cp.Step, string(cp.Status), data, cp.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateKeyCode {
			return fmt.Errorf("%w: run %q seq %d", checkpoint.ErrConflict, cp.RunID, cp.Seq)
		}
		return fmt.Errorf("pgcheckpoint: put: %w", err)
	}
	return nil
}

// Latest returns the record with the highest seq of a run.
func (store *Store) Latest(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE run_id = $1 ORDER BY seq DESC LIMIT 1`, store.table)

	var data []byte
	if err := store.db.QueryRow(ctx, query, runID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %q", checkpoint.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("pgcheckpoint: latest: %w", err)
	}
	return decode(runID, data)
}

// History returns every record of a run ordered by seq.
func (store *Store) History(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE run_id = $1 ORDER BY seq ASC`, store.table)

	rows, err := store.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("pgcheckpoint: history: %w", err)
	}
	defer rows.Close()

	var history []*checkpoint.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("pgcheckpoint: scan row: %w", err)
		}
		cp, err := decode(runID, data)
		if err != nil {
			return nil, err
		}
		history = append(history, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgcheckpoint: iterate rows: %w", err)
	}

	if len(history) == 0 {
		return nil, fmt.Errorf("%w: run %q", checkpoint.ErrNotFound, runID)
	}
	return history, nil
}

// Delete removes a run together with the subgraph runs nested under it.
func (store *Store) Delete(ctx context.Context, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1 OR starts_with(run_id, $2)`, store.table)
	if _, err := store.db.Exec(ctx, query, runID, runID+"/"); err != nil {
		return fmt.Errorf("pgcheckpoint: delete: %w", err)
	}
	return nil
}

// List returns every stored run id in lexical order.
func (store *Store) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT run_id FROM %s ORDER BY run_id ASC`, store.table)

	rows, err := store.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgcheckpoint: list: %w", err)
	}
	defer rows.Close()

	runIDs := []string{}
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("pgcheckpoint: scan row: %w", err)
		}
		runIDs = append(runIDs, runID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgcheckpoint: iterate rows: %w", err)
	}
	return runIDs, nil
}

func decode(runID string, data []byte) (*checkpoint.Checkpoint, error) {
	cp, err := checkpoint.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("pgcheckpoint: run %q: %w", runID, err)
	}
	return cp, nil
}
