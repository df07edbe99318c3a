// Package storage opens the checkpoint store selected by internal/config.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leofalp/stategraph/checkpoint"
	"github.com/leofalp/stategraph/internal/config"
	"github.com/leofalp/stategraph/providers/checkpoint/pgcheckpoint"
)

// Open returns the configured checkpoint store and a function releasing it.
// A postgres store is pinged before it is returned.
func Open(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := checkpoint.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return pgcheckpoint.New(pool, pgcheckpoint.WithTableName(cfg.Table)), pool.Close, nil
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
