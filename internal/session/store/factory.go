package store

import (
	"context"
	"fmt"

	"github.com/ManuGH/distvote/internal/config"
)

// Open returns the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, opts ...Option) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(opts...), nil
	case config.BackendFile, "":
		return NewFileStore(cfg.Path, opts...)
	case config.BackendSQLite:
		return NewSqliteStore(ctx, cfg.Path, opts...)
	case config.BackendBadger:
		return NewBadgerStore(cfg.Path, opts...)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
