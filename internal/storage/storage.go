// Package storage opens the configured store backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/store/postgres"
	"github.com/Abdullah1738/lws-scan/internal/store/rocksdb"
)

type Config struct {
	Driver string

	DSN    string
	Schema string
	Path   string

	// Lock overrides how long writers wait for the write lock.
	Lock store.LockPolicy
}

func Open(ctx context.Context, cfg Config) (store.Store, error) {
	lock := cfg.Lock
	if lock.Base <= 0 {
		lock = store.DefaultLockPolicy
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "rocksdb", "pebble":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: db path is required for rocksdb")
		}
		return rocksdb.Open(cfg.Path, rocksdb.WithLockPolicy(lock))
	case "postgres":
		return postgres.Open(ctx, cfg.DSN, cfg.Schema, postgres.WithLockPolicy(lock))
	case "mysql":
		return openMySQL(ctx, cfg.DSN, lock)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
