// Package postgres is the PostgreSQL account store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/db/migrate"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// writerLockKey names the transaction-scoped advisory lock all writers take.
const writerLockKey = 0x6c777377

type Store struct {
	pool *pgxpool.Pool
	lock store.LockPolicy
}

type Option func(*Store)

func WithLockPolicy(p store.LockPolicy) Option {
	return func(s *Store) { s.lock = p }
}

// Open connects to dsn. A non-empty schema is created when missing and put
// on the search path.
func Open(ctx context.Context, dsn string, schema string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse: %w", err)
	}

	if schema = strings.TrimSpace(schema); schema != "" {
		adminConn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		_, err = adminConn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize())
		_ = adminConn.Close(ctx)
		if err != nil {
			return nil, fmt.Errorf("postgres: create schema: %w", err)
		}
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolCfg.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool, lock: store.DefaultLockPolicy}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return migrate.Apply(ctx, s.pool)
}

// View runs fn in a read-only repeatable-read transaction.
func (s *Store) View(ctx context.Context, fn func(store.ReadTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&readTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Update holds the writer advisory lock for the life of the transaction.
func (s *Store) Update(ctx context.Context, fn func(store.WriteTx) error) error {
	var tx pgx.Tx
	err := store.AcquireWriter(ctx, s.lock, func(ctx context.Context) (bool, error) {
		t, err := s.pool.Begin(ctx)
		if err != nil {
			return false, unavailable("begin", err)
		}
		var ok bool
		if err := t.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, writerLockKey).Scan(&ok); err != nil {
			_ = t.Rollback(ctx)
			return false, fmt.Errorf("postgres: writer lock: %w", err)
		}
		if !ok {
			_ = t.Rollback(ctx)
			return false, nil
		}
		tx = t
		return true, nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w := &writeTx{readTx: readTx{q: tx}, tx: tx, now: time.Now().UTC()}
	if err := fn(w); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// unavailable marks connection-level failures as transient.
func unavailable(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, store.ErrUnavailable, err)
}
