//go:build mysql

// Package mysql is the MySQL account store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/Abdullah1738/lws-scan/internal/store"
)

const writerLock = "lws_scan_writer"

type Store struct {
	db   *sql.DB
	lock store.LockPolicy
}

type Option func(*Store)

func WithLockPolicy(p store.LockPolicy) Option {
	return func(s *Store) { s.lock = p }
}

func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql: dsn is required")
	}

	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}
	s := &Store{db: db, lock: store.DefaultLockPolicy}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db)
}

// View runs fn in a read-only consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(store.ReadTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&readTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

// Update takes the named writer lock on a dedicated connection and runs fn
// in a transaction on that connection.
func (s *Store) Update(ctx context.Context, fn func(store.WriteTx) error) error {
	var conn *sql.Conn
	err := store.AcquireWriter(ctx, s.lock, func(ctx context.Context) (bool, error) {
		c, err := s.db.Conn(ctx)
		if err != nil {
			return false, unavailable("conn", err)
		}
		var got sql.NullInt64
		if err := c.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, writerLock).Scan(&got); err != nil {
			_ = c.Close()
			return false, unavailable("writer lock", err)
		}
		if !got.Valid || got.Int64 != 1 {
			_ = c.Close()
			return false, nil
		}
		conn = c
		return true, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT RELEASE_LOCK(?)`, writerLock)
		_ = conn.Close()
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	w := &writeTx{readTx: readTx{q: tx}, now: time.Now().UTC()}
	if err := fn(w); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

// unavailable marks failures that never reached the server as transient.
func unavailable(op string, err error) error {
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		return fmt.Errorf("mysql: %s: %w", op, err)
	}
	return fmt.Errorf("mysql: %s: %w: %w", op, store.ErrUnavailable, err)
}

// isDuplicate reports a unique key violation.
func isDuplicate(err error) bool {
	var myErr *driver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
