package rocksdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v4"
)

const schemaVersion = "1"

type Store struct {
	mu   sync.Mutex
	db   *pebble.DB
	lock store.LockPolicy
}

type Option func(*Store)

// WithLockPolicy overrides how long Update waits for the writer lock.
func WithLockPolicy(p store.LockPolicy) Option {
	return func(s *Store) { s.lock = p }
}

func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("rocksdb: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rocksdb: mkdir: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: open: %w", err)
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
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.Update(ctx, func(tx store.WriteTx) error {
		t := tx.(*writeTx)
		verKey := keyMeta("schema_version")
		v, ok, err := getRaw(t.r, verKey)
		if err != nil {
			return fmt.Errorf("rocksdb: schema_version: %w", err)
		}
		if ok {
			if string(v) != schemaVersion {
				return fmt.Errorf("rocksdb: unsupported schema version %q", v)
			}
			return nil
		}
		if err := t.batch.Set(verKey, []byte(schemaVersion), pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: set schema_version: %w", err)
		}
		return nil
	})
}

// View runs fn against a snapshot. Writers proceed while it runs.
func (s *Store) View(ctx context.Context, fn func(store.ReadTx) error) error {
	if s.db == nil {
		return store.ErrUnavailable
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(&readTx{r: snap})
}

// Update runs fn in an indexed batch under the writer lock. Nothing fn
// wrote is visible, before or after a restart, unless fn returns nil and
// the synced commit succeeds.
func (s *Store) Update(ctx context.Context, fn func(store.WriteTx) error) error {
	if s.db == nil {
		return store.ErrUnavailable
	}
	err := store.AcquireWriter(ctx, s.lock, func(context.Context) (bool, error) {
		return s.mu.TryLock(), nil
	})
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	tx := &writeTx{
		readTx: readTx{r: batch},
		batch:  batch,
		now:    time.Now().UTC(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("rocksdb: commit: %w", err)
	}
	return nil
}

// reader is the read surface shared by snapshots and indexed batches.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func getRaw(r reader, key []byte) ([]byte, bool, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func getRecord(r reader, key []byte, dst any) (bool, error) {
	v, ok, err := getRaw(r, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := msgpack.Unmarshal(v, dst); err != nil {
		return false, fmt.Errorf("rocksdb: decode %q: %w", key, err)
	}
	return true, nil
}

func getUint64(r reader, key []byte) (uint64, bool, error) {
	v, ok, err := getRaw(r, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("rocksdb: %q corrupt", key)
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// scan calls fn for every key in [lower, upper).
func scan(r reader, lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	return nil
}

func setRecord(b *pebble.Batch, key []byte, v any) error {
	enc, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("rocksdb: encode %q: %w", key, err)
	}
	if err := b.Set(key, enc, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set %q: %w", key, err)
	}
	return nil
}
