//go:build mysql

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func fixed(dst []byte, src []byte, what string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("mysql: %s: want %d bytes, got %d", what, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

const accountCols = `id, address, view_key, scan_height, start_height, access_time, creation_time, flags, status`

func scanAccount(row scanner) (store.Account, error) {
	var (
		a         store.Account
		addr, key []byte
	)
	err := row.Scan(&a.ID, &addr, &key, &a.ScanHeight, &a.StartHeight, &a.Access, &a.Creation, &a.Flags, &a.Status)
	if err != nil {
		return a, err
	}
	if a.Address, err = store.AddressFromBytes(addr); err != nil {
		return a, err
	}
	return a, fixed(a.Key[:], key, "view key")
}

const outputCols = `height, tx_hash, id_high, id_low, amount, mixin, out_index, tx_pub, block_time, unlock_time, tx_prefix_hash, pub, ringct_mask, extra, payment_id`

func scanOutput(row scanner) (store.Output, error) {
	var (
		o                                           store.Output
		txHash, txPub, prefix, pub, mask, paymentID []byte
	)
	err := row.Scan(&o.Link.Height, &txHash, &o.Spend.ID.High, &o.Spend.ID.Low, &o.Spend.Amount, &o.Spend.MixinCount,
		&o.Spend.Index, &txPub, &o.Timestamp, &o.UnlockTime, &prefix, &pub, &mask, &o.Extra, &paymentID)
	if err != nil {
		return o, err
	}
	for _, f := range []struct {
		dst  []byte
		src  []byte
		name string
	}{
		{o.Link.TxHash[:], txHash, "tx hash"},
		{o.Spend.TxPublic[:], txPub, "tx pub"},
		{o.TxPrefixHash[:], prefix, "tx prefix hash"},
		{o.Pub[:], pub, "output key"},
		{o.RingctMask[:], mask, "ringct mask"},
		{o.PaymentID[:], paymentID, "payment id"},
	} {
		if err := fixed(f.dst, f.src, f.name); err != nil {
			return o, err
		}
	}
	return o, nil
}

const spendCols = `height, tx_hash, key_image, source_high, source_low, block_time, unlock_time, mixin, pid_len, payment_id`

func scanSpend(row scanner) (store.Spend, error) {
	var (
		s                        store.Spend
		txHash, image, paymentID []byte
	)
	err := row.Scan(&s.Link.Height, &txHash, &image, &s.Source.High, &s.Source.Low, &s.Timestamp, &s.UnlockTime,
		&s.MixinCount, &s.Length, &paymentID)
	if err != nil {
		return s, err
	}
	if err := fixed(s.Link.TxHash[:], txHash, "tx hash"); err != nil {
		return s, err
	}
	if err := fixed(s.Image[:], image, "key image"); err != nil {
		return s, err
	}
	return s, fixed(s.PaymentID[:], paymentID, "payment id")
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func query[T any](ctx context.Context, q querier, what string, scan func(scanner) (T, error), stmt string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql: %s: %w", what, err)
	}
	out, err := collect(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("mysql: %s: %w", what, err)
	}
	return out, nil
}

type readTx struct {
	q querier
}

func (t *readTx) accountWhere(ctx context.Context, cond string, arg any) (store.Account, error) {
	a, err := scanAccount(t.q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE `+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, store.ErrAccountNotFound
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("mysql: get account: %w", err)
	}
	return a, nil
}

func visible(a store.Account, err error) (store.Account, error) {
	if err != nil {
		return store.Account{}, err
	}
	if a.Status == store.StatusHidden {
		return store.Account{}, store.ErrAccountNotFound
	}
	return a, nil
}

func (t *readTx) AccountByAddress(ctx context.Context, addr store.AccountAddress) (store.Account, error) {
	return visible(t.accountWhere(ctx, `address = ?`, addr.Bytes()))
}

func (t *readTx) AccountByID(ctx context.Context, id store.AccountID) (store.Account, error) {
	return visible(t.accountWhere(ctx, `id = ?`, uint32(id)))
}

func (t *readTx) ListAccounts(ctx context.Context, statuses ...store.Status) ([]store.Account, error) {
	if len(statuses) == 0 {
		statuses = []store.Status{store.StatusActive, store.StatusInactive}
	}
	var mask uint32
	for _, st := range statuses {
		mask |= 1 << uint(st)
	}
	return query(ctx, t.q, "list accounts", scanAccount,
		`SELECT `+accountCols+` FROM accounts WHERE (1 << status) & ? <> 0 ORDER BY id`, mask)
}

func (t *readTx) outputsFrom(ctx context.Context, id store.AccountID, height store.BlockID) ([]store.Output, error) {
	return query(ctx, t.q, "outputs", scanOutput, `
SELECT `+outputCols+` FROM outputs
WHERE account_id = ? AND height >= ?
ORDER BY height, tx_hash, id_high, id_low`, uint32(id), uint64(height))
}

func (t *readTx) spendsFrom(ctx context.Context, id store.AccountID, height store.BlockID) ([]store.Spend, error) {
	return query(ctx, t.q, "spends", scanSpend, `
SELECT `+spendCols+` FROM spends
WHERE account_id = ? AND height >= ?
ORDER BY height, tx_hash, key_image, source_high, source_low`, uint32(id), uint64(height))
}

func (t *readTx) Outputs(ctx context.Context, id store.AccountID) ([]store.Output, error) {
	return t.outputsFrom(ctx, id, 0)
}

func (t *readTx) Spends(ctx context.Context, id store.AccountID) ([]store.Spend, error) {
	return t.spendsFrom(ctx, id, 0)
}

func (t *readTx) KeyImages(ctx context.Context, id store.AccountID, source store.OutputID) ([]store.KeyImage, error) {
	return query(ctx, t.q, "key images", func(row scanner) (store.KeyImage, error) {
		var (
			ki            store.KeyImage
			image, txHash []byte
		)
		if err := row.Scan(&image, &ki.Link.Height, &txHash); err != nil {
			return ki, err
		}
		if err := fixed(ki.Value[:], image, "key image"); err != nil {
			return ki, err
		}
		return ki, fixed(ki.Link.TxHash[:], txHash, "tx hash")
	}, `
SELECT key_image, height, tx_hash FROM spends
WHERE account_id = ? AND source_high = ? AND source_low = ?
ORDER BY key_image`, uint32(id), source.High, source.Low)
}

const requestCols = `address, view_key, start_height, creation_time, flags`

func scanRequest(kind store.RequestKind) func(scanner) (store.Request, error) {
	return func(row scanner) (store.Request, error) {
		req := store.Request{Kind: kind}
		var addr, key []byte
		err := row.Scan(&addr, &key, &req.StartHeight, &req.Creation, &req.Flags)
		if err != nil {
			return req, err
		}
		if req.Address, err = store.AddressFromBytes(addr); err != nil {
			return req, err
		}
		return req, fixed(req.Key[:], key, "view key")
	}
}

func (t *readTx) Requests(ctx context.Context, kind store.RequestKind) ([]store.Request, error) {
	return query(ctx, t.q, "requests", scanRequest(kind),
		`SELECT `+requestCols+` FROM requests WHERE kind = ? ORDER BY address`, uint8(kind))
}

func (t *readTx) request(ctx context.Context, kind store.RequestKind, addr store.AccountAddress) (store.Request, bool, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+requestCols+` FROM requests WHERE kind = ? AND address = ?`, uint8(kind), addr.Bytes())
	req, err := scanRequest(kind)(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Request{}, false, nil
	}
	if err != nil {
		return store.Request{}, false, fmt.Errorf("mysql: get request: %w", err)
	}
	return req, true, nil
}

func (t *readTx) BlockHash(ctx context.Context, height store.BlockID) (keys.Hash, bool, error) {
	var (
		h   keys.Hash
		raw []byte
	)
	err := t.q.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height = ?`, uint64(height)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return h, false, nil
	}
	if err != nil {
		return h, false, fmt.Errorf("mysql: get block: %w", err)
	}
	if err := fixed(h[:], raw, "block hash"); err != nil {
		return h, false, err
	}
	return h, true, nil
}

func (t *readTx) ChainHeight(ctx context.Context) (store.BlockID, error) {
	var v uint64
	err := t.q.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'chain_height'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mysql: chain height: %w", err)
	}
	return store.BlockID(v), nil
}

func (t *readTx) ListEvents(ctx context.Context, id store.AccountID, afterID uint64, limit int) ([]store.Event, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	out, err := query(ctx, t.q, "list events", func(row scanner) (store.Event, error) {
		e := store.Event{Account: id}
		var (
			payload []byte
			created time.Time
		)
		if err := row.Scan(&e.ID, &e.Kind, &e.Height, &payload, &created); err != nil {
			return e, err
		}
		e.Payload = payload
		e.CreatedAt = created.UTC()
		return e, nil
	}, `
SELECT id, kind, height, payload, created_at FROM events
WHERE account_id = ? AND id > ?
ORDER BY id
LIMIT ?`, uint32(id), afterID, limit)
	if err != nil {
		return nil, afterID, err
	}
	next := afterID
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (t *readTx) EventCursor(ctx context.Context, id store.AccountID) (uint64, error) {
	var c uint64
	err := t.q.QueryRowContext(ctx, `SELECT cursor_id FROM event_cursors WHERE account_id = ?`, uint32(id)).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mysql: event cursor: %w", err)
	}
	return c, nil
}
