package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BIGINT columns carry uint64 bit patterns.
func i64[U ~uint64 | ~uint32](v U) int64 { return int64(v) }

func fixed(dst []byte, src []byte, what string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("postgres: %s: want %d bytes, got %d", what, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

// maxHeight is the largest height a BIGINT comparison can express.
const maxHeight = store.BlockID(math.MaxInt64)

const accountCols = `id, address, view_key, scan_height, start_height, access_time, creation_time, flags, status`

func scanAccount(row pgx.Row) (store.Account, error) {
	var (
		a                                 store.Account
		id, scan, start, access, creation int64
		addr, key                         []byte
		flags, status                     int16
	)
	if err := row.Scan(&id, &addr, &key, &scan, &start, &access, &creation, &flags, &status); err != nil {
		return a, err
	}
	var err error
	if a.Address, err = store.AddressFromBytes(addr); err != nil {
		return a, err
	}
	if err := fixed(a.Key[:], key, "view key"); err != nil {
		return a, err
	}
	a.ID = store.AccountID(id)
	a.ScanHeight = store.BlockID(scan)
	a.StartHeight = store.BlockID(start)
	a.Access = store.AccountTime(access)
	a.Creation = store.AccountTime(creation)
	a.Flags = store.AccountFlags(flags)
	a.Status = store.Status(status)
	return a, nil
}

const outputCols = `height, tx_hash, id_high, id_low, amount, mixin, out_index, tx_pub, block_time, unlock_time, tx_prefix_hash, pub, ringct_mask, extra, payment_id`

func scanOutput(row pgx.Row) (store.Output, error) {
	var (
		o                                           store.Output
		height, high, low, amount, mixin, index     int64
		ts, unlock                                  int64
		txHash, txPub, prefix, pub, mask, paymentID []byte
		extra                                       int16
	)
	err := row.Scan(&height, &txHash, &high, &low, &amount, &mixin, &index, &txPub, &ts, &unlock, &prefix, &pub, &mask, &extra, &paymentID)
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
	o.Link.Height = store.BlockID(height)
	o.Spend.ID = store.OutputID{High: uint64(high), Low: uint64(low)}
	o.Spend.Amount = uint64(amount)
	o.Spend.MixinCount = uint32(mixin)
	o.Spend.Index = uint32(index)
	o.Timestamp = uint64(ts)
	o.UnlockTime = uint64(unlock)
	o.Extra = uint8(extra)
	return o, nil
}

const spendCols = `height, tx_hash, key_image, source_high, source_low, block_time, unlock_time, mixin, pid_len, payment_id`

func scanSpend(row pgx.Row) (store.Spend, error) {
	var (
		s                                    store.Spend
		height, high, low, ts, unlock, mixin int64
		txHash, image, paymentID             []byte
		length                               int16
	)
	if err := row.Scan(&height, &txHash, &image, &high, &low, &ts, &unlock, &mixin, &length, &paymentID); err != nil {
		return s, err
	}
	if err := fixed(s.Link.TxHash[:], txHash, "tx hash"); err != nil {
		return s, err
	}
	if err := fixed(s.Image[:], image, "key image"); err != nil {
		return s, err
	}
	if err := fixed(s.PaymentID[:], paymentID, "payment id"); err != nil {
		return s, err
	}
	s.Link.Height = store.BlockID(height)
	s.Source = store.OutputID{High: uint64(high), Low: uint64(low)}
	s.Timestamp = uint64(ts)
	s.UnlockTime = uint64(unlock)
	s.MixinCount = uint32(mixin)
	s.Length = uint8(length)
	return s, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
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

type readTx struct {
	q querier
}

func (t *readTx) accountWhere(ctx context.Context, cond string, arg any) (store.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE `+cond, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Account{}, store.ErrAccountNotFound
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("postgres: get account: %w", err)
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
	return visible(t.accountWhere(ctx, `address = $1`, addr.Bytes()))
}

func (t *readTx) AccountByID(ctx context.Context, id store.AccountID) (store.Account, error) {
	return visible(t.accountWhere(ctx, `id = $1`, i64(uint32(id))))
}

func (t *readTx) ListAccounts(ctx context.Context, statuses ...store.Status) ([]store.Account, error) {
	if len(statuses) == 0 {
		statuses = []store.Status{store.StatusActive, store.StatusInactive}
	}
	codes := make([]int16, len(statuses))
	for i, s := range statuses {
		codes[i] = int16(s)
	}
	rows, err := t.q.Query(ctx, `SELECT `+accountCols+` FROM accounts WHERE status = ANY($1) ORDER BY id`, codes)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	out, err := collect(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	return out, nil
}

// outputsFrom lists outputs at or above height.
func (t *readTx) outputsFrom(ctx context.Context, id store.AccountID, height store.BlockID) ([]store.Output, error) {
	rows, err := t.q.Query(ctx, `
SELECT `+outputCols+` FROM outputs
WHERE account_id = $1 AND height >= $2
ORDER BY height, tx_hash, id_high, id_low`, i64(uint32(id)), int64(height))
	if err != nil {
		return nil, fmt.Errorf("postgres: outputs: %w", err)
	}
	out, err := collect(rows, scanOutput)
	if err != nil {
		return nil, fmt.Errorf("postgres: outputs: %w", err)
	}
	return out, nil
}

func (t *readTx) spendsFrom(ctx context.Context, id store.AccountID, height store.BlockID) ([]store.Spend, error) {
	rows, err := t.q.Query(ctx, `
SELECT `+spendCols+` FROM spends
WHERE account_id = $1 AND height >= $2
ORDER BY height, tx_hash, key_image, source_high, source_low`, i64(uint32(id)), int64(height))
	if err != nil {
		return nil, fmt.Errorf("postgres: spends: %w", err)
	}
	out, err := collect(rows, scanSpend)
	if err != nil {
		return nil, fmt.Errorf("postgres: spends: %w", err)
	}
	return out, nil
}

func (t *readTx) Outputs(ctx context.Context, id store.AccountID) ([]store.Output, error) {
	return t.outputsFrom(ctx, id, 0)
}

func (t *readTx) Spends(ctx context.Context, id store.AccountID) ([]store.Spend, error) {
	return t.spendsFrom(ctx, id, 0)
}

func (t *readTx) KeyImages(ctx context.Context, id store.AccountID, source store.OutputID) ([]store.KeyImage, error) {
	rows, err := t.q.Query(ctx, `
SELECT key_image, height, tx_hash FROM spends
WHERE account_id = $1 AND source_high = $2 AND source_low = $3
ORDER BY key_image`, i64(uint32(id)), i64(source.High), i64(source.Low))
	if err != nil {
		return nil, fmt.Errorf("postgres: key images: %w", err)
	}
	out, err := collect(rows, func(row pgx.Row) (store.KeyImage, error) {
		var (
			ki            store.KeyImage
			image, txHash []byte
			height        int64
		)
		if err := row.Scan(&image, &height, &txHash); err != nil {
			return ki, err
		}
		if err := fixed(ki.Value[:], image, "key image"); err != nil {
			return ki, err
		}
		if err := fixed(ki.Link.TxHash[:], txHash, "tx hash"); err != nil {
			return ki, err
		}
		ki.Link.Height = store.BlockID(height)
		return ki, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: key images: %w", err)
	}
	return out, nil
}

const requestCols = `address, view_key, start_height, creation_time, flags`

func scanRequest(kind store.RequestKind) func(pgx.Row) (store.Request, error) {
	return func(row pgx.Row) (store.Request, error) {
		var (
			req             store.Request
			addr, key       []byte
			start, creation int64
			flags           int16
		)
		if err := row.Scan(&addr, &key, &start, &creation, &flags); err != nil {
			return req, err
		}
		var err error
		if req.Address, err = store.AddressFromBytes(addr); err != nil {
			return req, err
		}
		if err := fixed(req.Key[:], key, "view key"); err != nil {
			return req, err
		}
		req.Kind = kind
		req.StartHeight = store.BlockID(start)
		req.Creation = store.AccountTime(creation)
		req.Flags = store.AccountFlags(flags)
		return req, nil
	}
}

func (t *readTx) Requests(ctx context.Context, kind store.RequestKind) ([]store.Request, error) {
	rows, err := t.q.Query(ctx, `SELECT `+requestCols+` FROM requests WHERE kind = $1 ORDER BY address`, int16(kind))
	if err != nil {
		return nil, fmt.Errorf("postgres: requests: %w", err)
	}
	out, err := collect(rows, scanRequest(kind))
	if err != nil {
		return nil, fmt.Errorf("postgres: requests: %w", err)
	}
	return out, nil
}

func (t *readTx) request(ctx context.Context, kind store.RequestKind, addr store.AccountAddress) (store.Request, bool, error) {
	row := t.q.QueryRow(ctx, `SELECT `+requestCols+` FROM requests WHERE kind = $1 AND address = $2`, int16(kind), addr.Bytes())
	req, err := scanRequest(kind)(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Request{}, false, nil
	}
	if err != nil {
		return store.Request{}, false, fmt.Errorf("postgres: get request: %w", err)
	}
	return req, true, nil
}

func (t *readTx) BlockHash(ctx context.Context, height store.BlockID) (keys.Hash, bool, error) {
	var h keys.Hash
	if height > maxHeight {
		return h, false, nil
	}
	var raw []byte
	err := t.q.QueryRow(ctx, `SELECT hash FROM blocks WHERE height = $1`, int64(height)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, false, nil
	}
	if err != nil {
		return h, false, fmt.Errorf("postgres: get block: %w", err)
	}
	if err := fixed(h[:], raw, "block hash"); err != nil {
		return h, false, err
	}
	return h, true, nil
}

func (t *readTx) meta(ctx context.Context, name string) (uint64, error) {
	var v int64
	err := t.q.QueryRow(ctx, `SELECT value FROM meta WHERE name = $1`, name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: meta %s: %w", name, err)
	}
	return uint64(v), nil
}

func (t *readTx) ChainHeight(ctx context.Context) (store.BlockID, error) {
	n, err := t.meta(ctx, "chain_height")
	return store.BlockID(n), err
}

func (t *readTx) ListEvents(ctx context.Context, id store.AccountID, afterID uint64, limit int) ([]store.Event, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := t.q.Query(ctx, `
SELECT id, kind, height, payload, created_at FROM events
WHERE account_id = $1 AND id > $2
ORDER BY id
LIMIT $3`, i64(uint32(id)), int64(afterID), limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("postgres: list events: %w", err)
	}
	out, err := collect(rows, func(row pgx.Row) (store.Event, error) {
		var (
			e       store.Event
			eid, h  int64
			payload []byte
			created time.Time
		)
		if err := row.Scan(&eid, &e.Kind, &h, &payload, &created); err != nil {
			return e, err
		}
		e.ID = uint64(eid)
		e.Account = id
		e.Height = store.BlockID(h)
		e.Payload = payload
		e.CreatedAt = created.UTC()
		return e, nil
	})
	if err != nil {
		return nil, afterID, fmt.Errorf("postgres: list events: %w", err)
	}
	next := afterID
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (t *readTx) EventCursor(ctx context.Context, id store.AccountID) (uint64, error) {
	var c int64
	err := t.q.QueryRow(ctx, `SELECT cursor FROM event_cursors WHERE account_id = $1`, i64(uint32(id))).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: event cursor: %w", err)
	}
	return uint64(c), nil
}
