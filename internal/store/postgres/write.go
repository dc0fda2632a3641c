package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/jackc/pgx/v5"
)

type writeTx struct {
	readTx
	tx  pgx.Tx
	now time.Time
}

func (t *writeTx) accountAny(ctx context.Context, id store.AccountID) (store.Account, error) {
	return t.accountWhere(ctx, `id = $1`, i64(uint32(id)))
}

func (t *writeTx) accountByAddressAny(ctx context.Context, addr store.AccountAddress) (store.Account, error) {
	return t.accountWhere(ctx, `address = $1`, addr.Bytes())
}

func (t *writeTx) addressTaken(ctx context.Context, addr store.AccountAddress) (bool, error) {
	var taken bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE address = $1)`, addr.Bytes()).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("postgres: check address: %w", err)
	}
	return taken, nil
}

func (t *writeTx) insertRequest(ctx context.Context, kind store.RequestKind, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO requests (kind, address, view_key, start_height, creation_time, flags)
VALUES ($1, $2, $3, $4, $5, $6)`,
		int16(kind), addr.Bytes(), key[:], int64(start), t.now.Unix(), int16(flags))
	if err != nil {
		return fmt.Errorf("postgres: insert request: %w", err)
	}
	return nil
}

func (t *writeTx) CreationRequest(ctx context.Context, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) error {
	if taken, err := t.addressTaken(ctx, addr); err != nil {
		return err
	} else if taken {
		return store.ErrDuplicateRequest
	}
	if _, ok, err := t.request(ctx, store.RequestCreate, addr); err != nil {
		return err
	} else if ok {
		return store.ErrDuplicateRequest
	}
	return t.insertRequest(ctx, store.RequestCreate, addr, key, flags, start)
}

func (t *writeTx) ImportRequest(ctx context.Context, addr store.AccountAddress, start store.BlockID) error {
	acct, err := t.AccountByAddress(ctx, addr)
	if err != nil {
		return err
	}
	if _, ok, err := t.request(ctx, store.RequestImportScan, addr); err != nil {
		return err
	} else if ok {
		return store.ErrDuplicateRequest
	}
	return t.insertRequest(ctx, store.RequestImportScan, addr, acct.Key, acct.Flags, start)
}

func (t *writeTx) pending(ctx context.Context, kind store.RequestKind, addrs []store.AccountAddress) ([]store.Request, error) {
	if len(addrs) == 0 {
		return t.Requests(ctx, kind)
	}
	out := make([]store.Request, 0, len(addrs))
	for _, addr := range addrs {
		req, ok, err := t.request(ctx, kind, addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (t *writeTx) deleteRequest(ctx context.Context, kind store.RequestKind, addr store.AccountAddress) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM requests WHERE kind = $1 AND address = $2`, int16(kind), addr.Bytes()); err != nil {
		return fmt.Errorf("postgres: delete request: %w", err)
	}
	return nil
}

func (t *writeTx) AcceptRequests(ctx context.Context, kind store.RequestKind, addrs []store.AccountAddress) ([]store.Account, error) {
	reqs, err := t.pending(ctx, kind, addrs)
	if err != nil {
		return nil, err
	}
	var out []store.Account
	for _, req := range reqs {
		switch kind {
		case store.RequestCreate:
			a, err := t.AddAccount(ctx, req.Address, req.Key, req.Flags, req.StartHeight)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		case store.RequestImportScan:
			acct, err := t.accountByAddressAny(ctx, req.Address)
			if err != nil {
				return nil, err
			}
			if req.StartHeight < acct.ScanHeight {
				if err := t.rescan(ctx, acct, req.StartHeight); err != nil {
					return nil, err
				}
				if acct, err = t.accountAny(ctx, acct.ID); err != nil {
					return nil, err
				}
			}
			out = append(out, acct)
		}
		if err := t.deleteRequest(ctx, kind, req.Address); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *writeTx) RejectRequests(ctx context.Context, kind store.RequestKind, addrs []store.AccountAddress) error {
	reqs, err := t.pending(ctx, kind, addrs)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if err := t.deleteRequest(ctx, kind, req.Address); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTx) AddAccount(ctx context.Context, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) (store.Account, error) {
	if taken, err := t.addressTaken(ctx, addr); err != nil {
		return store.Account{}, err
	} else if taken {
		return store.Account{}, store.ErrAccountExists
	}

	var next int64
	if err := t.q.QueryRow(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM accounts`).Scan(&next); err != nil {
		return store.Account{}, fmt.Errorf("postgres: next account id: %w", err)
	}
	if next >= int64(store.InvalidAccountID) {
		return store.Account{}, errors.New("postgres: account ids exhausted")
	}

	now := store.AccountTime(t.now.Unix())
	a := store.Account{
		ID:          store.AccountID(next),
		Access:      now,
		Address:     addr,
		Key:         key,
		ScanHeight:  start,
		StartHeight: start,
		Creation:    now,
		Flags:       flags,
		Status:      store.StatusActive,
	}
	_, err := t.q.Exec(ctx, `
INSERT INTO accounts (`+accountCols+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		next, addr.Bytes(), key[:], int64(start), int64(start), int64(now), int64(now), int16(flags), int16(a.Status))
	if err != nil {
		return store.Account{}, fmt.Errorf("postgres: insert account: %w", err)
	}
	return a, nil
}

func (t *writeTx) SetStatus(ctx context.Context, status store.Status, addrs []store.AccountAddress) error {
	for _, addr := range addrs {
		tag, err := t.q.Exec(ctx, `UPDATE accounts SET status = $1 WHERE address = $2`, int16(status), addr.Bytes())
		if err != nil {
			return fmt.Errorf("postgres: set status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrAccountNotFound
		}
	}
	return nil
}

func (t *writeTx) Rescan(ctx context.Context, height store.BlockID, addrs []store.AccountAddress) error {
	for _, addr := range addrs {
		a, err := t.accountByAddressAny(ctx, addr)
		if err != nil {
			return err
		}
		if err := t.rescan(ctx, a, height); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTx) rescan(ctx context.Context, a store.Account, height store.BlockID) error {
	if _, err := t.dropAbove(ctx, a.ID, height); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `UPDATE accounts SET scan_height = $2, start_height = LEAST(start_height, $2) WHERE id = $1`,
		i64(uint32(a.ID)), int64(height))
	if err != nil {
		return fmt.Errorf("postgres: rescan: %w", err)
	}
	return nil
}

func (t *writeTx) dropAbove(ctx context.Context, id store.AccountID, height store.BlockID) (store.Orphaned, error) {
	orphaned := store.Orphaned{Account: id}
	if height >= maxHeight {
		return orphaned, nil
	}
	outs, err := t.outputsFrom(ctx, id, height+1)
	if err != nil {
		return orphaned, err
	}
	spends, err := t.spendsFrom(ctx, id, height+1)
	if err != nil {
		return orphaned, err
	}
	for _, table := range []string{"outputs", "spends"} {
		if _, err := t.q.Exec(ctx, `DELETE FROM `+table+` WHERE account_id = $1 AND height > $2`, i64(uint32(id)), int64(height)); err != nil {
			return orphaned, fmt.Errorf("postgres: delete %s: %w", table, err)
		}
	}
	orphaned.Outputs = outs
	orphaned.Spends = spends
	return orphaned, nil
}

func (t *writeTx) Touch(ctx context.Context, id store.AccountID, at store.AccountTime) error {
	if _, err := t.accountAny(ctx, id); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `UPDATE accounts SET access_time = $2 WHERE id = $1 AND access_time < $2`, i64(uint32(id)), int64(at))
	if err != nil {
		return fmt.Errorf("postgres: touch: %w", err)
	}
	return nil
}

func (t *writeTx) CommitPass(ctx context.Context, p store.Pass) error {
	if p.Height < p.FromHeight {
		return fmt.Errorf("postgres: pass height %d below %d", p.Height, p.FromHeight)
	}
	a, err := t.accountAny(ctx, p.Account)
	if err != nil {
		return err
	}
	if a.ScanHeight != p.FromHeight {
		return store.ErrStaleAccount
	}

	id := i64(uint32(a.ID))
	b := &pgx.Batch{}
	for _, o := range p.Outputs {
		b.Queue(`
INSERT INTO outputs (account_id, `+outputCols+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT DO NOTHING`,
			id, int64(o.Link.Height), o.Link.TxHash[:], i64(o.Spend.ID.High), i64(o.Spend.ID.Low),
			i64(o.Spend.Amount), int64(o.Spend.MixinCount), int64(o.Spend.Index), o.Spend.TxPublic[:],
			i64(o.Timestamp), i64(o.UnlockTime), o.TxPrefixHash[:], o.Pub[:], o.RingctMask[:],
			int16(o.Extra), o.PaymentID[:])
	}
	for _, s := range p.Spends {
		b.Queue(`
INSERT INTO spends (account_id, `+spendCols+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT DO NOTHING`,
			id, int64(s.Link.Height), s.Link.TxHash[:], s.Image[:], i64(s.Source.High), i64(s.Source.Low),
			i64(s.Timestamp), i64(s.UnlockTime), int64(s.MixinCount), int16(s.Length), s.PaymentID[:])
	}
	b.Queue(`UPDATE accounts SET scan_height = $2 WHERE id = $1`, id, int64(p.Height))
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: commit pass: %w", err)
	}
	return nil
}

func (t *writeTx) PutBlocks(ctx context.Context, blocks []store.BlockInfo) error {
	if len(blocks) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, blk := range blocks {
		b.Queue(`
INSERT INTO blocks (height, hash) VALUES ($1, $2)
ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash`, int64(blk.ID), blk.Hash[:])
	}
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: put blocks: %w", err)
	}
	return nil
}

func (t *writeTx) setMeta(ctx context.Context, name string, v uint64) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO meta (name, value) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, name, i64(v))
	if err != nil {
		return fmt.Errorf("postgres: set %s: %w", name, err)
	}
	return nil
}

func (t *writeTx) SetChainHeight(ctx context.Context, height store.BlockID) error {
	return t.setMeta(ctx, "chain_height", uint64(height))
}

func (t *writeTx) Rollback(ctx context.Context, height store.BlockID) ([]store.Orphaned, error) {
	if height >= maxHeight {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `SELECT `+accountCols+` FROM accounts WHERE scan_height > $1 ORDER BY id`, int64(height))
	if err != nil {
		return nil, fmt.Errorf("postgres: rollback accounts: %w", err)
	}
	accounts, err := collect(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("postgres: rollback accounts: %w", err)
	}

	var out []store.Orphaned
	for _, a := range accounts {
		o, err := t.dropAbove(ctx, a.ID, height)
		if err != nil {
			return nil, err
		}
		if len(o.Outputs) > 0 || len(o.Spends) > 0 {
			out = append(out, o)
		}
	}
	if _, err := t.q.Exec(ctx, `UPDATE accounts SET scan_height = $1 WHERE scan_height > $1`, int64(height)); err != nil {
		return nil, fmt.Errorf("postgres: rollback heights: %w", err)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM blocks WHERE height > $1`, int64(height)); err != nil {
		return nil, fmt.Errorf("postgres: delete blocks: %w", err)
	}
	return out, nil
}

func (t *writeTx) InsertEvent(ctx context.Context, e store.Event) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := t.q.Exec(ctx, `
INSERT INTO events (account_id, kind, height, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		i64(uint32(e.Account)), e.Kind, int64(e.Height), string(payload), t.now)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

func (t *writeTx) SetEventCursor(ctx context.Context, id store.AccountID, cursor uint64) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO event_cursors (account_id, cursor) VALUES ($1, $2)
ON CONFLICT (account_id) DO UPDATE SET cursor = EXCLUDED.cursor`, i64(uint32(id)), i64(cursor))
	if err != nil {
		return fmt.Errorf("postgres: set event cursor: %w", err)
	}
	return nil
}
