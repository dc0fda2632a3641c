//go:build mysql

package mysql

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/store"
)

type writeTx struct {
	readTx
	now time.Time
}

func (t *writeTx) accountAny(ctx context.Context, id store.AccountID) (store.Account, error) {
	return t.accountWhere(ctx, `id = ?`, uint32(id))
}

func (t *writeTx) accountByAddressAny(ctx context.Context, addr store.AccountAddress) (store.Account, error) {
	return t.accountWhere(ctx, `address = ?`, addr.Bytes())
}

func (t *writeTx) exec(ctx context.Context, what string, stmt string, args ...any) (int64, error) {
	res, err := t.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("mysql: %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql: %s: %w", what, err)
	}
	return n, nil
}

func (t *writeTx) addressTaken(ctx context.Context, addr store.AccountAddress) (bool, error) {
	var taken bool
	err := t.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE address = ?)`, addr.Bytes()).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("mysql: check address: %w", err)
	}
	return taken, nil
}

func (t *writeTx) insertRequest(ctx context.Context, kind store.RequestKind, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) error {
	_, err := t.exec(ctx, "insert request", `
INSERT INTO requests (kind, address, view_key, start_height, creation_time, flags)
VALUES (?, ?, ?, ?, ?, ?)`,
		uint8(kind), addr.Bytes(), key[:], uint64(start), uint32(t.now.Unix()), uint8(flags))
	if isDuplicate(err) {
		return store.ErrDuplicateRequest
	}
	return err
}

func (t *writeTx) CreationRequest(ctx context.Context, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) error {
	if taken, err := t.addressTaken(ctx, addr); err != nil {
		return err
	} else if taken {
		return store.ErrDuplicateRequest
	}
	return t.insertRequest(ctx, store.RequestCreate, addr, key, flags, start)
}

func (t *writeTx) ImportRequest(ctx context.Context, addr store.AccountAddress, start store.BlockID) error {
	acct, err := t.AccountByAddress(ctx, addr)
	if err != nil {
		return err
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
	_, err := t.exec(ctx, "delete request", `DELETE FROM requests WHERE kind = ? AND address = ?`, uint8(kind), addr.Bytes())
	return err
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

	var next uint64
	if err := t.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM accounts`).Scan(&next); err != nil {
		return store.Account{}, fmt.Errorf("mysql: next account id: %w", err)
	}
	if next >= uint64(store.InvalidAccountID) {
		return store.Account{}, errors.New("mysql: account ids exhausted")
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
	_, err := t.exec(ctx, "insert account", `
INSERT INTO accounts (`+accountCols+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uint32(a.ID), addr.Bytes(), key[:], uint64(start), uint64(start), uint32(now), uint32(now), uint8(flags), uint8(a.Status))
	if isDuplicate(err) {
		return store.Account{}, store.ErrAccountExists
	}
	if err != nil {
		return store.Account{}, err
	}
	return a, nil
}

func (t *writeTx) SetStatus(ctx context.Context, status store.Status, addrs []store.AccountAddress) error {
	for _, addr := range addrs {
		if _, err := t.accountByAddressAny(ctx, addr); err != nil {
			return err
		}
		if _, err := t.exec(ctx, "set status", `UPDATE accounts SET status = ? WHERE address = ?`, uint8(status), addr.Bytes()); err != nil {
			return err
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
	_, err := t.exec(ctx, "rescan", `UPDATE accounts SET scan_height = ?, start_height = LEAST(start_height, ?) WHERE id = ?`,
		uint64(height), uint64(height), uint32(a.ID))
	return err
}

func (t *writeTx) dropAbove(ctx context.Context, id store.AccountID, height store.BlockID) (store.Orphaned, error) {
	orphaned := store.Orphaned{Account: id}
	if height == math.MaxUint64 {
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
		if _, err := t.exec(ctx, "delete "+table, `DELETE FROM `+table+` WHERE account_id = ? AND height > ?`, uint32(id), uint64(height)); err != nil {
			return orphaned, err
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
	_, err := t.exec(ctx, "touch", `UPDATE accounts SET access_time = ? WHERE id = ? AND access_time < ?`, uint32(at), uint32(id), uint32(at))
	return err
}

// rowsPerInsert keeps multi-row inserts under the placeholder limit.
const rowsPerInsert = 1000

// insertRows runs prefix VALUES (...), (...) suffix over rows in chunks.
func (t *writeTx) insertRows(ctx context.Context, what, prefix, suffix string, rows [][]any) error {
	for len(rows) > 0 {
		n := min(len(rows), rowsPerInsert)
		group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(rows[0])), ", ") + ")"
		values := strings.TrimSuffix(strings.Repeat(group+", ", n), ", ")
		args := make([]any, 0, n*len(rows[0]))
		for _, r := range rows[:n] {
			args = append(args, r...)
		}
		if _, err := t.exec(ctx, what, prefix+values+suffix, args...); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

func (t *writeTx) CommitPass(ctx context.Context, p store.Pass) error {
	if p.Height < p.FromHeight {
		return fmt.Errorf("mysql: pass height %d below %d", p.Height, p.FromHeight)
	}
	a, err := t.accountAny(ctx, p.Account)
	if err != nil {
		return err
	}
	if a.ScanHeight != p.FromHeight {
		return store.ErrStaleAccount
	}

	id := uint32(a.ID)
	outs := make([][]any, len(p.Outputs))
	for i, o := range p.Outputs {
		outs[i] = []any{id, uint64(o.Link.Height), o.Link.TxHash[:], o.Spend.ID.High, o.Spend.ID.Low,
			o.Spend.Amount, o.Spend.MixinCount, o.Spend.Index, o.Spend.TxPublic[:],
			o.Timestamp, o.UnlockTime, o.TxPrefixHash[:], o.Pub[:], o.RingctMask[:], o.Extra, o.PaymentID[:]}
	}
	if err := t.insertRows(ctx, "insert outputs", `INSERT IGNORE INTO outputs (account_id, `+outputCols+`) VALUES `, "", outs); err != nil {
		return err
	}
	spends := make([][]any, len(p.Spends))
	for i, s := range p.Spends {
		spends[i] = []any{id, uint64(s.Link.Height), s.Link.TxHash[:], s.Image[:], s.Source.High, s.Source.Low,
			s.Timestamp, s.UnlockTime, s.MixinCount, s.Length, s.PaymentID[:]}
	}
	if err := t.insertRows(ctx, "insert spends", `INSERT IGNORE INTO spends (account_id, `+spendCols+`) VALUES `, "", spends); err != nil {
		return err
	}
	_, err = t.exec(ctx, "commit pass", `UPDATE accounts SET scan_height = ? WHERE id = ?`, uint64(p.Height), id)
	return err
}

func (t *writeTx) PutBlocks(ctx context.Context, blocks []store.BlockInfo) error {
	if len(blocks) == 0 {
		return nil
	}
	rows := make([][]any, len(blocks))
	for i, b := range blocks {
		rows[i] = []any{uint64(b.ID), b.Hash[:]}
	}
	return t.insertRows(ctx, "put blocks", `INSERT INTO blocks (height, hash) VALUES `, ` ON DUPLICATE KEY UPDATE hash = VALUES(hash)`, rows)
}

func (t *writeTx) SetChainHeight(ctx context.Context, height store.BlockID) error {
	_, err := t.exec(ctx, "set chain height", `
INSERT INTO meta (name, value) VALUES ('chain_height', ?)
ON DUPLICATE KEY UPDATE value = VALUES(value)`, uint64(height))
	return err
}

func (t *writeTx) Rollback(ctx context.Context, height store.BlockID) ([]store.Orphaned, error) {
	if height == math.MaxUint64 {
		return nil, nil
	}
	accounts, err := query(ctx, t.q, "rollback accounts", scanAccount,
		`SELECT `+accountCols+` FROM accounts WHERE scan_height > ? ORDER BY id`, uint64(height))
	if err != nil {
		return nil, err
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
	if _, err := t.exec(ctx, "rollback heights", `UPDATE accounts SET scan_height = ? WHERE scan_height > ?`, uint64(height), uint64(height)); err != nil {
		return nil, err
	}
	if _, err := t.exec(ctx, "delete blocks", `DELETE FROM blocks WHERE height > ?`, uint64(height)); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *writeTx) InsertEvent(ctx context.Context, e store.Event) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := t.exec(ctx, "insert event", `
INSERT INTO events (account_id, kind, height, payload, created_at)
VALUES (?, ?, ?, ?, ?)`, uint32(e.Account), e.Kind, uint64(e.Height), payload, t.now)
	return err
}

func (t *writeTx) SetEventCursor(ctx context.Context, id store.AccountID, cursor uint64) error {
	_, err := t.exec(ctx, "set event cursor", `
INSERT INTO event_cursors (account_id, cursor_id) VALUES (?, ?)
ON DUPLICATE KEY UPDATE cursor_id = VALUES(cursor_id)`, uint32(id), cursor)
	return err
}
