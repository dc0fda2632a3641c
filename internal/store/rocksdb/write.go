package rocksdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/cockroachdb/pebble"
)

type writeTx struct {
	readTx
	batch *pebble.Batch
	now   time.Time
}

func (t *writeTx) putAccount(a store.Account) error {
	return setRecord(t.batch, keyAccount(a.ID), recordFromAccount(a))
}

func (t *writeTx) CreationRequest(ctx context.Context, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) error {
	_ = ctx
	if _, ok, err := t.accountIDByAddress(addr); err != nil {
		return err
	} else if ok {
		return store.ErrDuplicateRequest
	}
	if _, ok, err := t.request(store.RequestCreate, addr); err != nil {
		return err
	} else if ok {
		return store.ErrDuplicateRequest
	}
	return setRecord(t.batch, keyRequest(store.RequestCreate, addr), requestRecord{
		Address:     addr.Bytes(),
		Key:         append([]byte(nil), key[:]...),
		StartHeight: uint64(start),
		Creation:    uint32(t.now.Unix()),
		Flags:       uint8(flags),
	})
}

func (t *writeTx) ImportRequest(ctx context.Context, addr store.AccountAddress, start store.BlockID) error {
	acct, err := t.AccountByAddress(ctx, addr)
	if err != nil {
		return err
	}
	if _, ok, err := t.request(store.RequestImportScan, addr); err != nil {
		return err
	} else if ok {
		return store.ErrDuplicateRequest
	}
	return setRecord(t.batch, keyRequest(store.RequestImportScan, addr), requestRecord{
		Address:     addr.Bytes(),
		Key:         append([]byte(nil), acct.Key[:]...),
		StartHeight: uint64(start),
		Creation:    uint32(t.now.Unix()),
		Flags:       uint8(acct.Flags),
	})
}

// pending returns the requests named by addrs, or every request of kind when
// addrs is empty. Unknown addresses are skipped.
func (t *writeTx) pending(ctx context.Context, kind store.RequestKind, addrs []store.AccountAddress) ([]store.Request, error) {
	if len(addrs) == 0 {
		return t.Requests(ctx, kind)
	}
	out := make([]store.Request, 0, len(addrs))
	for _, addr := range addrs {
		req, ok, err := t.request(kind, addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, req)
		}
	}
	return out, nil
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
			acct, err := t.accountByAddressAny(req.Address)
			if err != nil {
				return nil, err
			}
			if req.StartHeight < acct.ScanHeight {
				if err := t.rescan(acct, req.StartHeight); err != nil {
					return nil, err
				}
			}
			acct, err = t.accountAny(acct.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, acct)
		}
		if err := t.batch.Delete(keyRequest(kind, req.Address), pebble.NoSync); err != nil {
			return nil, fmt.Errorf("rocksdb: delete request: %w", err)
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
		if err := t.batch.Delete(keyRequest(kind, req.Address), pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: delete request: %w", err)
		}
	}
	return nil
}

func (t *writeTx) AddAccount(ctx context.Context, addr store.AccountAddress, key store.ViewKey, flags store.AccountFlags, start store.BlockID) (store.Account, error) {
	_ = ctx
	if _, ok, err := t.accountIDByAddress(addr); err != nil {
		return store.Account{}, err
	} else if ok {
		return store.Account{}, store.ErrAccountExists
	}

	next, _, err := getUint64(t.r, keyMeta("next_account_id"))
	if err != nil {
		return store.Account{}, fmt.Errorf("rocksdb: next account id: %w", err)
	}
	if next >= uint64(store.InvalidAccountID) {
		return store.Account{}, errors.New("rocksdb: account ids exhausted")
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
	if err := t.putAccount(a); err != nil {
		return store.Account{}, err
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(a.ID))
	if err := t.batch.Set(keyAddress(addr), idx[:], pebble.NoSync); err != nil {
		return store.Account{}, fmt.Errorf("rocksdb: index address: %w", err)
	}
	if err := t.batch.Set(keyMeta("next_account_id"), uint64To8(next+1), pebble.NoSync); err != nil {
		return store.Account{}, fmt.Errorf("rocksdb: bump account id: %w", err)
	}
	return a, nil
}

func (t *writeTx) SetStatus(ctx context.Context, status store.Status, addrs []store.AccountAddress) error {
	_ = ctx
	for _, addr := range addrs {
		a, err := t.accountByAddressAny(addr)
		if err != nil {
			return err
		}
		a.Status = status
		if err := t.putAccount(a); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTx) Rescan(ctx context.Context, height store.BlockID, addrs []store.AccountAddress) error {
	_ = ctx
	for _, addr := range addrs {
		a, err := t.accountByAddressAny(addr)
		if err != nil {
			return err
		}
		if err := t.rescan(a, height); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTx) rescan(a store.Account, height store.BlockID) error {
	if _, err := t.dropAbove(a.ID, height); err != nil {
		return err
	}
	a.ScanHeight = height
	a.StartHeight = min(a.StartHeight, height)
	return t.putAccount(a)
}

// dropAbove deletes an account's outputs and spends above height and
// returns what was removed.
func (t *writeTx) dropAbove(id store.AccountID, height store.BlockID) (store.Orphaned, error) {
	orphaned := store.Orphaned{Account: id}
	if height == math.MaxUint64 {
		return orphaned, nil
	}

	outLower := keyAccountHeight(outputPrefix, id, height+1)
	outUpper := prefixUpperBound(keyAccountScoped(outputPrefix, id))
	outs, err := scanOutputs(t.r, outLower, outUpper)
	if err != nil {
		return orphaned, err
	}
	spendLower := keyAccountHeight(spendPrefix, id, height+1)
	spendUpper := prefixUpperBound(keyAccountScoped(spendPrefix, id))
	spends, err := scanSpends(t.r, spendLower, spendUpper)
	if err != nil {
		return orphaned, err
	}

	for _, s := range spends {
		if err := t.batch.Delete(keyKeyImage(id, s.Source, s.Image), pebble.NoSync); err != nil {
			return orphaned, fmt.Errorf("rocksdb: delete key image: %w", err)
		}
	}
	if err := t.batch.DeleteRange(outLower, outUpper, pebble.NoSync); err != nil {
		return orphaned, fmt.Errorf("rocksdb: delete outputs: %w", err)
	}
	if err := t.batch.DeleteRange(spendLower, spendUpper, pebble.NoSync); err != nil {
		return orphaned, fmt.Errorf("rocksdb: delete spends: %w", err)
	}
	orphaned.Outputs = outs
	orphaned.Spends = spends
	return orphaned, nil
}

func (t *writeTx) Touch(ctx context.Context, id store.AccountID, at store.AccountTime) error {
	_ = ctx
	a, err := t.accountAny(id)
	if err != nil {
		return err
	}
	if at <= a.Access {
		return nil
	}
	a.Access = at
	return t.putAccount(a)
}

func (t *writeTx) CommitPass(ctx context.Context, p store.Pass) error {
	_ = ctx
	if p.Height < p.FromHeight {
		return fmt.Errorf("rocksdb: pass height %d below %d", p.Height, p.FromHeight)
	}
	a, err := t.accountAny(p.Account)
	if err != nil {
		return err
	}
	if a.ScanHeight != p.FromHeight {
		return store.ErrStaleAccount
	}

	for _, o := range p.Outputs {
		if err := setRecord(t.batch, keyOutput(a.ID, o), o); err != nil {
			return err
		}
	}
	for _, s := range p.Spends {
		if err := setRecord(t.batch, keySpend(a.ID, s), s); err != nil {
			return err
		}
		ki := store.KeyImage{Value: s.Image, Link: s.Link}
		if err := setRecord(t.batch, keyKeyImage(a.ID, s.Source, s.Image), ki); err != nil {
			return err
		}
	}
	a.ScanHeight = p.Height
	return t.putAccount(a)
}

func (t *writeTx) PutBlocks(ctx context.Context, blocks []store.BlockInfo) error {
	_ = ctx
	for _, b := range blocks {
		if err := t.batch.Set(keyBlock(b.ID), b.Hash[:], pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: put block: %w", err)
		}
	}
	return nil
}

func (t *writeTx) SetChainHeight(ctx context.Context, height store.BlockID) error {
	_ = ctx
	if err := t.batch.Set(keyMeta("chain_height"), uint64To8(uint64(height)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set chain height: %w", err)
	}
	return nil
}

func (t *writeTx) Rollback(ctx context.Context, height store.BlockID) ([]store.Orphaned, error) {
	_ = ctx
	all, err := t.allAccounts()
	if err != nil {
		return nil, err
	}
	var out []store.Orphaned
	for _, a := range all {
		if a.ScanHeight <= height {
			continue
		}
		o, err := t.dropAbove(a.ID, height)
		if err != nil {
			return nil, err
		}
		a.ScanHeight = height
		if err := t.putAccount(a); err != nil {
			return nil, err
		}
		if len(o.Outputs) > 0 || len(o.Spends) > 0 {
			out = append(out, o)
		}
	}
	if height < math.MaxUint64 {
		if err := t.batch.DeleteRange(keyBlock(height+1), prefixUpperBound(blockPrefix), pebble.NoSync); err != nil {
			return nil, fmt.Errorf("rocksdb: delete blocks: %w", err)
		}
	}
	return out, nil
}

func (t *writeTx) InsertEvent(ctx context.Context, e store.Event) error {
	_ = ctx
	seqKey := keyEventSeq(e.Account)
	nextID, ok, err := getUint64(t.r, seqKey)
	if err != nil {
		return fmt.Errorf("rocksdb: get event seq: %w", err)
	}
	if !ok {
		nextID = 1
	}

	rec := eventRecord{
		Kind:          e.Kind,
		Height:        uint64(e.Height),
		Payload:       e.Payload,
		CreatedAtUnix: t.now.Unix(),
	}
	if err := setRecord(t.batch, keyEvent(e.Account, nextID), rec); err != nil {
		return err
	}
	if err := t.batch.Set(seqKey, uint64To8(nextID+1), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: bump event seq: %w", err)
	}
	return nil
}

func (t *writeTx) SetEventCursor(ctx context.Context, id store.AccountID, cursor uint64) error {
	_ = ctx
	if err := t.batch.Set(keyEventCursor(id), uint64To8(cursor), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set event cursor: %w", err)
	}
	return nil
}
