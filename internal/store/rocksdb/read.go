package rocksdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v4"
)

// accountRecord leads with the address, the field the store looks it up by.
type accountRecord struct {
	Address     []byte `msgpack:"address"`
	Key         []byte `msgpack:"key"`
	ID          uint32 `msgpack:"id"`
	Access      uint32 `msgpack:"access"`
	ScanHeight  uint64 `msgpack:"scan_height"`
	StartHeight uint64 `msgpack:"start_height"`
	Creation    uint32 `msgpack:"creation"`
	Flags       uint8  `msgpack:"flags"`
	Status      uint8  `msgpack:"status"`
}

func recordFromAccount(a store.Account) accountRecord {
	return accountRecord{
		Address:     a.Address.Bytes(),
		Key:         append([]byte(nil), a.Key[:]...),
		ID:          uint32(a.ID),
		Access:      uint32(a.Access),
		ScanHeight:  uint64(a.ScanHeight),
		StartHeight: uint64(a.StartHeight),
		Creation:    uint32(a.Creation),
		Flags:       uint8(a.Flags),
		Status:      uint8(a.Status),
	}
}

func (r accountRecord) account() (store.Account, error) {
	addr, err := store.AddressFromBytes(r.Address)
	if err != nil {
		return store.Account{}, fmt.Errorf("rocksdb: account %d: %w", r.ID, err)
	}
	if len(r.Key) != len(store.ViewKey{}) {
		return store.Account{}, fmt.Errorf("rocksdb: account %d: view key corrupt", r.ID)
	}
	a := store.Account{
		ID:          store.AccountID(r.ID),
		Access:      store.AccountTime(r.Access),
		Address:     addr,
		ScanHeight:  store.BlockID(r.ScanHeight),
		StartHeight: store.BlockID(r.StartHeight),
		Creation:    store.AccountTime(r.Creation),
		Flags:       store.AccountFlags(r.Flags),
		Status:      store.Status(r.Status),
	}
	copy(a.Key[:], r.Key)
	return a, nil
}

type requestRecord struct {
	Address     []byte `msgpack:"address"`
	Key         []byte `msgpack:"key"`
	StartHeight uint64 `msgpack:"start_height"`
	Creation    uint32 `msgpack:"creation"`
	Flags       uint8  `msgpack:"flags"`
}

func (r requestRecord) request(kind store.RequestKind) (store.Request, error) {
	addr, err := store.AddressFromBytes(r.Address)
	if err != nil {
		return store.Request{}, fmt.Errorf("rocksdb: request: %w", err)
	}
	req := store.Request{
		Kind:        kind,
		Address:     addr,
		StartHeight: store.BlockID(r.StartHeight),
		Creation:    store.AccountTime(r.Creation),
		Flags:       store.AccountFlags(r.Flags),
	}
	copy(req.Key[:], r.Key)
	return req, nil
}

type eventRecord struct {
	Kind          string `msgpack:"kind"`
	Height        uint64 `msgpack:"height"`
	Payload       []byte `msgpack:"payload"`
	CreatedAtUnix int64  `msgpack:"created_at_unix"`
}

type readTx struct {
	r reader
}

// accountAny reads an account regardless of status.
func (t *readTx) accountAny(id store.AccountID) (store.Account, error) {
	var rec accountRecord
	ok, err := getRecord(t.r, keyAccount(id), &rec)
	if err != nil {
		return store.Account{}, fmt.Errorf("rocksdb: get account: %w", err)
	}
	if !ok {
		return store.Account{}, store.ErrAccountNotFound
	}
	return rec.account()
}

func (t *readTx) accountIDByAddress(addr store.AccountAddress) (store.AccountID, bool, error) {
	v, ok, err := getRaw(t.r, keyAddress(addr))
	if err != nil {
		return 0, false, fmt.Errorf("rocksdb: get address: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	if len(v) != 4 {
		return 0, false, fmt.Errorf("rocksdb: address index corrupt")
	}
	return store.AccountID(binary.BigEndian.Uint32(v)), true, nil
}

func (t *readTx) accountByAddressAny(addr store.AccountAddress) (store.Account, error) {
	id, ok, err := t.accountIDByAddress(addr)
	if err != nil {
		return store.Account{}, err
	}
	if !ok {
		return store.Account{}, store.ErrAccountNotFound
	}
	return t.accountAny(id)
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
	_ = ctx
	return visible(t.accountByAddressAny(addr))
}

func (t *readTx) AccountByID(ctx context.Context, id store.AccountID) (store.Account, error) {
	_ = ctx
	return visible(t.accountAny(id))
}

func (t *readTx) allAccounts() ([]store.Account, error) {
	var out []store.Account
	err := scan(t.r, accountPrefix, prefixUpperBound(accountPrefix), func(_, v []byte) error {
		var rec accountRecord
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("rocksdb: decode account: %w", err)
		}
		a, err := rec.account()
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (t *readTx) ListAccounts(ctx context.Context, statuses ...store.Status) ([]store.Account, error) {
	_ = ctx
	if len(statuses) == 0 {
		statuses = []store.Status{store.StatusActive, store.StatusInactive}
	}
	all, err := t.allAccounts()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if slices.Contains(statuses, a.Status) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *readTx) Outputs(ctx context.Context, id store.AccountID) ([]store.Output, error) {
	_ = ctx
	return scanOutputs(t.r, keyAccountScoped(outputPrefix, id), prefixUpperBound(keyAccountScoped(outputPrefix, id)))
}

func scanOutputs(r reader, lower, upper []byte) ([]store.Output, error) {
	var out []store.Output
	err := scan(r, lower, upper, func(_, v []byte) error {
		var o store.Output
		if err := msgpack.Unmarshal(v, &o); err != nil {
			return fmt.Errorf("rocksdb: decode output: %w", err)
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func (t *readTx) Spends(ctx context.Context, id store.AccountID) ([]store.Spend, error) {
	_ = ctx
	return scanSpends(t.r, keyAccountScoped(spendPrefix, id), prefixUpperBound(keyAccountScoped(spendPrefix, id)))
}

func scanSpends(r reader, lower, upper []byte) ([]store.Spend, error) {
	var out []store.Spend
	err := scan(r, lower, upper, func(_, v []byte) error {
		var s store.Spend
		if err := msgpack.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("rocksdb: decode spend: %w", err)
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func (t *readTx) KeyImages(ctx context.Context, id store.AccountID, source store.OutputID) ([]store.KeyImage, error) {
	_ = ctx
	prefix := keyKeyImagePrefix(id, source)
	var out []store.KeyImage
	err := scan(t.r, prefix, prefixUpperBound(prefix), func(_, v []byte) error {
		var ki store.KeyImage
		if err := msgpack.Unmarshal(v, &ki); err != nil {
			return fmt.Errorf("rocksdb: decode key image: %w", err)
		}
		out = append(out, ki)
		return nil
	})
	return out, err
}

func (t *readTx) Requests(ctx context.Context, kind store.RequestKind) ([]store.Request, error) {
	_ = ctx
	prefix := keyRequestPrefix(kind)
	var out []store.Request
	err := scan(t.r, prefix, prefixUpperBound(prefix), func(_, v []byte) error {
		var rec requestRecord
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("rocksdb: decode request: %w", err)
		}
		req, err := rec.request(kind)
		if err != nil {
			return err
		}
		out = append(out, req)
		return nil
	})
	return out, err
}

func (t *readTx) request(kind store.RequestKind, addr store.AccountAddress) (store.Request, bool, error) {
	var rec requestRecord
	ok, err := getRecord(t.r, keyRequest(kind, addr), &rec)
	if err != nil || !ok {
		return store.Request{}, ok, err
	}
	req, err := rec.request(kind)
	return req, err == nil, err
}

func (t *readTx) BlockHash(ctx context.Context, height store.BlockID) (keys.Hash, bool, error) {
	_ = ctx
	v, ok, err := getRaw(t.r, keyBlock(height))
	if err != nil {
		return keys.Hash{}, false, fmt.Errorf("rocksdb: get block: %w", err)
	}
	if !ok {
		return keys.Hash{}, false, nil
	}
	if len(v) != len(keys.Hash{}) {
		return keys.Hash{}, false, fmt.Errorf("rocksdb: block %d corrupt", height)
	}
	var h keys.Hash
	copy(h[:], v)
	return h, true, nil
}

func (t *readTx) ChainHeight(ctx context.Context) (store.BlockID, error) {
	_ = ctx
	n, _, err := getUint64(t.r, keyMeta("chain_height"))
	if err != nil {
		return 0, fmt.Errorf("rocksdb: chain height: %w", err)
	}
	return store.BlockID(n), nil
}

func (t *readTx) ListEvents(ctx context.Context, id store.AccountID, afterID uint64, limit int) ([]store.Event, uint64, error) {
	_ = ctx
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	iter, err := t.r.NewIter(&pebble.IterOptions{
		LowerBound: keyEvent(id, afterID+1),
		UpperBound: prefixUpperBound(keyAccountScoped(eventPrefix, id)),
	})
	if err != nil {
		return nil, afterID, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	var out []store.Event
	next := afterID
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		eventID, err := parseEventID(iter.Key(), id)
		if err != nil {
			return nil, afterID, err
		}
		var rec eventRecord
		if err := msgpack.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, afterID, fmt.Errorf("rocksdb: decode event: %w", err)
		}
		out = append(out, store.Event{
			ID:        eventID,
			Kind:      rec.Kind,
			Account:   id,
			Height:    store.BlockID(rec.Height),
			Payload:   rec.Payload,
			CreatedAt: time.Unix(rec.CreatedAtUnix, 0).UTC(),
		})
		next = eventID
	}
	if err := iter.Error(); err != nil {
		return nil, afterID, fmt.Errorf("rocksdb: list events: %w", err)
	}
	return out, next, nil
}

func (t *readTx) EventCursor(ctx context.Context, id store.AccountID) (uint64, error) {
	_ = ctx
	n, _, err := getUint64(t.r, keyEventCursor(id))
	if err != nil {
		return 0, fmt.Errorf("rocksdb: event cursor: %w", err)
	}
	return n, nil
}
