// Package storetest checks a store.Store implementation against the
// behavior every backend shares.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
)

// Opener returns an empty, migrated store. Run closes it.
type Opener func(t *testing.T) store.Store

func Run(t *testing.T, open Opener) {
	for _, c := range []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"CommitPassAbort", commitPassAbort},
		{"CommitPassStale", commitPassStale},
		{"RollbackDropsAboveFork", rollbackDropsAboveFork},
		{"HiddenAccounts", hiddenAccounts},
		{"CreationRequest", creationRequest},
		{"ImportRequest", importRequest},
		{"Rescan", rescan},
		{"Events", events},
	} {
		t.Run(c.name, func(t *testing.T) {
			st := open(t)
			defer func() { _ = st.Close() }()
			c.fn(t, st)
		})
	}
}

func Address(b byte) store.AccountAddress {
	var a store.AccountAddress
	a.ViewPublic[0] = b
	a.SpendPublic[0] = b + 1
	return a
}

func Output(height store.BlockID, tx byte, low uint64) store.Output {
	o := store.Output{
		Link:  store.TransactionLink{Height: height},
		Spend: store.SpendMeta{ID: store.OutputID{Low: low}, Amount: 1000 + low, Index: uint32(low)},
		Extra: store.PackExtra(store.ExtraRingCT, 8),
	}
	o.Link.TxHash[0] = tx
	o.Pub[0] = byte(low)
	o.Pub[1] = tx
	o.PaymentID[0] = tx
	return o
}

func Spend(height store.BlockID, tx byte, source uint64) store.Spend {
	s := store.Spend{
		Link:   store.TransactionLink{Height: height},
		Source: store.OutputID{Low: source},
	}
	s.Link.TxHash[0] = tx
	s.Image[0] = tx
	s.Image[1] = byte(source)
	return s
}

func AddAccount(t *testing.T, st store.Store, addr store.AccountAddress, start store.BlockID) store.Account {
	t.Helper()
	var acct store.Account
	err := st.Update(context.Background(), func(tx store.WriteTx) error {
		var err error
		acct, err = tx.AddAccount(context.Background(), addr, store.ViewKey{1}, 0, start)
		return err
	})
	if err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	return acct
}

func State(t *testing.T, st store.Store, id store.AccountID) (store.Account, []store.Output, []store.Spend) {
	t.Helper()
	ctx := context.Background()
	var (
		acct   store.Account
		outs   []store.Output
		spends []store.Spend
	)
	err := st.View(ctx, func(tx store.ReadTx) error {
		var err error
		if acct, err = tx.AccountByID(ctx, id); err != nil {
			return err
		}
		if outs, err = tx.Outputs(ctx, id); err != nil {
			return err
		}
		spends, err = tx.Spends(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	return acct, outs, spends
}

func commitPassAbort(t *testing.T, st store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	acct := AddAccount(t, st, Address(1), 100)

	pass := store.Pass{
		Account:    acct.ID,
		FromHeight: 100,
		Height:     110,
		Outputs:    []store.Output{Output(101, 1, 5), Output(102, 2, 6)},
		Spends:     []store.Spend{Spend(108, 4, 5)},
	}
	if err := st.Update(ctx, func(tx store.WriteTx) error { return tx.CommitPass(ctx, pass) }); err != nil {
		t.Fatalf("CommitPass: %v", err)
	}

	boom := errors.New("abort")
	err := st.Update(ctx, func(tx store.WriteTx) error {
		if err := tx.CommitPass(ctx, store.Pass{Account: acct.ID, FromHeight: 110, Height: 120, Outputs: []store.Output{Output(115, 9, 8)}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected abort, got %v", err)
	}

	got, outs, spends := State(t, st, acct.ID)
	if got.ScanHeight != 110 {
		t.Fatalf("scan height: got %d want 110", got.ScanHeight)
	}
	if len(outs) != 2 || len(spends) != 1 {
		t.Fatalf("expected 2 outputs and 1 spend, got %d and %d", len(outs), len(spends))
	}
	if outs[0] != pass.Outputs[0] || outs[1] != pass.Outputs[1] || spends[0] != pass.Spends[0] {
		t.Fatalf("round trip mismatch: %+v", outs[0])
	}

	err = st.View(ctx, func(tx store.ReadTx) error {
		kis, err := tx.KeyImages(ctx, acct.ID, store.OutputID{Low: 5})
		if err != nil {
			return err
		}
		if len(kis) != 1 || kis[0].Value != pass.Spends[0].Image || kis[0].Link != pass.Spends[0].Link {
			t.Fatalf("key images: %+v", kis)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func commitPassStale(t *testing.T, st store.Store) {
	ctx := context.Background()
	acct := AddAccount(t, st, Address(1), 10)
	err := st.Update(ctx, func(tx store.WriteTx) error {
		return tx.CommitPass(ctx, store.Pass{Account: acct.ID, FromHeight: 9, Height: 12})
	})
	if !errors.Is(err, store.ErrStaleAccount) {
		t.Fatalf("expected ErrStaleAccount, got %v", err)
	}
}

func rollbackDropsAboveFork(t *testing.T, st store.Store) {
	ctx := context.Background()
	acct := AddAccount(t, st, Address(1), 0)
	behind := AddAccount(t, st, Address(9), 2)

	err := st.Update(ctx, func(tx store.WriteTx) error {
		if err := tx.PutBlocks(ctx, []store.BlockInfo{{ID: 5, Hash: keys.Hash{5}}, {ID: 6, Hash: keys.Hash{6}}}); err != nil {
			return err
		}
		return tx.CommitPass(ctx, store.Pass{
			Account: acct.ID,
			Height:  8,
			Outputs: []store.Output{Output(3, 1, 1), Output(6, 2, 2)},
			Spends:  []store.Spend{Spend(7, 3, 1)},
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var orphaned []store.Orphaned
	err = st.Update(ctx, func(tx store.WriteTx) error {
		var err error
		orphaned, err = tx.Rollback(ctx, 5)
		return err
	})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(orphaned) != 1 || orphaned[0].Account != acct.ID || len(orphaned[0].Outputs) != 1 || len(orphaned[0].Spends) != 1 {
		t.Fatalf("orphaned: %+v", orphaned)
	}

	got, outs, spends := State(t, st, acct.ID)
	if got.ScanHeight != 5 {
		t.Fatalf("scan height: got %d want 5", got.ScanHeight)
	}
	if len(outs) != 1 || outs[0].Link.Height != 3 || len(spends) != 0 {
		t.Fatalf("after rollback: %d outputs, %d spends", len(outs), len(spends))
	}
	if b, _, _ := State(t, st, behind.ID); b.ScanHeight != 2 {
		t.Fatalf("account below the fork moved to %d", b.ScanHeight)
	}

	err = st.View(ctx, func(tx store.ReadTx) error {
		if _, ok, err := tx.BlockHash(ctx, 5); err != nil || !ok {
			t.Fatalf("block 5 should remain: ok=%v err=%v", ok, err)
		}
		if _, ok, err := tx.BlockHash(ctx, 6); err != nil || ok {
			t.Fatalf("block 6 should be gone: ok=%v err=%v", ok, err)
		}
		kis, err := tx.KeyImages(ctx, acct.ID, store.OutputID{Low: 1})
		if err != nil {
			return err
		}
		if len(kis) != 0 {
			t.Fatalf("key image should be gone")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func hiddenAccounts(t *testing.T, st store.Store) {
	ctx := context.Background()
	addr := Address(1)
	acct := AddAccount(t, st, addr, 0)
	AddAccount(t, st, Address(7), 0)

	if err := st.Update(ctx, func(tx store.WriteTx) error {
		return tx.SetStatus(ctx, store.StatusHidden, []store.AccountAddress{addr})
	}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	err := st.View(ctx, func(tx store.ReadTx) error {
		if _, err := tx.AccountByAddress(ctx, addr); !errors.Is(err, store.ErrAccountNotFound) {
			t.Fatalf("by address: %v", err)
		}
		if _, err := tx.AccountByID(ctx, acct.ID); !errors.Is(err, store.ErrAccountNotFound) {
			t.Fatalf("by id: %v", err)
		}
		list, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		if len(list) != 1 || list[0].Address != Address(7) {
			t.Fatalf("list: %+v", list)
		}
		hidden, err := tx.ListAccounts(ctx, store.StatusHidden)
		if err != nil {
			return err
		}
		if len(hidden) != 1 || hidden[0].ID != acct.ID {
			t.Fatalf("hidden list: %+v", hidden)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	err = st.Update(ctx, func(tx store.WriteTx) error {
		return tx.SetStatus(ctx, store.StatusInactive, []store.AccountAddress{Address(5)})
	})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("status for unknown address: %v", err)
	}
}

func creationRequest(t *testing.T, st store.Store) {
	ctx := context.Background()
	addr := Address(3)

	create := func() error {
		return st.Update(ctx, func(tx store.WriteTx) error {
			return tx.CreationRequest(ctx, addr, store.ViewKey{9}, store.FlagGeneratedLocally, 42)
		})
	}
	if err := create(); err != nil {
		t.Fatalf("CreationRequest: %v", err)
	}
	if err := create(); !errors.Is(err, store.ErrDuplicateRequest) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	var accepted []store.Account
	err := st.Update(ctx, func(tx store.WriteTx) error {
		reqs, err := tx.Requests(ctx, store.RequestCreate)
		if err != nil {
			return err
		}
		if len(reqs) != 1 || reqs[0].Key != (store.ViewKey{9}) || reqs[0].StartHeight != 42 {
			t.Fatalf("pending: %+v", reqs)
		}
		accepted, err = tx.AcceptRequests(ctx, store.RequestCreate, nil)
		return err
	})
	if err != nil {
		t.Fatalf("AcceptRequests: %v", err)
	}
	if len(accepted) != 1 || accepted[0].ScanHeight != 42 || accepted[0].Flags != store.FlagGeneratedLocally {
		t.Fatalf("accepted: %+v", accepted)
	}
	if err := create(); !errors.Is(err, store.ErrDuplicateRequest) {
		t.Fatalf("request for registered account: %v", err)
	}

	err = st.Update(ctx, func(tx store.WriteTx) error {
		_, err := tx.AddAccount(ctx, addr, store.ViewKey{9}, 0, 0)
		return err
	})
	if !errors.Is(err, store.ErrAccountExists) {
		t.Fatalf("second AddAccount: %v", err)
	}
}

func importRequest(t *testing.T, st store.Store) {
	ctx := context.Background()
	addr := Address(4)
	acct := AddAccount(t, st, addr, 50)
	err := st.Update(ctx, func(tx store.WriteTx) error {
		return tx.CommitPass(ctx, store.Pass{Account: acct.ID, FromHeight: 50, Height: 60, Outputs: []store.Output{Output(55, 1, 1)}})
	})
	if err != nil {
		t.Fatalf("CommitPass: %v", err)
	}

	if err := st.Update(ctx, func(tx store.WriteTx) error { return tx.ImportRequest(ctx, Address(8), 0) }); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("import for unknown account: %v", err)
	}
	if err := st.Update(ctx, func(tx store.WriteTx) error { return tx.ImportRequest(ctx, addr, 0) }); err != nil {
		t.Fatalf("ImportRequest: %v", err)
	}
	if err := st.Update(ctx, func(tx store.WriteTx) error { return tx.ImportRequest(ctx, addr, 0) }); !errors.Is(err, store.ErrDuplicateRequest) {
		t.Fatalf("second ImportRequest: %v", err)
	}

	var accepted []store.Account
	err = st.Update(ctx, func(tx store.WriteTx) error {
		var err error
		accepted, err = tx.AcceptRequests(ctx, store.RequestImportScan, []store.AccountAddress{addr})
		return err
	})
	if err != nil {
		t.Fatalf("AcceptRequests: %v", err)
	}
	if len(accepted) != 1 || accepted[0].ScanHeight != 0 || accepted[0].StartHeight != 0 {
		t.Fatalf("accepted: %+v", accepted)
	}
	_, outs, _ := State(t, st, acct.ID)
	if len(outs) != 0 {
		t.Fatalf("import should drop outputs above the new height, got %d", len(outs))
	}
	err = st.View(ctx, func(tx store.ReadTx) error {
		reqs, err := tx.Requests(ctx, store.RequestImportScan)
		if err != nil {
			return err
		}
		if len(reqs) != 0 {
			t.Fatalf("request not cleared: %+v", reqs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func rescan(t *testing.T, st store.Store) {
	ctx := context.Background()
	addr := Address(6)
	acct := AddAccount(t, st, addr, 10)
	err := st.Update(ctx, func(tx store.WriteTx) error {
		return tx.CommitPass(ctx, store.Pass{
			Account:    acct.ID,
			FromHeight: 10,
			Height:     30,
			Outputs:    []store.Output{Output(12, 1, 1), Output(25, 2, 2)},
		})
	})
	if err != nil {
		t.Fatalf("CommitPass: %v", err)
	}
	if err := st.Update(ctx, func(tx store.WriteTx) error { return tx.Rescan(ctx, 20, []store.AccountAddress{addr}) }); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	got, outs, _ := State(t, st, acct.ID)
	if got.ScanHeight != 20 || got.StartHeight != 10 || len(outs) != 1 {
		t.Fatalf("after rescan: %+v outputs=%d", got, len(outs))
	}

	if err := st.Update(ctx, func(tx store.WriteTx) error { return tx.Rescan(ctx, 5, []store.AccountAddress{addr}) }); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if got, _, _ := State(t, st, acct.ID); got.StartHeight != 5 {
		t.Fatalf("start height should follow a lower rescan, got %d", got.StartHeight)
	}
}

func events(t *testing.T, st store.Store) {
	ctx := context.Background()
	a := AddAccount(t, st, Address(1), 0)
	b := AddAccount(t, st, Address(2), 0)

	err := st.Update(ctx, func(tx store.WriteTx) error {
		for i := 0; i < 3; i++ {
			if err := tx.InsertEvent(ctx, store.Event{Kind: "OutputReceived", Account: a.ID, Height: store.BlockID(i), Payload: []byte(`{"b":1,"a":2}`)}); err != nil {
				return err
			}
		}
		return tx.InsertEvent(ctx, store.Event{Kind: "OutputReceived", Account: b.ID, Height: 1})
	})
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	var all []store.Event
	err = st.Update(ctx, func(tx store.WriteTx) error {
		var err error
		if all, _, err = tx.ListEvents(ctx, a.ID, 0, 10); err != nil {
			return err
		}
		if len(all) != 3 || string(all[0].Payload) != `{"b":1,"a":2}` {
			t.Fatalf("events: %+v", all)
		}
		page, next, err := tx.ListEvents(ctx, a.ID, all[0].ID, 10)
		if err != nil {
			return err
		}
		if len(page) != 2 || page[0].ID != all[1].ID || next != all[2].ID {
			t.Fatalf("page: %+v next=%d", page, next)
		}
		return tx.SetEventCursor(ctx, a.ID, next)
	})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}

	err = st.View(ctx, func(tx store.ReadTx) error {
		c, err := tx.EventCursor(ctx, a.ID)
		if err != nil {
			return err
		}
		if c != all[2].ID {
			t.Fatalf("cursor: %d", c)
		}
		if c, err = tx.EventCursor(ctx, b.ID); err != nil || c != 0 {
			t.Fatalf("unset cursor: %d %v", c, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}
