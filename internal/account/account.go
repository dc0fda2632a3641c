// Package account is the in-memory aggregate a scanner worker mutates while
// it walks blocks for one registered address.
package account

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
)

// The stored view key must be exactly one scalar wide.
var (
	_ [keys.ScalarSize - len(store.ViewKey{})]struct{}
	_ [len(store.ViewKey{}) - keys.ScalarSize]struct{}
)

// ErrReleased is the panic value for any use of a released Account.
var ErrReleased = errors.New("account: use of released account")

type identity struct {
	address string
	id      store.AccountID
	pubs    store.AccountAddress
	viewKey keys.SecretKey
}

// Account pairs a shared read-only identity with per-worker sorted indices
// and the buffers of the pass in progress.
type Account struct {
	ident     *identity
	spendable []store.OutputID
	pubs      []keys.PublicKey
	outputs   []store.Output
	spends    []store.Spend
	height    store.BlockID
}

func New(rec store.Account, spendable []store.OutputID, pubs []keys.PublicKey, network keys.Network) *Account {
	ident := &identity{
		address: keys.FormatAddress(network, rec.Address.Keys()),
		id:      rec.ID,
		pubs:    rec.Address,
		viewKey: keys.SecretKey(rec.Key),
	}
	a := &Account{
		ident:     ident,
		spendable: slices.Clone(spendable),
		pubs:      slices.Clone(pubs),
		height:    rec.ScanHeight,
	}
	slices.SortFunc(a.spendable, store.OutputID.Compare)
	a.spendable = slices.Compact(a.spendable)
	slices.SortFunc(a.pubs, comparePub)
	a.pubs = slices.Compact(a.pubs)
	return a
}

// Load builds an aggregate from rec and the outputs already stored for it.
func Load(ctx context.Context, tx store.ReadTx, rec store.Account, network keys.Network) (*Account, error) {
	outs, err := tx.Outputs(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("account: load outputs: %w", err)
	}
	spendable := make([]store.OutputID, 0, len(outs))
	pubs := make([]keys.PublicKey, 0, len(outs))
	for _, o := range outs {
		spendable = append(spendable, o.Spend.ID)
		pubs = append(pubs, o.Pub)
	}
	return New(rec, spendable, pubs, network), nil
}

func comparePub(a, b keys.PublicKey) int { return bytes.Compare(a[:], b[:]) }

func (a *Account) live() *identity {
	if a.ident == nil {
		panic(ErrReleased)
	}
	return a.ident
}

// ID returns InvalidAccountID once the account is released.
func (a *Account) ID() store.AccountID {
	if a.ident == nil {
		return store.InvalidAccountID
	}
	return a.ident.id
}

func (a *Account) Address() string                    { return a.live().address }
func (a *Account) StoreAddress() store.AccountAddress { return a.live().pubs }
func (a *Account) ViewPublic() keys.PublicKey         { return a.live().pubs.ViewPublic }
func (a *Account) SpendPublic() keys.PublicKey        { return a.live().pubs.SpendPublic }
func (a *Account) ViewKey() keys.SecretKey            { return a.live().viewKey }

func (a *Account) ScanHeight() store.BlockID {
	a.live()
	return a.height
}

func (a *Account) HasSpendable(id store.OutputID) bool {
	a.live()
	i := sort.Search(len(a.spendable), func(i int) bool { return !a.spendable[i].Less(id) })
	return i < len(a.spendable) && a.spendable[i] == id
}

// AddOut records a newly found output. An output whose one-time key is
// already known is ignored and AddOut reports false.
func (a *Account) AddOut(out store.Output) bool {
	a.live()
	i, found := slices.BinarySearchFunc(a.pubs, out.Pub, comparePub)
	if found {
		return false
	}
	a.pubs = slices.Insert(a.pubs, i, out.Pub)

	j, dup := slices.BinarySearchFunc(a.spendable, out.Spend.ID, store.OutputID.Compare)
	if !dup {
		a.spendable = slices.Insert(a.spendable, j, out.Spend.ID)
	}
	a.outputs = append(a.outputs, out)
	return true
}

// AddSpend buffers a spend. Key image uniqueness is the caller's concern.
func (a *Account) AddSpend(s store.Spend) {
	a.live()
	a.spends = append(a.spends, s)
}

// Outputs and Spends return the pending buffers of the current pass.
func (a *Account) Outputs() []store.Output {
	a.live()
	return a.outputs
}

func (a *Account) Spends() []store.Spend {
	a.live()
	return a.spends
}

// Pass describes the pending buffers as a commit up to height.
func (a *Account) Pass(height store.BlockID) store.Pass {
	ident := a.live()
	return store.Pass{
		Account:    ident.id,
		FromHeight: a.height,
		Height:     height,
		Outputs:    a.outputs,
		Spends:     a.spends,
	}
}

// Clone shares the identity and copies everything mutable.
func (a *Account) Clone() *Account {
	return &Account{
		ident:     a.live(),
		spendable: slices.Clone(a.spendable),
		pubs:      slices.Clone(a.pubs),
		outputs:   slices.Clone(a.outputs),
		spends:    slices.Clone(a.spends),
		height:    a.height,
	}
}

// Updated marks the pending buffers as durably stored at height. Call it only
// after the store has committed them.
func (a *Account) Updated(height store.BlockID) {
	a.live()
	a.height = height
	a.outputs = nil
	a.spends = nil
}

// Release drops the identity. Every later accessor except ID panics.
func (a *Account) Release() {
	a.ident = nil
	a.spendable = nil
	a.pubs = nil
	a.outputs = nil
	a.spends = nil
}

// Spendable returns a copy of the sorted spendable index.
func (a *Account) Spendable() []store.OutputID {
	a.live()
	return slices.Clone(a.spendable)
}

// Pubs returns a copy of the sorted one-time key index.
func (a *Account) Pubs() []keys.PublicKey {
	a.live()
	return slices.Clone(a.pubs)
}
