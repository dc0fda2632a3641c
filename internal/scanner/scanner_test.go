package scanner

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/edwards25519"
	"github.com/Abdullah1738/lws-scan/internal/daemon"
	"github.com/Abdullah1738/lws-scan/internal/events"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/store/rocksdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func secret(t *testing.T) (keys.SecretKey, keys.PublicKey) {
	t.Helper()
	var wide [64]byte
	_, err := rand.Read(wide[:])
	require.NoError(t, err)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	require.NoError(t, err)
	var k keys.SecretKey
	copy(k[:], s.Bytes())
	pub, err := keys.PublicFromSecret(k)
	require.NoError(t, err)
	return k, pub
}

type wallet struct {
	view     keys.SecretKey
	viewPub  keys.PublicKey
	spendPub keys.PublicKey
	addr     store.AccountAddress
}

func newWallet(t *testing.T) wallet {
	view, viewPub := secret(t)
	_, spendPub := secret(t)
	return wallet{
		view:     view,
		viewPub:  viewPub,
		spendPub: spendPub,
		addr:     store.AccountAddress{ViewPublic: viewPub, SpendPublic: spendPub},
	}
}

// chain builds a linked chain on a fake node.
type chain struct {
	t      *testing.T
	node   *daemon.Fake
	global uint64
	salt   uint32
}

func newChain(t *testing.T) *chain {
	c := &chain{t: t, node: daemon.NewFake()}
	c.mine()
	return c
}

func (c *chain) extraFor(pub keys.PublicKey) []byte {
	return append([]byte{0x01}, pub[:]...)
}

// mine appends a block holding txs and returns its height and the global
// indices assigned to each transaction's outputs.
func (c *chain) mine(txs ...daemon.Transaction) (uint64, [][]uint64) {
	t := c.t
	height := c.node.Height()
	_, minerPub := secret(t)
	_, minerKey := secret(t)
	minerTx := daemon.Transaction{
		Version:    2,
		UnlockTime: height + 60,
		Inputs:     []daemon.Input{{Kind: daemon.InputGen, Gen: daemon.GenInput{Height: height}}},
		Outputs:    []daemon.Output{{Amount: 600, Kind: daemon.TargetToKey, ToKey: daemon.KeyTarget{Key: minerKey}}},
		Extra:      c.extraFor(minerPub),
	}

	var prev keys.Hash
	if height > 0 {
		parent := c.node.Block(height - 1)
		var err error
		prev, err = daemon.BlockID(&parent.Block)
		require.NoError(t, err)
	}

	c.salt++
	blk := daemon.BlockWithTransactions{
		Block: daemon.Block{
			MajorVersion: 16,
			MinorVersion: 16,
			Timestamp:    1_700_000_000 + height,
			MinerTx:      minerTx,
			PrevID:       prev,
			Nonce:        c.salt,
		},
		Transactions: txs,
	}
	indices := [][]uint64{c.assign(len(minerTx.Outputs))}
	for j := range txs {
		var salt [8]byte
		binary.BigEndian.PutUint64(salt[:], uint64(c.salt)<<32|uint64(j))
		blk.Block.TxHashes = append(blk.Block.TxHashes, keys.Keccak256([]byte("tx"), salt[:]))
		indices = append(indices, c.assign(len(txs[j].Outputs)))
	}
	c.node.Append(blk, indices)
	return height, indices
}

func (c *chain) assign(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = c.global
		c.global++
	}
	return out
}

// pay builds a RingCT transaction with one output to w, spending the given
// ring of global indices.
func (c *chain) pay(w wallet, amount uint64, ring ...uint64) daemon.Transaction {
	t := c.t
	r, txPub := secret(t)
	d, err := keys.Derive(w.viewPub, r)
	require.NoError(t, err)
	key, err := keys.DerivePublicKey(d, 0, w.spendPub)
	require.NoError(t, err)
	info, mask := keys.EncodeAmount(d, 0, keys.RCTTypeBulletproofPlus, amount)
	commitment, err := keys.Commit(mask, amount)
	require.NoError(t, err)

	if len(ring) == 0 {
		ring = []uint64{0}
	}
	offsets := make([]uint64, len(ring))
	var last uint64
	for i, g := range ring {
		offsets[i] = g - last
		last = g
	}
	_, image := secret(t)

	return daemon.Transaction{
		Version: 2,
		Inputs: []daemon.Input{{Kind: daemon.InputToKey, ToKey: daemon.ToKeyInput{
			KeyOffsets: offsets,
			KeyImage:   keys.KeyImage(image),
		}}},
		Outputs: []daemon.Output{{
			Kind:        daemon.TargetToTaggedKey,
			ToTaggedKey: daemon.TaggedKeyTarget{Key: key, ViewTag: []byte{keys.ViewTag(d, 0)}},
		}},
		Extra: c.extraFor(txPub),
		RingCT: daemon.RingCT{
			Type:        keys.RCTTypeBulletproofPlus,
			Encrypted:   []daemon.ECDHTuple{{Mask: info.Mask, Amount: info.Amount}},
			Commitments: []keys.PublicKey{commitment},
			Fee:         10,
		},
	}
}

// openStore is swapped by the integration tests to run the same scenarios
// against the SQL backends.
var openStore = func(t *testing.T) store.Store {
	t.Helper()
	st, err := rocksdb.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func addAccount(t *testing.T, st store.Store, w wallet, start store.BlockID) store.Account {
	t.Helper()
	var a store.Account
	require.NoError(t, st.Update(context.Background(), func(tx store.WriteTx) error {
		var err error
		a, err = tx.AddAccount(context.Background(), w.addr, store.ViewKey(w.view), 0, start)
		return err
	}))
	return a
}

func newScanner(t *testing.T, st store.Store, node daemon.Client, cfg Config) *Scanner {
	t.Helper()
	s, err := New(st, node, cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return s
}

func syncAll(t *testing.T, s *Scanner) {
	t.Helper()
	for i := 0; i < 50; i++ {
		done, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		if done {
			return
		}
	}
	t.Fatalf("scanner did not catch up")
}

type snapshot struct {
	account store.Account
	outputs []store.Output
	spends  []store.Spend
	events  []store.Event
	chain   store.BlockID
}

func read(t *testing.T, st store.Store, id store.AccountID) snapshot {
	t.Helper()
	var snap snapshot
	ctx := context.Background()
	require.NoError(t, st.View(ctx, func(tx store.ReadTx) error {
		var err error
		if snap.account, err = tx.AccountByID(ctx, id); err != nil {
			return err
		}
		if snap.outputs, err = tx.Outputs(ctx, id); err != nil {
			return err
		}
		if snap.spends, err = tx.Spends(ctx, id); err != nil {
			return err
		}
		if snap.events, _, err = tx.ListEvents(ctx, id, 0, 1000); err != nil {
			return err
		}
		snap.chain, err = tx.ChainHeight(ctx)
		return err
	}))
	return snap
}

func kinds(evs []store.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func TestScanner_ReceivesAndSpends(t *testing.T) {
	w := newWallet(t)
	other := newWallet(t)
	c := newChain(t)

	c.mine(c.pay(other, 5))
	payHeight, idx := c.mine(c.pay(w, 1234))
	ours := idx[1][0]
	c.mine()
	spendHeight, _ := c.mine(c.pay(other, 1000, 0, ours))

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 2, Workers: 2})
	syncAll(t, s)

	snap := read(t, st, acct.ID)
	require.Equal(t, store.BlockID(spendHeight), snap.account.ScanHeight)
	require.Equal(t, store.BlockID(c.node.Height()-1), snap.chain)

	require.Len(t, snap.outputs, 1)
	out := snap.outputs[0]
	require.Equal(t, uint64(1234), out.Spend.Amount)
	require.Equal(t, store.BlockID(payHeight), out.Link.Height)
	require.Equal(t, store.OutputID{Low: ours}, out.Spend.ID)
	require.Equal(t, store.ExtraRingCT, out.ExtraFlags())
	require.Equal(t, c.node.Block(payHeight).Block.TxHashes[0], out.Link.TxHash)

	require.Len(t, snap.spends, 1)
	sp := snap.spends[0]
	require.Equal(t, store.BlockID(spendHeight), sp.Link.Height)
	require.Equal(t, out.Spend.ID, sp.Source)
	require.Equal(t, uint32(1), sp.MixinCount)

	require.Equal(t, []string{events.KindOutputReceived, events.KindSpendDetected}, kinds(snap.events))
}

func TestScanner_StartHeightSkipsEarlierBlocks(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine(c.pay(w, 1))
	c.mine()
	late, _ := c.mine(c.pay(w, 2))

	st := openStore(t)
	acct := addAccount(t, st, w, 2)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10})
	syncAll(t, s)

	snap := read(t, st, acct.ID)
	require.Len(t, snap.outputs, 1)
	require.Equal(t, store.BlockID(late), snap.outputs[0].Link.Height)
	require.Equal(t, uint64(2), snap.outputs[0].Spend.Amount)
}

func TestScanner_ReorgRollsBack(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine()
	c.mine(c.pay(w, 77))
	c.mine()

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10})
	syncAll(t, s)
	require.Len(t, read(t, st, acct.ID).outputs, 1)

	c.node.Truncate(2)
	c.mine()
	c.mine()
	c.mine()
	syncAll(t, s)

	snap := read(t, st, acct.ID)
	require.Empty(t, snap.outputs)
	require.Equal(t, store.BlockID(c.node.Height()-1), snap.account.ScanHeight)
	require.Equal(t, []string{events.KindOutputReceived, events.KindOutputOrphaned}, kinds(snap.events))

	requireStoredChain(t, st, c)
}

// requireStoredChain checks that the stored digests are the node's chain.
func requireStoredChain(t *testing.T, st store.Store, c *chain) {
	t.Helper()
	for h := uint64(0); h < c.node.Height(); h++ {
		blk := c.node.Block(h)
		want, err := daemon.BlockID(&blk.Block)
		require.NoError(t, err)
		var got keys.Hash
		var ok bool
		require.NoError(t, st.View(context.Background(), func(tx store.ReadTx) error {
			var err error
			got, ok, err = tx.BlockHash(context.Background(), store.BlockID(h))
			return err
		}))
		require.True(t, ok, "height %d", h)
		require.Equal(t, want, got, "height %d", h)
	}
}

func TestScanner_ReorgAboveLowestAccount(t *testing.T) {
	w := newWallet(t)
	late := newWallet(t)
	c := newChain(t)
	c.mine()
	c.mine(c.pay(w, 77))
	c.mine()

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10, Workers: 1})
	syncAll(t, s)
	require.Len(t, read(t, st, acct.ID).outputs, 1)

	// A new account at 0 makes the next fetch start below the fork.
	other := addAccount(t, st, late, 0)
	c.node.Truncate(2)
	c.mine()
	c.mine()
	c.mine()
	syncAll(t, s)

	tip := store.BlockID(c.node.Height() - 1)
	snap := read(t, st, acct.ID)
	require.Empty(t, snap.outputs)
	require.Equal(t, tip, snap.account.ScanHeight)
	require.Equal(t, []string{events.KindOutputReceived, events.KindOutputOrphaned}, kinds(snap.events))
	require.Equal(t, tip, read(t, st, other.ID).account.ScanHeight)
	requireStoredChain(t, st, c)
}

func TestScanner_ReorgToShorterChain(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine()
	c.mine()
	c.mine(c.pay(w, 5))

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10})
	syncAll(t, s)
	require.Len(t, read(t, st, acct.ID).outputs, 1)
	require.Equal(t, store.BlockID(3), read(t, st, acct.ID).account.ScanHeight)

	c.node.Truncate(2)
	c.mine()
	syncAll(t, s)

	snap := read(t, st, acct.ID)
	require.Empty(t, snap.outputs)
	require.Equal(t, store.BlockID(2), snap.account.ScanHeight)
	require.Equal(t, store.BlockID(2), snap.chain)
	require.Equal(t, []string{events.KindOutputReceived, events.KindOutputOrphaned}, kinds(snap.events))
	requireStoredChain(t, st, c)
}

func TestScanner_ShorterAgreeingChainKeepsHistory(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine(c.pay(w, 5))
	c.mine()

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10})
	syncAll(t, s)

	// A node that has only synced part of the same chain.
	c.node.Truncate(2)
	done, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, done)

	snap := read(t, st, acct.ID)
	require.Len(t, snap.outputs, 1)
	require.Equal(t, store.BlockID(2), snap.account.ScanHeight)
}

func TestScanner_FetchFailureResumesFromStore(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine(c.pay(w, 9))
	c.mine()

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10})

	c.node.FailNext(errors.New("node down"))
	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, store.BlockID(0), read(t, st, acct.ID).account.ScanHeight)

	c.node.FailNext(nil)
	syncAll(t, s)
	snap := read(t, st, acct.ID)
	require.Len(t, snap.outputs, 1)
	require.Equal(t, store.BlockID(2), snap.account.ScanHeight)
}

func TestScanner_StaleCacheRebuilt(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine(c.pay(w, 3))
	c.mine()

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, BatchSize: 10})
	syncAll(t, s)

	require.NoError(t, st.Update(context.Background(), func(tx store.WriteTx) error {
		return tx.Rescan(context.Background(), 0, []store.AccountAddress{w.addr})
	}))
	require.Empty(t, read(t, st, acct.ID).outputs)

	syncAll(t, s)
	snap := read(t, st, acct.ID)
	require.Len(t, snap.outputs, 1)
	require.Equal(t, []string{events.KindOutputReceived, events.KindOutputReceived}, kinds(snap.events))
}

func TestScanner_AutoAccept(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine(c.pay(w, 11))

	st := openStore(t)
	require.NoError(t, st.Update(context.Background(), func(tx store.WriteTx) error {
		return tx.CreationRequest(context.Background(), w.addr, store.ViewKey(w.view), store.FlagGeneratedLocally, 0)
	}))

	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, AutoAccept: true})
	syncAll(t, s)

	var a store.Account
	require.NoError(t, st.View(context.Background(), func(tx store.ReadTx) error {
		var err error
		a, err = tx.AccountByAddress(context.Background(), w.addr)
		return err
	}))
	require.Len(t, read(t, st, a.ID).outputs, 1)
}

func TestScanner_RunPollsAndStops(t *testing.T) {
	w := newWallet(t)
	c := newChain(t)
	c.mine()

	st := openStore(t)
	acct := addAccount(t, st, w, 0)
	notify := make(chan struct{}, 1)
	s := newScanner(t, st, c.node, Config{Network: keys.Mainnet, PollInterval: time.Hour, Notify: notify})
	require.Equal(t, Stopped, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == Polling }, 5*time.Second, 10*time.Millisecond)

	c.mine(c.pay(w, 5))
	notify <- struct{}{}
	require.Eventually(t, func() bool {
		return len(read(t, st, acct.ID).outputs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
	require.Equal(t, Stopped, s.State())
}

func TestPartition(t *testing.T) {
	recs := []store.Account{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}
	parts := partition(recs, 2)
	require.Len(t, parts, 2)
	require.Len(t, parts[0], 3)
	require.Len(t, parts[1], 2)
	require.Len(t, partition(recs[:1], 8), 1)
}

func TestClaimExcludes(t *testing.T) {
	s := newScanner(t, openStore(t), daemon.NewFake(), Config{})
	recs := []store.Account{{ID: 1}, {ID: 2}}
	first := s.claim(recs)
	require.Len(t, first, 2)
	require.Empty(t, s.claim(recs))
	s.unclaim(first)
	require.Len(t, s.claim(recs), 2)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "syncing", Syncing.String())
	require.Equal(t, "polling", Polling.String())
	require.Equal(t, "stopped", Stopped.String())
}
