package scanner

import (
	"fmt"

	"github.com/Abdullah1738/lws-scan/internal/account"
	"github.com/Abdullah1738/lws-scan/internal/daemon"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"go.uber.org/zap"
)

type block struct {
	height    store.BlockID
	id        keys.Hash
	timestamp uint64
	txs       []transaction
}

type transaction struct {
	*daemon.Transaction
	hash     keys.Hash
	prefix   keys.Hash
	extra    daemon.Extra
	indices  []uint64
	coinbase bool
	mixin    uint32
}

// prepare hashes and links the fetched blocks. Each block must name its
// predecessor in the batch as prev_id.
func prepare(resp *daemon.BlocksResponse, log *zap.Logger) ([]block, error) {
	if err := resp.Check(); err != nil {
		return nil, err
	}
	out := make([]block, len(resp.Blocks))
	for i := range resp.Blocks {
		bw := &resp.Blocks[i]
		height := store.BlockID(resp.StartHeight + uint64(i))

		id, err := daemon.BlockID(&bw.Block)
		if err != nil {
			return nil, fmt.Errorf("scanner: block %d: %w", height, err)
		}
		if i > 0 && bw.Block.PrevID != out[i-1].id {
			return nil, fmt.Errorf("scanner: block %d does not extend block %d", height, height-1)
		}
		minerHash, err := daemon.MinerTxHash(&bw.Block.MinerTx)
		if err != nil {
			return nil, fmt.Errorf("scanner: block %d: %w", height, err)
		}

		b := block{height: height, id: id, timestamp: bw.Block.Timestamp}
		b.txs = make([]transaction, 0, len(bw.Transactions)+1)
		miner, err := newTransaction(&bw.Block.MinerTx, minerHash, resp.OutputIndices[i][0], log)
		if err != nil {
			return nil, fmt.Errorf("scanner: block %d miner tx: %w", height, err)
		}
		b.txs = append(b.txs, miner)
		for j := range bw.Transactions {
			t, err := newTransaction(&bw.Transactions[j], bw.Block.TxHashes[j], resp.OutputIndices[i][j+1], log)
			if err != nil {
				return nil, fmt.Errorf("scanner: block %d tx %s: %w", height, bw.Block.TxHashes[j], err)
			}
			b.txs = append(b.txs, t)
		}
		out[i] = b
	}
	return out, nil
}

func newTransaction(tx *daemon.Transaction, hash keys.Hash, indices []uint64, log *zap.Logger) (transaction, error) {
	prefix, err := daemon.PrefixHash(tx)
	if err != nil {
		return transaction{}, err
	}
	extra, err := daemon.ParseExtra(tx.Extra)
	if err != nil {
		log.Debug("partial tx extra", zap.Stringer("tx_hash", hash), zap.Error(err))
	}
	t := transaction{
		Transaction: tx,
		hash:        hash,
		prefix:      prefix,
		extra:       extra,
		indices:     indices,
		coinbase:    tx.Coinbase(),
	}
	for _, in := range tx.Inputs {
		if in.Kind == daemon.InputToKey && len(in.ToKey.KeyOffsets) > 0 {
			t.mixin = uint32(len(in.ToKey.KeyOffsets) - 1)
			break
		}
	}
	return t, nil
}

func (s *Scanner) scanBlock(a *account.Account, b *block) {
	for i := range b.txs {
		t := &b.txs[i]
		s.scanInputs(a, b, t)
		s.scanOutputs(a, b, t)
	}
}

// scanInputs records a candidate spend for every ring member that is one of
// the account's outputs. A view key alone cannot tell the real spend apart
// from decoys.
func (s *Scanner) scanInputs(a *account.Account, b *block, t *transaction) {
	pidLen, pid := t.extra.RawPaymentID()
	for _, in := range t.Inputs {
		if in.Kind != daemon.InputToKey {
			continue
		}
		ring := in.ToKey.AbsoluteOffsets()
		for _, idx := range ring {
			src := store.OutputID{High: in.ToKey.Amount, Low: idx}
			if !a.HasSpendable(src) {
				continue
			}
			a.AddSpend(store.Spend{
				Link:       store.TransactionLink{Height: b.height, TxHash: t.hash},
				Image:      in.ToKey.KeyImage,
				Source:     src,
				Timestamp:  b.timestamp,
				UnlockTime: t.UnlockTime,
				MixinCount: uint32(len(ring) - 1),
				Length:     uint8(pidLen),
				PaymentID:  pid,
			})
		}
	}
}

func (s *Scanner) scanOutputs(a *account.Account, b *block, t *transaction) {
	if !t.extra.HasTxPub && len(t.extra.AdditionalPubs) == 0 {
		return
	}
	view := a.ViewKey()
	spend := a.SpendPublic()

	var main keys.Derivation
	haveMain := false
	if t.extra.HasTxPub {
		d, err := keys.Derive(t.extra.TxPub, view)
		haveMain = err == nil
		main = d
	}
	additional := len(t.extra.AdditionalPubs) == len(t.Outputs)

	for i := range t.Outputs {
		out := &t.Outputs[i]
		key, ok := out.Key()
		if !ok {
			continue
		}
		index := uint64(i)

		var d keys.Derivation
		txPub := t.extra.TxPub
		matched := false
		if haveMain && owns(main, index, spend, out, key) {
			d, matched = main, true
		} else if additional {
			pub := t.extra.AdditionalPubs[i]
			if ad, err := keys.Derive(pub, view); err == nil && owns(ad, index, spend, out, key) {
				d, matched, txPub = ad, true, pub
			}
		}
		if !matched {
			continue
		}

		o, ok := s.received(b, t, i, d, key, txPub)
		if !ok {
			continue
		}
		a.AddOut(o)
	}
}

func owns(d keys.Derivation, index uint64, spend keys.PublicKey, out *daemon.Output, key keys.PublicKey) bool {
	if tag, ok := out.ViewTag(); ok && keys.ViewTag(d, index) != tag {
		return false
	}
	return keys.OwnsOutput(d, index, spend, key)
}

// received builds the stored record of an owned output. It reports false
// when the amount cannot be recovered or the commitment does not open.
func (s *Scanner) received(b *block, t *transaction, i int, d keys.Derivation, key, txPub keys.PublicKey) (store.Output, bool) {
	out := &t.Outputs[i]
	index := uint64(i)
	if i >= len(t.indices) {
		return store.Output{}, false
	}
	global := t.indices[i]

	var (
		amount uint64
		mask   [32]byte
		flags  store.ExtraFlags
		id     store.OutputID
	)
	switch {
	case t.RingCT.Type != keys.RCTTypeNull:
		rct := &t.RingCT
		if i >= len(rct.Encrypted) || i >= len(rct.Commitments) {
			return store.Output{}, false
		}
		var err error
		enc := rct.Encrypted[i]
		amount, mask, err = keys.DecodeAmount(d, index, int(rct.Type), keys.ECDHInfo{Mask: enc.Mask, Amount: enc.Amount})
		if err != nil || !keys.VerifyCommitment(rct.Commitments[i], mask, amount) {
			s.log.Debug("ringct amount did not verify", zap.Stringer("tx_hash", t.hash), zap.Int("index", i), zap.Error(err))
			return store.Output{}, false
		}
		flags |= store.ExtraRingCT
		id = store.OutputID{Low: global}
	case t.Version >= 2:
		amount = out.Amount
		mask = keys.IdentityMask()
		flags |= store.ExtraRingCT
		id = store.OutputID{Low: global}
	default:
		amount = out.Amount
		id = store.OutputID{High: amount, Low: global}
	}
	if t.coinbase {
		flags |= store.ExtraCoinbase
	}

	o := store.Output{
		Link: store.TransactionLink{Height: b.height, TxHash: t.hash},
		Spend: store.SpendMeta{
			ID:         id,
			Amount:     amount,
			MixinCount: t.mixin,
			Index:      uint32(i),
			TxPublic:   txPub,
		},
		Timestamp:    b.timestamp,
		UnlockTime:   t.UnlockTime,
		TxPrefixHash: t.prefix,
		Pub:          key,
		RingctMask:   mask,
	}

	pidLen := 0
	switch {
	case t.extra.PaymentID != nil:
		pidLen = copy(o.PaymentID[:], t.extra.PaymentID[:])
	case t.extra.EncryptedPaymentID != nil:
		plain := keys.DecryptPaymentID(d, *t.extra.EncryptedPaymentID)
		pidLen = copy(o.PaymentID[:], plain[:])
	}
	o.Extra = store.PackExtra(flags, pidLen)
	return o, true
}
