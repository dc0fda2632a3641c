package daemon

import (
	"fmt"

	"github.com/Abdullah1738/lws-scan/internal/keys"
)

// Input variants, in the order the node names them.
const (
	InputToKey = iota
	InputGen
	InputToScript
	InputToScriptHash
)

// Output target variants.
const (
	TargetToKey = iota
	TargetToTaggedKey
	TargetToScript
	TargetToScriptHash
)

type ToKeyInput struct {
	Amount     uint64
	KeyOffsets []uint64
	KeyImage   keys.KeyImage
}

type GenInput struct {
	Height uint64
}

type ScriptInput struct {
	Prev    keys.Hash
	Prevout uint64
	Sigset  []byte
}

type ScriptHashInput struct {
	Prev    keys.Hash
	Prevout uint64
	Script  ScriptTarget
	Sigset  []byte
}

type Input struct {
	Kind         int
	ToKey        ToKeyInput
	Gen          GenInput
	ToScript     ScriptInput
	ToScriptHash ScriptHashInput
}

// AbsoluteOffsets converts the relative ring offsets of a to_key input.
func (in ToKeyInput) AbsoluteOffsets() []uint64 {
	out := make([]uint64, len(in.KeyOffsets))
	var sum uint64
	for i, o := range in.KeyOffsets {
		sum += o
		out[i] = sum
	}
	return out
}

type KeyTarget struct {
	Key keys.PublicKey
}

type TaggedKeyTarget struct {
	Key     keys.PublicKey
	ViewTag []byte
}

type ScriptTarget struct {
	Keys   []keys.PublicKey
	Script []byte
}

type ScriptHashTarget struct {
	Hash keys.Hash
}

type Output struct {
	Amount       uint64
	Kind         int
	ToKey        KeyTarget
	ToTaggedKey  TaggedKeyTarget
	ToScript     ScriptTarget
	ToScriptHash ScriptHashTarget
}

// Key returns the one-time output key, if the target has one.
func (o Output) Key() (keys.PublicKey, bool) {
	switch o.Kind {
	case TargetToKey:
		return o.ToKey.Key, true
	case TargetToTaggedKey:
		return o.ToTaggedKey.Key, true
	}
	return keys.PublicKey{}, false
}

// ViewTag returns the output's view tag, if it carries one.
func (o Output) ViewTag() (byte, bool) {
	if o.Kind != TargetToTaggedKey || len(o.ToTaggedKey.ViewTag) != 1 {
		return 0, false
	}
	return o.ToTaggedKey.ViewTag[0], true
}

type ECDHTuple struct {
	Mask   [32]byte
	Amount [32]byte
}

type RingCT struct {
	Type        uint16
	Encrypted   []ECDHTuple
	Commitments []keys.PublicKey
	Fee         uint64
}

type Transaction struct {
	Version    uint64
	UnlockTime uint64
	Inputs     []Input
	Outputs    []Output
	Extra      []byte
	RingCT     RingCT
}

// Coinbase reports whether the transaction mints new coins.
func (tx *Transaction) Coinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Kind == InputGen
}

type Block struct {
	MajorVersion uint64
	MinorVersion uint64
	Timestamp    uint64
	MinerTx      Transaction
	TxHashes     []keys.Hash
	PrevID       keys.Hash
	Nonce        uint32
}

type BlockWithTransactions struct {
	Block        Block
	Transactions []Transaction
}

// BlocksResponse is the result of get_blocks_fast. OutputIndices is indexed
// by block, then transaction (miner tx first), then output.
type BlocksResponse struct {
	Blocks        []BlockWithTransactions
	OutputIndices [][][]uint64
	StartHeight   uint64
	CurrentHeight uint64
}

// Check verifies the response is internally consistent: one index list per
// block, one per transaction (miner tx first), and one index per output.
func (r *BlocksResponse) Check() error {
	if len(r.OutputIndices) != len(r.Blocks) {
		return fmt.Errorf("daemon: %d blocks but %d output index lists", len(r.Blocks), len(r.OutputIndices))
	}
	for i := range r.Blocks {
		b := &r.Blocks[i]
		if len(b.Transactions) != len(b.Block.TxHashes) {
			return fmt.Errorf("daemon: block %d: %d transactions for %d hashes", r.StartHeight+uint64(i), len(b.Transactions), len(b.Block.TxHashes))
		}
		idx := r.OutputIndices[i]
		if len(idx) != len(b.Transactions)+1 {
			return fmt.Errorf("daemon: block %d: %d index lists for %d transactions", r.StartHeight+uint64(i), len(idx), len(b.Transactions)+1)
		}
		if len(idx[0]) != len(b.Block.MinerTx.Outputs) {
			return fmt.Errorf("daemon: block %d: miner tx output indices mismatch", r.StartHeight+uint64(i))
		}
		for j := range b.Transactions {
			if len(idx[j+1]) != len(b.Transactions[j].Outputs) {
				return fmt.Errorf("daemon: block %d tx %d: output indices mismatch", r.StartHeight+uint64(i), j)
			}
		}
	}
	return nil
}
