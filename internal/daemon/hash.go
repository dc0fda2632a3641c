package daemon

import (
	"encoding/binary"
	"fmt"

	"github.com/Abdullah1738/lws-scan/internal/keys"
)

const (
	inTagGen          = 0xff
	inTagToScript     = 0x00
	inTagToScriptHash = 0x01
	inTagToKey        = 0x02

	outTagToScript     = 0x00
	outTagToScriptHash = 0x01
	outTagToKey        = 0x02
	outTagToTaggedKey  = 0x03
)

// AppendPrefix appends the binary serialization of the transaction prefix.
func AppendPrefix(b []byte, tx *Transaction) ([]byte, error) {
	b = keys.AppendVarint(b, tx.Version)
	b = keys.AppendVarint(b, tx.UnlockTime)

	b = keys.AppendVarint(b, uint64(len(tx.Inputs)))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		switch in.Kind {
		case InputGen:
			b = append(b, inTagGen)
			b = keys.AppendVarint(b, in.Gen.Height)
		case InputToKey:
			b = append(b, inTagToKey)
			b = keys.AppendVarint(b, in.ToKey.Amount)
			b = keys.AppendVarint(b, uint64(len(in.ToKey.KeyOffsets)))
			for _, o := range in.ToKey.KeyOffsets {
				b = keys.AppendVarint(b, o)
			}
			b = append(b, in.ToKey.KeyImage[:]...)
		case InputToScript:
			b = append(b, inTagToScript)
			b = append(b, in.ToScript.Prev[:]...)
			b = keys.AppendVarint(b, in.ToScript.Prevout)
			b = appendBytes(b, in.ToScript.Sigset)
		case InputToScriptHash:
			b = append(b, inTagToScriptHash)
			b = append(b, in.ToScriptHash.Prev[:]...)
			b = keys.AppendVarint(b, in.ToScriptHash.Prevout)
			b = appendScript(b, in.ToScriptHash.Script)
			b = appendBytes(b, in.ToScriptHash.Sigset)
		default:
			return nil, fmt.Errorf("daemon: input %d: unknown kind %d", i, in.Kind)
		}
	}

	b = keys.AppendVarint(b, uint64(len(tx.Outputs)))
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		b = keys.AppendVarint(b, out.Amount)
		switch out.Kind {
		case TargetToKey:
			b = append(b, outTagToKey)
			b = append(b, out.ToKey.Key[:]...)
		case TargetToTaggedKey:
			if len(out.ToTaggedKey.ViewTag) != 1 {
				return nil, fmt.Errorf("daemon: output %d: view tag length %d", i, len(out.ToTaggedKey.ViewTag))
			}
			b = append(b, outTagToTaggedKey)
			b = append(b, out.ToTaggedKey.Key[:]...)
			b = append(b, out.ToTaggedKey.ViewTag[0])
		case TargetToScript:
			b = append(b, outTagToScript)
			b = appendScript(b, out.ToScript)
		case TargetToScriptHash:
			b = append(b, outTagToScriptHash)
			b = append(b, out.ToScriptHash.Hash[:]...)
		default:
			return nil, fmt.Errorf("daemon: output %d: unknown kind %d", i, out.Kind)
		}
	}

	return appendBytes(b, tx.Extra), nil
}

func appendBytes(b, v []byte) []byte {
	b = keys.AppendVarint(b, uint64(len(v)))
	return append(b, v...)
}

func appendScript(b []byte, s ScriptTarget) []byte {
	b = keys.AppendVarint(b, uint64(len(s.Keys)))
	for _, k := range s.Keys {
		b = append(b, k[:]...)
	}
	return appendBytes(b, s.Script)
}

func PrefixHash(tx *Transaction) (keys.Hash, error) {
	b, err := AppendPrefix(nil, tx)
	if err != nil {
		return keys.Hash{}, err
	}
	return keys.Keccak256(b), nil
}

// MinerTxHash computes the id of a coinbase transaction, which carries no
// signatures: version 1 hashes the prefix alone, version 2 combines the
// prefix hash with the hash of a null RingCT base and an empty prunable hash.
func MinerTxHash(tx *Transaction) (keys.Hash, error) {
	prefix, err := PrefixHash(tx)
	if err != nil {
		return keys.Hash{}, err
	}
	if tx.Version < 2 {
		return prefix, nil
	}
	if tx.RingCT.Type != keys.RCTTypeNull {
		return keys.Hash{}, fmt.Errorf("daemon: miner tx has ringct type %d", tx.RingCT.Type)
	}
	base := keys.Keccak256([]byte{keys.RCTTypeNull})
	var prunable keys.Hash
	return keys.Keccak256(prefix[:], base[:], prunable[:]), nil
}

// TreeHash is the CryptoNote merkle root over transaction hashes.
func TreeHash(hashes []keys.Hash) keys.Hash {
	switch len(hashes) {
	case 0:
		return keys.Hash{}
	case 1:
		return hashes[0]
	case 2:
		return keys.Keccak256(hashes[0][:], hashes[1][:])
	}

	cnt := 1
	for cnt*2 < len(hashes) {
		cnt *= 2
	}
	ints := make([]keys.Hash, cnt)
	split := 2*cnt - len(hashes)
	copy(ints, hashes[:split])
	for i, j := split, split; j < cnt; i, j = i+2, j+1 {
		ints[j] = keys.Keccak256(hashes[i][:], hashes[i+1][:])
	}
	for cnt > 2 {
		cnt /= 2
		for i, j := 0, 0; j < cnt; i, j = i+2, j+1 {
			ints[j] = keys.Keccak256(ints[i][:], ints[i+1][:])
		}
	}
	return keys.Keccak256(ints[0][:], ints[1][:])
}

// BlockID hashes the block hashing blob: header, merkle root of the miner tx
// and listed transactions, and the transaction count.
func BlockID(b *Block) (keys.Hash, error) {
	miner, err := MinerTxHash(&b.MinerTx)
	if err != nil {
		return keys.Hash{}, err
	}
	hashes := make([]keys.Hash, 0, len(b.TxHashes)+1)
	hashes = append(hashes, miner)
	hashes = append(hashes, b.TxHashes...)
	root := TreeHash(hashes)

	blob := keys.AppendVarint(nil, b.MajorVersion)
	blob = keys.AppendVarint(blob, b.MinorVersion)
	blob = keys.AppendVarint(blob, b.Timestamp)
	blob = append(blob, b.PrevID[:]...)
	blob = binary.LittleEndian.AppendUint32(blob, b.Nonce)
	blob = append(blob, root[:]...)
	blob = keys.AppendVarint(blob, uint64(len(hashes)))

	return keys.Keccak256(keys.AppendVarint(nil, uint64(len(blob))), blob), nil
}
