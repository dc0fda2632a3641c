package daemon

import (
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/wire"
)

var (
	toKeyInputSchema = wire.NewObject(
		wire.Required("amount", func(v *ToKeyInput) *uint64 { return &v.Amount }, wire.Uint64),
		wire.Required("key_offsets", func(v *ToKeyInput) *[]uint64 { return &v.KeyOffsets }, wire.Array(wire.Uint64)),
		wire.Required("key_image", func(v *ToKeyInput) *keys.KeyImage { return &v.KeyImage }, wire.Blob32[keys.KeyImage]),
	)
	genInputSchema = wire.NewObject(
		wire.Required("height", func(v *GenInput) *uint64 { return &v.Height }, wire.Uint64),
	)
	scriptInputSchema = wire.NewObject(
		wire.Required("prev", func(v *ScriptInput) *keys.Hash { return &v.Prev }, wire.Blob32[keys.Hash]),
		wire.Required("prevout", func(v *ScriptInput) *uint64 { return &v.Prevout }, wire.Uint64),
		wire.Required("sigset", func(v *ScriptInput) *[]byte { return &v.Sigset }, wire.Bytes),
	)
	scriptTargetSchema = wire.NewObject(
		wire.Required("keys", func(v *ScriptTarget) *[]keys.PublicKey { return &v.Keys }, wire.Array(wire.Blob32[keys.PublicKey])),
		wire.Required("script", func(v *ScriptTarget) *[]byte { return &v.Script }, wire.Bytes),
	)
	scriptHashInputSchema = wire.NewObject(
		wire.Required("prev", func(v *ScriptHashInput) *keys.Hash { return &v.Prev }, wire.Blob32[keys.Hash]),
		wire.Required("prevout", func(v *ScriptHashInput) *uint64 { return &v.Prevout }, wire.Uint64),
		wire.Required("script", func(v *ScriptHashInput) *ScriptTarget { return &v.Script }, scriptTargetSchema.Read),
		wire.Required("sigset", func(v *ScriptHashInput) *[]byte { return &v.Sigset }, wire.Bytes),
	)
	inputSchema = wire.NewObject(
		wire.Variant("transaction input variant", true, func(v *Input) *int { return &v.Kind },
			wire.Choice("to_key", toKeyInputSchema.Read, func(in *Input, v ToKeyInput) { in.ToKey = v }),
			wire.Choice("gen", genInputSchema.Read, func(in *Input, v GenInput) { in.Gen = v }),
			wire.Choice("to_script", scriptInputSchema.Read, func(in *Input, v ScriptInput) { in.ToScript = v }),
			wire.Choice("to_scripthash", scriptHashInputSchema.Read, func(in *Input, v ScriptHashInput) { in.ToScriptHash = v }),
		),
	)

	keyTargetSchema = wire.NewObject(
		wire.Required("key", func(v *KeyTarget) *keys.PublicKey { return &v.Key }, wire.Blob32[keys.PublicKey]),
	)
	taggedKeyTargetSchema = wire.NewObject(
		wire.Required("key", func(v *TaggedKeyTarget) *keys.PublicKey { return &v.Key }, wire.Blob32[keys.PublicKey]),
		wire.Required("view_tag", func(v *TaggedKeyTarget) *[]byte { return &v.ViewTag }, viewTag),
	)
	scriptHashTargetSchema = wire.NewObject(
		wire.Required("hash", func(v *ScriptHashTarget) *keys.Hash { return &v.Hash }, wire.Blob32[keys.Hash]),
	)
	outputSchema = wire.NewObject(
		wire.Required("amount", func(v *Output) *uint64 { return &v.Amount }, wire.Uint64),
		wire.Variant("transaction output variant", true, func(v *Output) *int { return &v.Kind },
			wire.Choice("to_key", keyTargetSchema.Read, func(o *Output, v KeyTarget) { o.ToKey = v }),
			wire.Choice("to_tagged_key", taggedKeyTargetSchema.Read, func(o *Output, v TaggedKeyTarget) { o.ToTaggedKey = v }),
			wire.Choice("to_script", scriptTargetSchema.Read, func(o *Output, v ScriptTarget) { o.ToScript = v }),
			wire.Choice("to_scripthash", scriptHashTargetSchema.Read, func(o *Output, v ScriptHashTarget) { o.ToScriptHash = v }),
		),
	)

	ecdhSchema = wire.NewObject(
		wire.Required("mask", func(v *ECDHTuple) *[32]byte { return &v.Mask }, wire.Blob32[[32]byte]),
		wire.Required("amount", func(v *ECDHTuple) *[32]byte { return &v.Amount }, wire.Blob32[[32]byte]),
	)

	transactionSchema = wire.NewObject(
		wire.Required("version", func(v *Transaction) *uint64 { return &v.Version }, wire.Uint64),
		wire.Required("unlock_time", func(v *Transaction) *uint64 { return &v.UnlockTime }, wire.Uint64),
		wire.Required("inputs", func(v *Transaction) *[]Input { return &v.Inputs }, wire.Array(inputSchema.Read)),
		wire.Required("outputs", func(v *Transaction) *[]Output { return &v.Outputs }, wire.Array(outputSchema.Read)),
		wire.Required("extra", func(v *Transaction) *[]byte { return &v.Extra }, wire.Bytes),
		wire.Required("ringct", func(v *Transaction) *RingCT { return &v.RingCT }, readRingCT),
	)

	blockSchema = wire.NewObject(
		wire.Required("major_version", func(v *Block) *uint64 { return &v.MajorVersion }, wire.Uint64),
		wire.Required("minor_version", func(v *Block) *uint64 { return &v.MinorVersion }, wire.Uint64),
		wire.Required("timestamp", func(v *Block) *uint64 { return &v.Timestamp }, wire.Uint64),
		wire.Required("miner_tx", func(v *Block) *Transaction { return &v.MinerTx }, transactionSchema.Read),
		wire.Required("tx_hashes", func(v *Block) *[]keys.Hash { return &v.TxHashes }, wire.Array(wire.Blob32[keys.Hash])),
		wire.Required("prev_id", func(v *Block) *keys.Hash { return &v.PrevID }, wire.Blob32[keys.Hash]),
		wire.Required("nonce", func(v *Block) *uint32 { return &v.Nonce }, wire.Unsigned[uint32]),
	)
	blockWithTxsSchema = wire.NewObject(
		wire.Required("block", func(v *BlockWithTransactions) *Block { return &v.Block }, blockSchema.Read),
		wire.Required("transactions", func(v *BlockWithTransactions) *[]Transaction { return &v.Transactions }, wire.Array(transactionSchema.Read)),
	)

	blocksResponseSchema = wire.NewObject(
		wire.Required("blocks", func(v *BlocksResponse) *[]BlockWithTransactions { return &v.Blocks }, wire.Array(blockWithTxsSchema.Read)),
		wire.Required("output_indices", func(v *BlocksResponse) *[][][]uint64 { return &v.OutputIndices }, wire.Array(wire.Array(wire.Array(wire.Uint64)))),
		wire.Required("start_height", func(v *BlocksResponse) *uint64 { return &v.StartHeight }, wire.Uint64),
		wire.Required("current_height", func(v *BlocksResponse) *uint64 { return &v.CurrentHeight }, wire.Uint64),
	)
)

type ringCTFields struct {
	Type        uint16
	Encrypted   *[]ECDHTuple
	Commitments *[]keys.PublicKey
	Fee         *uint64
}

var ringCTSchema = wire.NewObject(
	wire.Required("type", func(v *ringCTFields) *uint16 { return &v.Type }, wire.Unsigned[uint16]),
	wire.Optional("encrypted", func(v *ringCTFields) **[]ECDHTuple { return &v.Encrypted }, wire.Array(ecdhSchema.Read)),
	wire.Optional("commitments", func(v *ringCTFields) **[]keys.PublicKey { return &v.Commitments }, wire.Array(wire.Blob32[keys.PublicKey])),
	wire.Optional("fee", func(v *ringCTFields) **uint64 { return &v.Fee }, wire.Uint64),
)

// readRingCT requires all of encrypted, commitments and fee for a non-null
// type and none of them for the null type.
func readRingCT(r wire.Reader, dst *RingCT) error {
	var f ringCTFields
	if err := ringCTSchema.Read(r, &f); err != nil {
		return err
	}
	if f.Type != keys.RCTTypeNull {
		if f.Encrypted == nil || f.Commitments == nil || f.Fee == nil {
			return &wire.Error{Kind: wire.ErrMissingKey, Keys: []string{"encrypted", "commitments", "fee"}}
		}
		*dst = RingCT{Type: f.Type, Encrypted: *f.Encrypted, Commitments: *f.Commitments, Fee: *f.Fee}
		return nil
	}
	if f.Encrypted != nil || f.Commitments != nil || f.Fee != nil {
		return &wire.Error{Kind: wire.ErrInvalidKey, Keys: []string{"encrypted", "commitments", "fee"}, Detail: "not valid for a null ringct type"}
	}
	*dst = RingCT{}
	return nil
}

func viewTag(r wire.Reader, dst *[]byte) error {
	var b [1]byte
	if err := r.BinaryInto(b[:]); err != nil {
		return err
	}
	*dst = b[:]
	return nil
}

// DecodeBlocks parses a get_blocks_fast result. Unknown keys are skipped.
func DecodeBlocks(data []byte) (*BlocksResponse, error) {
	resp, err := wire.FromJSON(data, blocksResponseSchema.Read, wire.Options{SkipUnknown: true})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
