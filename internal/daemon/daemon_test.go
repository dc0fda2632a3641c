package daemon

import (
	"context"
	"strings"
	"testing"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/wire"
	"github.com/stretchr/testify/require"
)

var (
	hexA = strings.Repeat("aa", 32)
	hexB = strings.Repeat("bb", 32)
	hexC = strings.Repeat("cc", 32)
)

const minerTxJSON = `{"version":2,"unlock_time":70,"inputs":[{"gen":{"height":10}}],` +
	`"outputs":[{"amount":600000,"to_tagged_key":{"key":"` + "HEXA" + `","view_tag":"5e"}}],` +
	`"extra":"01` + "HEXB" + `","ringct":{"type":0}}`

func blocksJSON(ringct string) string {
	tx := `{"version":2,"unlock_time":0,` +
		`"inputs":[{"to_key":{"amount":0,"key_offsets":[100,5,2],"key_image":"` + hexC + `"}}],` +
		`"outputs":[{"amount":0,"to_key":{"key":"` + hexA + `"}},{"amount":0,"to_tagged_key":{"key":"` + hexB + `","view_tag":"01"}}],` +
		`"extra":"","ringct":` + ringct + `,"signatures":["ignored"]}`
	miner := strings.NewReplacer("HEXA", hexA, "HEXB", hexB).Replace(minerTxJSON)
	return `{"blocks":[{"block":{"major_version":16,"minor_version":16,"timestamp":1700000000,` +
		`"miner_tx":` + miner + `,"tx_hashes":["` + hexC + `"],"prev_id":"` + hexA + `","nonce":7},` +
		`"transactions":[` + tx + `]}],` +
		`"output_indices":[[[40],[41,42]]],"start_height":10,"current_height":11,"status":"OK"}`
}

const ringctFull = `{"type":6,"encrypted":[{"mask":"` + "00" + `","amount":"00"}],"commitments":[],"fee":30000}`

func validRingCT() string {
	z := strings.Repeat("00", 32)
	return `{"type":6,"encrypted":[{"mask":"` + z + `","amount":"` + z + `"},{"mask":"` + z + `","amount":"` + z + `"}],` +
		`"commitments":["` + hexA + `","` + hexB + `"],"fee":30000}`
}

func TestDecodeBlocks(t *testing.T) {
	resp, err := DecodeBlocks([]byte(blocksJSON(validRingCT())))
	require.NoError(t, err)
	require.NoError(t, resp.Check())

	require.Equal(t, uint64(10), resp.StartHeight)
	require.Equal(t, uint64(11), resp.CurrentHeight)
	require.Len(t, resp.Blocks, 1)

	b := resp.Blocks[0]
	require.Equal(t, uint64(16), b.Block.MajorVersion)
	require.Equal(t, uint32(7), b.Block.Nonce)
	require.True(t, b.Block.MinerTx.Coinbase())
	require.Equal(t, uint64(10), b.Block.MinerTx.Inputs[0].Gen.Height)

	tag, ok := b.Block.MinerTx.Outputs[0].ViewTag()
	require.True(t, ok)
	require.Equal(t, byte(0x5e), tag)

	tx := b.Transactions[0]
	require.False(t, tx.Coinbase())
	require.Equal(t, InputToKey, tx.Inputs[0].Kind)
	require.Equal(t, []uint64{100, 105, 107}, tx.Inputs[0].ToKey.AbsoluteOffsets())
	require.Equal(t, TargetToKey, tx.Outputs[0].Kind)
	require.Equal(t, TargetToTaggedKey, tx.Outputs[1].Kind)
	_, ok = tx.Outputs[0].ViewTag()
	require.False(t, ok)
	require.Equal(t, uint16(keys.RCTTypeBulletproofPlus), tx.RingCT.Type)
	require.Len(t, tx.RingCT.Encrypted, 2)
	require.Equal(t, uint64(30000), tx.RingCT.Fee)
	require.Equal(t, [][][]uint64{{{40}, {41, 42}}}, resp.OutputIndices)
}

func TestDecodeBlocks_RingCTNullRule(t *testing.T) {
	_, err := DecodeBlocks([]byte(blocksJSON(`{"type":6,"fee":1}`)))
	require.ErrorIs(t, err, wire.ErrMissingKey)

	_, err = DecodeBlocks([]byte(blocksJSON(`{"type":0,"fee":1}`)))
	require.ErrorIs(t, err, wire.ErrInvalidKey)

	_, err = DecodeBlocks([]byte(blocksJSON(ringctFull)))
	require.ErrorIs(t, err, wire.ErrMalformedBinary)
}

func TestDecodeBlocks_MissingField(t *testing.T) {
	_, err := DecodeBlocks([]byte(`{"blocks":[],"output_indices":[],"start_height":1}`))
	require.ErrorIs(t, err, wire.ErrMissingKey)
	require.Contains(t, err.Error(), "current_height")
}

func TestDecodeBlocks_TwoVariantKeys(t *testing.T) {
	in := strings.Replace(blocksJSON(validRingCT()), `{"gen":{"height":10}}`, `{"gen":{"height":10},"to_key":{"amount":0,"key_offsets":[],"key_image":"`+hexC+`"}}`, 1)
	_, err := DecodeBlocks([]byte(in))
	require.ErrorIs(t, err, wire.ErrDuplicateKey)
}

func TestCheck_Mismatch(t *testing.T) {
	resp, err := DecodeBlocks([]byte(blocksJSON(validRingCT())))
	require.NoError(t, err)
	resp.OutputIndices[0][1] = []uint64{41}
	require.Error(t, resp.Check())
	resp.OutputIndices = nil
	require.Error(t, resp.Check())
}

func TestEnvelope(t *testing.T) {
	env, err := wire.FromJSON([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-1,"message":"busy"}}`), blocksEnvelopeSchema.Read, wire.Options{SkipUnknown: true})
	require.NoError(t, err)
	require.Nil(t, env.Result)
	require.Equal(t, &RPCError{Code: -1, Message: "busy"}, env.Error)

	env, err = wire.FromJSON([]byte(`{"jsonrpc":"2.0","id":3,"result":`+blocksJSON(validRingCT())+`}`), blocksEnvelopeSchema.Read, wire.Options{SkipUnknown: true})
	require.NoError(t, err)
	require.NotNil(t, env.Result)
	require.Len(t, env.Result.Blocks, 1)
}

func TestParseExtra(t *testing.T) {
	var pub keys.PublicKey
	pub[0] = 9
	var add1, add2 keys.PublicKey
	add1[0], add2[0] = 1, 2

	b := append([]byte{extraPubKey}, pub[:]...)
	b = append(b, extraNonce, 9, nonceEncryptedPaymentID, 1, 2, 3, 4, 5, 6, 7, 8)
	b = append(b, extraAdditional, 2)
	b = append(b, add1[:]...)
	b = append(b, add2[:]...)
	b = append(b, extraPadding, 0, 0)

	ex, err := ParseExtra(b)
	require.NoError(t, err)
	require.True(t, ex.HasTxPub)
	require.Equal(t, pub, ex.TxPub)
	require.Equal(t, []keys.PublicKey{add1, add2}, ex.AdditionalPubs)
	require.NotNil(t, ex.EncryptedPaymentID)
	require.Equal(t, keys.Hash8{1, 2, 3, 4, 5, 6, 7, 8}, *ex.EncryptedPaymentID)
	require.Nil(t, ex.PaymentID)
}

func TestParseExtra_LongPaymentIDAndPartial(t *testing.T) {
	nonce := append([]byte{nonceLongPaymentID}, make([]byte, 32)...)
	nonce[1] = 0x77
	b := append([]byte{extraNonce, byte(len(nonce))}, nonce...)
	b = append(b, extraPubKey, 1, 2)

	ex, err := ParseExtra(b)
	require.ErrorIs(t, err, ErrExtraMalformed)
	require.NotNil(t, ex.PaymentID)
	require.Equal(t, byte(0x77), ex.PaymentID[0])
	require.False(t, ex.HasTxPub)
}

func TestTreeHash(t *testing.T) {
	h := func(b byte) keys.Hash { return keys.Keccak256([]byte{b}) }
	a, b, c, d := h(1), h(2), h(3), h(4)

	require.Equal(t, a, TreeHash([]keys.Hash{a}))
	require.Equal(t, keys.Keccak256(a[:], b[:]), TreeHash([]keys.Hash{a, b}))

	bc := keys.Keccak256(b[:], c[:])
	require.Equal(t, keys.Keccak256(a[:], bc[:]), TreeHash([]keys.Hash{a, b, c}))

	ab := keys.Keccak256(a[:], b[:])
	cd := keys.Keccak256(c[:], d[:])
	require.Equal(t, keys.Keccak256(ab[:], cd[:]), TreeHash([]keys.Hash{a, b, c, d}))
}

func TestBlockID_ChangesWithContent(t *testing.T) {
	resp, err := DecodeBlocks([]byte(blocksJSON(validRingCT())))
	require.NoError(t, err)
	blk := resp.Blocks[0].Block

	id1, err := BlockID(&blk)
	require.NoError(t, err)
	id2, err := BlockID(&blk)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	blk.Nonce++
	id3, err := BlockID(&blk)
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)

	blk.MinerTx.Outputs[0].ToTaggedKey.ViewTag = nil
	_, err = BlockID(&blk)
	require.Error(t, err)
}

func TestMinerTxHash_Version(t *testing.T) {
	tx := Transaction{Version: 1, Inputs: []Input{{Kind: InputGen, Gen: GenInput{Height: 1}}}}
	prefix, err := PrefixHash(&tx)
	require.NoError(t, err)
	got, err := MinerTxHash(&tx)
	require.NoError(t, err)
	require.Equal(t, prefix, got)

	tx.Version = 2
	got, err = MinerTxHash(&tx)
	require.NoError(t, err)
	prefix, err = PrefixHash(&tx)
	require.NoError(t, err)
	base := keys.Keccak256([]byte{0})
	require.Equal(t, keys.Keccak256(prefix[:], base[:], make([]byte, 32)), got)
}

func TestFake(t *testing.T) {
	f := NewFake()
	for i := 0; i < 5; i++ {
		f.Append(BlockWithTransactions{Block: Block{Nonce: uint32(i)}}, [][]uint64{{}})
	}
	resp, err := f.FetchBlocks(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, resp.Blocks, 2)
	require.Equal(t, uint32(1), resp.Blocks[0].Block.Nonce)
	require.Equal(t, uint64(5), resp.CurrentHeight)

	f.Truncate(3)
	resp, err = f.FetchBlocks(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, resp.Blocks, 1)
	require.Equal(t, 2, f.Calls())
}
