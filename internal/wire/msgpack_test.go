package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v4"
)

func mustMsgpack(t *testing.T, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestMsgpack_Object(t *testing.T) {
	in := mustMsgpack(t, map[string]any{"x": 7, "y": 9, "tags": []string{"a"}})
	p, err := FromMsgpack(in, pointSchema.Read, Options{})
	require.NoError(t, err)
	require.Equal(t, uint32(7), p.X)
	require.Equal(t, uint32(9), p.Y)
	require.Equal(t, []string{"a"}, p.Tags)
}

func TestMsgpack_UnknownKey(t *testing.T) {
	in := mustMsgpack(t, map[string]any{"x": 7, "y": 9, "z": map[string]any{"q": []int{1, 2}}})

	_, err := FromMsgpack(in, pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrInvalidKey)

	p, err := FromMsgpack(in, pointSchema.Read, Options{SkipUnknown: true})
	require.NoError(t, err)
	require.Equal(t, uint32(9), p.Y)
}

func TestMsgpack_Blob(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	in := mustMsgpack(t, map[string]any{"type": "to_key", "key": key})
	v, err := FromMsgpack(in, taggedSchema.Read, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, v.Kind)
	require.Equal(t, key, v.ToKey.Key[:])

	in = mustMsgpack(t, map[string]any{"type": "to_key", "key": "not-binary"})
	_, err = FromMsgpack(in, taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestMsgpack_Ranges(t *testing.T) {
	_, err := FromMsgpack(mustMsgpack(t, uint64(1)<<40), Unsigned[uint32], Options{})
	require.ErrorIs(t, err, ErrIntegerRange)

	_, err = FromMsgpack(mustMsgpack(t, int64(-3)), Uint64, Options{})
	require.ErrorIs(t, err, ErrIntegerRange)

	v, err := FromMsgpack(mustMsgpack(t, int64(-3)), Int64, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(-3), v)
}

func TestMsgpack_TrailingAndTruncated(t *testing.T) {
	in := append(mustMsgpack(t, uint64(5)), 0x01)
	_, err := FromMsgpack(in, Uint64, Options{})
	require.ErrorIs(t, err, ErrMalformedBinary)

	full := mustMsgpack(t, map[string]any{"x": 7, "y": 9})
	_, err = FromMsgpack(full[:len(full)-1], pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMalformedBinary)
}

func TestMsgpack_ArrayCount(t *testing.T) {
	v, err := FromMsgpack(mustMsgpack(t, []uint64{3, 1, 2}), Array(Uint64), Options{})
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 1, 2}, v)

	v, err = FromMsgpack(mustMsgpack(t, []uint64{}), Array(Uint64), Options{})
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestMsgpack_DepthUnwinds(t *testing.T) {
	var v any = map[string]any{}
	for i := 0; i < MaxReadDepth; i++ {
		v = map[string]any{"child": v}
	}
	r := NewMsgpackReader(mustMsgpack(t, v), Options{})
	_, err := Decode(r, nestedSchema.Read)
	require.ErrorIs(t, err, ErrMaxDepth)
	require.Equal(t, 0, r.Depth())

	r.Reset(mustMsgpack(t, map[string]any{"child": map[string]any{}}))
	_, err = Decode(r, nestedSchema.Read)
	require.NoError(t, err)
}

func TestMsgpack_SkippedValueCountsDepth(t *testing.T) {
	var deep any = []any{}
	for i := 0; i < 500; i++ {
		deep = []any{deep}
	}
	in := mustMsgpack(t, map[string]any{"x": 1, "y": 2, "z": deep})
	r := NewMsgpackReader(in, Options{SkipUnknown: true, MaxDepth: 10})
	_, err := Decode(r, pointSchema.Read)
	require.ErrorIs(t, err, ErrMaxDepth)
	require.Equal(t, 0, r.Depth())

	in = mustMsgpack(t, map[string]any{"x": 1, "y": 2, "z": map[string]any{"a": []any{[]any{1}, "s"}}})
	r = NewMsgpackReader(in, Options{SkipUnknown: true, MaxDepth: 10})
	p, err := Decode(r, pointSchema.Read)
	require.NoError(t, err)
	require.Equal(t, uint32(2), p.Y)
	require.Equal(t, 0, r.Depth())
}
