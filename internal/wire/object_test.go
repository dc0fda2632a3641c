package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type point struct {
	X     uint32
	Y     uint32
	Label *string
	Tags  []string
}

var pointSchema = NewObject(
	Required("x", func(p *point) *uint32 { return &p.X }, Unsigned[uint32]),
	Required("y", func(p *point) *uint32 { return &p.Y }, Unsigned[uint32]),
	Optional("label", func(p *point) **string { return &p.Label }, String),
	Default("tags", func(p *point) *[]string { return &p.Tags }, Array(String)),
)

func TestObject_RequiredAndOptional(t *testing.T) {
	p, err := FromJSON([]byte(`{"y":2,"x":1,"label":"a","tags":["t1","t2"]}`), pointSchema.Read, Options{})
	require.NoError(t, err)
	require.Equal(t, uint32(1), p.X)
	require.Equal(t, uint32(2), p.Y)
	require.NotNil(t, p.Label)
	require.Equal(t, "a", *p.Label)
	require.Equal(t, []string{"t1", "t2"}, p.Tags)

	p, err = FromJSON([]byte(`{"x":1,"y":2}`), pointSchema.Read, Options{})
	require.NoError(t, err)
	require.Nil(t, p.Label)
	require.Nil(t, p.Tags)
}

func TestObject_MissingKeyNamesEveryField(t *testing.T) {
	_, err := FromJSON([]byte(`{"label":"a"}`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMissingKey)

	var we *Error
	require.True(t, errors.As(err, &we))
	require.Equal(t, []string{"x", "y"}, we.Keys)
}

func TestObject_DuplicateKey(t *testing.T) {
	_, err := FromJSON([]byte(`{"x":1,"x":2,"y":3}`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.Contains(t, err.Error(), "x")
}

func TestObject_UnknownKeyStrictAndLenient(t *testing.T) {
	in := []byte(`{"x":1,"extra":{"deep":[1,2,{"a":null}]},"y":2}`)

	_, err := FromJSON(in, pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrInvalidKey)

	p, err := FromJSON(in, pointSchema.Read, Options{SkipUnknown: true})
	require.NoError(t, err)
	require.Equal(t, point{X: 1, Y: 2}, p)
}

func TestObject_SchemaMismatchNamesKinds(t *testing.T) {
	_, err := FromJSON([]byte(`{"x":"one","y":2}`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	var we *Error
	require.True(t, errors.As(err, &we))
	require.Equal(t, "integer", we.Expected)
	require.Equal(t, "string", we.Actual)
}

func TestObject_IntegerNarrowing(t *testing.T) {
	_, err := FromJSON([]byte(`{"x":4294967296,"y":2}`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrIntegerRange)

	_, err = FromJSON([]byte(`{"x":-1,"y":2}`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrIntegerRange)
}

func TestObject_TrailingInput(t *testing.T) {
	_, err := FromJSON([]byte(`{"x":1,"y":2} {}`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrSyntax)
}

func TestObject_Truncated(t *testing.T) {
	_, err := FromJSON([]byte(`{"x":1,"y":2`), pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrSyntax)
}

func TestNewObject_PanicsOnDuplicateDeclaration(t *testing.T) {
	require.Panics(t, func() {
		NewObject(
			Required("x", func(p *point) *uint32 { return &p.X }, Unsigned[uint32]),
			Required("x", func(p *point) *uint32 { return &p.Y }, Unsigned[uint32]),
		)
	})
}

type nested struct {
	Child *nested
}

var nestedSchema *Object[nested]

func init() {
	nestedSchema = NewObject(
		Optional("child", func(n *nested) **nested { return &n.Child }, func(r Reader, dst *nested) error {
			return nestedSchema.Read(r, dst)
		}),
	)
}

func nestedJSON(levels int) []byte {
	return []byte(strings.Repeat(`{"child":`, levels-1) + `{}` + strings.Repeat(`}`, levels-1))
}

func TestObject_MaxDepthUnwinds(t *testing.T) {
	r := NewJSONReader(nestedJSON(MaxReadDepth+1), Options{})
	_, err := Decode(r, nestedSchema.Read)
	require.ErrorIs(t, err, ErrMaxDepth)
	require.Equal(t, 0, r.Depth())

	r.Reset(nestedJSON(MaxReadDepth))
	v, err := Decode(r, nestedSchema.Read)
	require.NoError(t, err)
	require.NotNil(t, v.Child)
	require.Equal(t, 0, r.Depth())
}

func TestObject_FailureUnwindsDepth(t *testing.T) {
	r := NewJSONReader([]byte(`{"child":{"child":{"child":"bad"}}}`), Options{})
	_, err := Decode(r, nestedSchema.Read)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.Equal(t, 0, r.Depth())
}

type target struct {
	Kind         int
	ToKey        toKey
	ToScript     toScript
	ToScriptHash toScriptHash
}

type toKey struct {
	Key [32]byte
}

type toScript struct {
	Keys   [][32]byte
	Script []byte
}

type toScriptHash struct {
	Hash [32]byte
}

var (
	toKeySchema = NewObject(
		Required("key", func(v *toKey) *[32]byte { return &v.Key }, Blob32[[32]byte]),
	)
	toScriptSchema = NewObject(
		Required("keys", func(v *toScript) *[][32]byte { return &v.Keys }, Array(Blob32[[32]byte])),
		Required("script", func(v *toScript) *[]byte { return &v.Script }, Bytes),
	)
	toScriptHashSchema = NewObject(
		Required("hash", func(v *toScriptHash) *[32]byte { return &v.Hash }, Blob32[[32]byte]),
	)

	taggedSchema = NewObject(
		Tagged("type", func(t *target) *int { return &t.Kind },
			When("to_key", toKeySchema, func(t *target) *toKey { return &t.ToKey }),
			When("to_script", toScriptSchema, func(t *target) *toScript { return &t.ToScript }),
			When("to_scripthash", toScriptHashSchema, func(t *target) *toScriptHash { return &t.ToScriptHash }),
		),
	)

	keyedSchema = NewObject(
		Variant("target", true, func(t *target) *int { return &t.Kind },
			Choice("to_key", toKeySchema.Read, func(t *target, v toKey) { t.ToKey = v }),
			Choice("to_script", toScriptSchema.Read, func(t *target, v toScript) { t.ToScript = v }),
			Choice("to_scripthash", toScriptHashSchema.Read, func(t *target, v toScriptHash) { t.ToScriptHash = v }),
		),
	)
)

const key32 = "0101010101010101010101010101010101010101010101010101010101010101"

func TestTagged_SelectsAlternativeAndReadsItsFields(t *testing.T) {
	v, err := FromJSON([]byte(`{"type":"to_key","key":"`+key32+`"}`), taggedSchema.Read, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, v.Kind)
	require.Equal(t, byte(1), v.ToKey.Key[31])

	v, err = FromJSON([]byte(`{"script":"abcd","keys":[],"type":"to_script"}`), taggedSchema.Read, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, v.Kind)
	require.Equal(t, []byte{0xab, 0xcd}, v.ToScript.Script)
}

func TestTagged_Errors(t *testing.T) {
	_, err := FromJSON([]byte(`{"type":"to_key"}`), taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMissingKey)
	require.Contains(t, err.Error(), "key")

	_, err = FromJSON([]byte(`{"type":"to_key","key":"`+key32+`","hash":"`+key32+`"}`), taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = FromJSON([]byte(`{"type":"to_nowhere"}`), taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrInvalidEnum)

	_, err = FromJSON([]byte(`{"key":"`+key32+`"}`), taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMissingKey)
	require.Contains(t, err.Error(), "type")
}

func TestVariant_KeyedAlternatives(t *testing.T) {
	v, err := FromJSON([]byte(`{"to_scripthash":{"hash":"`+key32+`"}}`), keyedSchema.Read, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, v.Kind)
	require.Equal(t, byte(1), v.ToScriptHash.Hash[0])

	_, err = FromJSON([]byte(`{"to_key":{"key":"`+key32+`"},"to_scripthash":{"hash":"`+key32+`"}}`), keyedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.Contains(t, err.Error(), "target")

	_, err = FromJSON([]byte(`{}`), keyedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMissingKey)
	require.Contains(t, err.Error(), "target")
}

func TestBlob_MalformedBinary(t *testing.T) {
	_, err := FromJSON([]byte(`{"type":"to_key","key":"zz"}`), taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMalformedBinary)

	_, err = FromJSON([]byte(`{"type":"to_key","key":"0102"}`), taggedSchema.Read, Options{})
	require.ErrorIs(t, err, ErrMalformedBinary)
}

func TestEnum(t *testing.T) {
	type color uint8
	read := Enum[color]("red", "green", "blue")

	c, err := FromJSON([]byte(`"blue"`), read, Options{})
	require.NoError(t, err)
	require.Equal(t, color(2), c)

	_, err = FromJSON([]byte(`"mauve"`), read, Options{})
	require.ErrorIs(t, err, ErrInvalidEnum)
}

func TestIsDecodeError(t *testing.T) {
	_, err := FromJSON([]byte(`[`), Array(Uint64), Options{})
	require.Error(t, err)
	require.True(t, IsDecodeError(err))
	require.False(t, IsDecodeError(errors.New("boom")))
}

func TestObject_SkippedValueCountsDepth(t *testing.T) {
	deep := strings.Repeat("[", 500) + strings.Repeat("]", 500)
	r := NewJSONReader([]byte(`{"x":1,"extra":`+deep+`,"y":2}`), Options{SkipUnknown: true, MaxDepth: 10})
	_, err := Decode(r, pointSchema.Read)
	require.ErrorIs(t, err, ErrMaxDepth)
	require.Equal(t, 0, r.Depth())

	shallow := strings.Repeat(`{"a":[`, 4) + strings.Repeat(`]}`, 4)
	r = NewJSONReader([]byte(`{"x":1,"extra":`+shallow+`,"y":2}`), Options{SkipUnknown: true, MaxDepth: 10})
	p, err := Decode(r, pointSchema.Read)
	require.NoError(t, err)
	require.Equal(t, point{X: 1, Y: 2}, p)
	require.Equal(t, 0, r.Depth())
}

func TestObject_EmptyKey(t *testing.T) {
	in := []byte(`{"":1,"x":1,"y":2}`)

	_, err := FromJSON(in, pointSchema.Read, Options{})
	require.ErrorIs(t, err, ErrInvalidKey)

	p, err := FromJSON(in, pointSchema.Read, Options{SkipUnknown: true})
	require.NoError(t, err)
	require.Equal(t, point{X: 1, Y: 2}, p)

	p, err = FromJSON([]byte(`{"x":1,"extra":{"":{"":[]}},"y":2}`), pointSchema.Read, Options{SkipUnknown: true})
	require.NoError(t, err)
	require.Equal(t, point{X: 1, Y: 2}, p)
}
