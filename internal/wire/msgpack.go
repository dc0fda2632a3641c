package wire

import (
	"bytes"
	"errors"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v4"
)

// MsgpackReader reads MessagePack. Binary values use the bin family.
type MsgpackReader struct {
	depth
	opts Options
	src  *bytes.Reader
	dec  *msgpack.Decoder
}

func NewMsgpackReader(data []byte, opts Options) *MsgpackReader {
	src := bytes.NewReader(data)
	return &MsgpackReader{
		depth: newDepth(opts),
		opts:  opts,
		src:   src,
		dec:   msgpack.NewDecoder(src),
	}
}

func (r *MsgpackReader) Reset(data []byte) {
	r.src.Reset(data)
	r.dec.Reset(r.src)
}

const (
	mpNil    = "nil"
	mpBool   = "bool"
	mpUint   = "uint"
	mpInt    = "int"
	mpFloat  = "float"
	mpString = "string"
	mpBinary = "binary"
	mpArray  = "array"
	mpMap    = "object"
	mpExt    = "ext"
)

func classify(c byte) string {
	switch {
	case c <= 0x7f:
		return mpUint
	case c >= 0xe0:
		return mpInt
	case c <= 0x8f:
		return mpMap
	case c <= 0x9f:
		return mpArray
	case c <= 0xbf:
		return mpString
	}
	switch c {
	case 0xc0:
		return mpNil
	case 0xc2, 0xc3:
		return mpBool
	case 0xc4, 0xc5, 0xc6:
		return mpBinary
	case 0xca, 0xcb:
		return mpFloat
	case 0xcc, 0xcd, 0xce, 0xcf:
		return mpUint
	case 0xd0, 0xd1, 0xd2, 0xd3:
		return mpInt
	case 0xd9, 0xda, 0xdb:
		return mpString
	case 0xdc, 0xdd:
		return mpArray
	case 0xde, 0xdf:
		return mpMap
	default:
		return mpExt
	}
}

func (r *MsgpackReader) peek() (string, error) {
	c, err := r.dec.PeekCode()
	if err != nil {
		return "", malformed(err)
	}
	return classify(byte(c)), nil
}

func (r *MsgpackReader) expect(name string, kinds ...string) (string, error) {
	got, err := r.peek()
	if err != nil {
		return "", err
	}
	for _, k := range kinds {
		if got == k {
			return got, nil
		}
	}
	return "", mismatch(name, got)
}

func malformed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return detailError(ErrMalformedBinary, "unexpected end of input")
	}
	return detailError(ErrMalformedBinary, "%v", err)
}

func (r *MsgpackReader) Boolean() (bool, error) {
	if _, err := r.expect("bool", mpBool); err != nil {
		return false, err
	}
	v, err := r.dec.DecodeBool()
	if err != nil {
		return false, malformed(err)
	}
	return v, nil
}

func (r *MsgpackReader) Integer() (int64, error) {
	kind, err := r.expect("integer", mpUint, mpInt)
	if err != nil {
		return 0, err
	}
	if kind == mpUint {
		v, err := r.dec.DecodeUint64()
		if err != nil {
			return 0, malformed(err)
		}
		if v > math.MaxInt64 {
			return 0, detailError(ErrIntegerRange, "%d does not fit int64", v)
		}
		return int64(v), nil
	}
	v, err := r.dec.DecodeInt64()
	if err != nil {
		return 0, malformed(err)
	}
	return v, nil
}

func (r *MsgpackReader) UnsignedInteger() (uint64, error) {
	kind, err := r.expect("integer", mpUint, mpInt)
	if err != nil {
		return 0, err
	}
	if kind == mpUint {
		v, err := r.dec.DecodeUint64()
		if err != nil {
			return 0, malformed(err)
		}
		return v, nil
	}
	v, err := r.dec.DecodeInt64()
	if err != nil {
		return 0, malformed(err)
	}
	if v < 0 {
		return 0, detailError(ErrIntegerRange, "%d is negative", v)
	}
	return uint64(v), nil
}

func (r *MsgpackReader) Real() (float64, error) {
	if _, err := r.expect("real", mpFloat, mpUint, mpInt); err != nil {
		return 0, err
	}
	v, err := r.dec.DecodeFloat64()
	if err != nil {
		return 0, malformed(err)
	}
	return v, nil
}

func (r *MsgpackReader) String() (string, error) {
	if _, err := r.expect("string", mpString); err != nil {
		return "", err
	}
	v, err := r.dec.DecodeString()
	if err != nil {
		return "", malformed(err)
	}
	return v, nil
}

func (r *MsgpackReader) Binary() ([]byte, error) {
	if _, err := r.expect("binary", mpBinary); err != nil {
		return nil, err
	}
	v, err := r.dec.DecodeBytes()
	if err != nil {
		return nil, malformed(err)
	}
	return v, nil
}

func (r *MsgpackReader) BinaryInto(dst []byte) error {
	b, err := r.Binary()
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return detailError(ErrMalformedBinary, "expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

func (r *MsgpackReader) Enumeration(names []string) (int, error) {
	s, err := r.String()
	if err != nil {
		return 0, err
	}
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, detailError(ErrInvalidEnum, "%q", s)
}

func (r *MsgpackReader) StartArray() (int, error) {
	if _, err := r.expect("array", mpArray); err != nil {
		return 0, err
	}
	n, err := r.dec.DecodeArrayLen()
	if err != nil {
		return 0, malformed(err)
	}
	if err := r.increment(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *MsgpackReader) IsArrayEnd(count int) (bool, error) { return count == 0, nil }

func (r *MsgpackReader) EndArray() { r.decrement() }

func (r *MsgpackReader) StartObject() (int, error) {
	if _, err := r.expect("object", mpMap); err != nil {
		return 0, err
	}
	n, err := r.dec.DecodeMapLen()
	if err != nil {
		return 0, malformed(err)
	}
	if err := r.increment(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *MsgpackReader) Key(keys *KeyMap, state *int) (int, bool, error) {
	for *state > 0 {
		*state--
		name, err := r.String()
		if err != nil {
			return 0, false, err
		}
		if row, ok := keys.Lookup(name); ok {
			return row, true, nil
		}
		if !r.opts.SkipUnknown {
			return 0, false, keyError(ErrInvalidKey, name)
		}
		if err := r.skip(); err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// skip discards one value. Nested containers count against the depth limit.
func (r *MsgpackReader) skip() error {
	kind, err := r.peek()
	if err != nil {
		return err
	}
	var n int
	switch kind {
	case mpArray:
		if n, err = r.dec.DecodeArrayLen(); err != nil {
			return malformed(err)
		}
	case mpMap:
		if n, err = r.dec.DecodeMapLen(); err != nil {
			return malformed(err)
		}
		n *= 2
	default:
		if err := r.dec.Skip(); err != nil {
			return malformed(err)
		}
		return nil
	}
	if err := r.increment(); err != nil {
		return err
	}
	defer r.decrement()
	for ; n > 0; n-- {
		if err := r.skip(); err != nil {
			return err
		}
	}
	return nil
}

func (r *MsgpackReader) EndObject() { r.decrement() }

func (r *MsgpackReader) CheckComplete() error {
	if r.src.Len() > 0 {
		return detailError(ErrMalformedBinary, "%d trailing bytes", r.src.Len())
	}
	return nil
}
