package wire

import (
	"encoding/hex"
	"errors"
	"io"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// JSONReader reads JSON text. Binary values are hex strings.
type JSONReader struct {
	depth
	opts Options
	iter *jsoniter.Iterator
}

func NewJSONReader(data []byte, opts Options) *JSONReader {
	r := &JSONReader{depth: newDepth(opts), opts: opts}
	r.iter = jsoniter.ParseBytes(jsoniter.ConfigDefault, data)
	return r
}

// Reset points the reader at new input. The depth counter is left alone; a
// well-formed session always returns it to zero.
func (r *JSONReader) Reset(data []byte) {
	r.iter = jsoniter.ParseBytes(jsoniter.ConfigDefault, data)
}

func (r *JSONReader) failed() error {
	if r.iter.Error == nil {
		return nil
	}
	if errors.Is(r.iter.Error, io.EOF) {
		return detailError(ErrSyntax, "unexpected end of input")
	}
	return detailError(ErrSyntax, "%v", r.iter.Error)
}

// numberFailed tolerates EOF: a number is the only value whose end is
// found by reading past it.
func (r *JSONReader) numberFailed() error {
	if r.iter.Error == nil || errors.Is(r.iter.Error, io.EOF) {
		return nil
	}
	return detailError(ErrSyntax, "%v", r.iter.Error)
}

func (r *JSONReader) expect(want jsoniter.ValueType, name string) error {
	got := r.iter.WhatIsNext()
	if err := r.failed(); err != nil {
		return err
	}
	if got != want {
		return mismatch(name, jsonTypeName(got))
	}
	return nil
}

func (r *JSONReader) Boolean() (bool, error) {
	if err := r.expect(jsoniter.BoolValue, "bool"); err != nil {
		return false, err
	}
	v := r.iter.ReadBool()
	return v, r.failed()
}

func (r *JSONReader) number() (string, error) {
	if err := r.expect(jsoniter.NumberValue, "integer"); err != nil {
		return "", err
	}
	n := string(r.iter.ReadNumber())
	if err := r.numberFailed(); err != nil {
		return "", err
	}
	if strings.ContainsAny(n, ".eE") {
		return "", mismatch("integer", "real")
	}
	return n, nil
}

func (r *JSONReader) Integer() (int64, error) {
	n, err := r.number()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(n, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, detailError(ErrIntegerRange, "%s does not fit int64", n)
		}
		return 0, detailError(ErrSyntax, "bad integer %q", n)
	}
	return v, nil
}

func (r *JSONReader) UnsignedInteger() (uint64, error) {
	n, err := r.number()
	if err != nil {
		return 0, err
	}
	if strings.HasPrefix(n, "-") {
		return 0, detailError(ErrIntegerRange, "%s is negative", n)
	}
	v, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, detailError(ErrIntegerRange, "%s does not fit uint64", n)
		}
		return 0, detailError(ErrSyntax, "bad integer %q", n)
	}
	return v, nil
}

func (r *JSONReader) Real() (float64, error) {
	if err := r.expect(jsoniter.NumberValue, "real"); err != nil {
		return 0, err
	}
	v := r.iter.ReadFloat64()
	return v, r.numberFailed()
}

func (r *JSONReader) String() (string, error) {
	if err := r.expect(jsoniter.StringValue, "string"); err != nil {
		return "", err
	}
	v := r.iter.ReadString()
	return v, r.failed()
}

func (r *JSONReader) Binary() ([]byte, error) {
	if err := r.expect(jsoniter.StringValue, "binary"); err != nil {
		return nil, err
	}
	s := r.iter.ReadString()
	if err := r.failed(); err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, detailError(ErrMalformedBinary, "%v", err)
	}
	return b, nil
}

func (r *JSONReader) BinaryInto(dst []byte) error {
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

func (r *JSONReader) Enumeration(names []string) (int, error) {
	if err := r.expect(jsoniter.StringValue, "enum"); err != nil {
		return 0, err
	}
	s := r.iter.ReadString()
	if err := r.failed(); err != nil {
		return 0, err
	}
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, detailError(ErrInvalidEnum, "%q", s)
}

func (r *JSONReader) StartArray() (int, error) {
	if err := r.expect(jsoniter.ArrayValue, "array"); err != nil {
		return 0, err
	}
	if err := r.increment(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (r *JSONReader) IsArrayEnd(int) (bool, error) {
	more := r.iter.ReadArray()
	if err := r.failed(); err != nil {
		return false, err
	}
	return !more, nil
}

func (r *JSONReader) EndArray() { r.decrement() }

func (r *JSONReader) StartObject() (int, error) {
	if err := r.expect(jsoniter.ObjectValue, "object"); err != nil {
		return 0, err
	}
	if err := r.increment(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (r *JSONReader) Key(keys *KeyMap, _ *int) (int, bool, error) {
	for {
		name, more, err := r.nextKey()
		if err != nil || !more {
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
}

// nextKey reads the next key of the current object. ReadObject returns ""
// both for an empty key and at the closing brace; only a key is followed
// by a value.
func (r *JSONReader) nextKey() (string, bool, error) {
	name := r.iter.ReadObject()
	if err := r.failed(); err != nil {
		return "", false, err
	}
	if name != "" {
		return name, true, nil
	}
	next := r.iter.WhatIsNext()
	if errors.Is(r.iter.Error, io.EOF) {
		// End of input after a top-level object; CheckComplete decides.
		r.iter.Error = nil
	}
	return "", next != jsoniter.InvalidValue, nil
}

// skip discards one value. Nested containers count against the depth limit.
func (r *JSONReader) skip() error {
	switch t := r.iter.WhatIsNext(); t {
	case jsoniter.ArrayValue:
		if err := r.increment(); err != nil {
			return err
		}
		defer r.decrement()
		for r.iter.ReadArray() {
			if err := r.skip(); err != nil {
				return err
			}
		}
		return r.failed()
	case jsoniter.ObjectValue:
		if err := r.increment(); err != nil {
			return err
		}
		defer r.decrement()
		for {
			_, more, err := r.nextKey()
			if err != nil || !more {
				return err
			}
			if err := r.skip(); err != nil {
				return err
			}
		}
	case jsoniter.InvalidValue:
		if err := r.failed(); err != nil {
			return err
		}
		return detailError(ErrSyntax, "expected a value")
	default:
		r.iter.Skip()
		if t == jsoniter.NumberValue {
			return r.numberFailed()
		}
		return r.failed()
	}
}

func (r *JSONReader) EndObject() { r.decrement() }

func (r *JSONReader) CheckComplete() error {
	if r.iter.Error != nil {
		if errors.Is(r.iter.Error, io.EOF) {
			return nil
		}
		return detailError(ErrSyntax, "%v", r.iter.Error)
	}
	if r.iter.WhatIsNext() != jsoniter.InvalidValue || r.iter.Error == nil {
		return detailError(ErrSyntax, "trailing data after value")
	}
	return r.numberFailed()
}

func jsonTypeName(t jsoniter.ValueType) string {
	switch t {
	case jsoniter.StringValue:
		return "string"
	case jsoniter.NumberValue:
		return "number"
	case jsoniter.NilValue:
		return "null"
	case jsoniter.BoolValue:
		return "bool"
	case jsoniter.ArrayValue:
		return "array"
	case jsoniter.ObjectValue:
		return "object"
	default:
		return "invalid"
	}
}
