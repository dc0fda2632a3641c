package wire

// ReadFunc decodes one value from r into dst.
//
// No ReadFunc exists for 8-bit integers. Byte sequences are read with Bytes
// or a fixed blob, never as an array of numbers.
type ReadFunc[T any] func(r Reader, dst *T) error

// Decode reads one top-level value and rejects trailing input.
func Decode[T any](r Reader, read ReadFunc[T]) (T, error) {
	var v T
	if err := read(r, &v); err != nil {
		return v, err
	}
	if err := r.CheckComplete(); err != nil {
		return v, err
	}
	return v, nil
}

func FromJSON[T any](data []byte, read ReadFunc[T], opts Options) (T, error) {
	return Decode(NewJSONReader(data, opts), read)
}

func FromMsgpack[T any](data []byte, read ReadFunc[T], opts Options) (T, error) {
	return Decode(NewMsgpackReader(data, opts), read)
}

func Bool(r Reader, dst *bool) (err error) {
	*dst, err = r.Boolean()
	return err
}

func Int64(r Reader, dst *int64) (err error) {
	*dst, err = r.Integer()
	return err
}

func Uint64(r Reader, dst *uint64) (err error) {
	*dst, err = r.UnsignedInteger()
	return err
}

func Float64(r Reader, dst *float64) (err error) {
	*dst, err = r.Real()
	return err
}

func String(r Reader, dst *string) (err error) {
	*dst, err = r.String()
	return err
}

// Bytes reads a variable length byte string.
func Bytes(r Reader, dst *[]byte) (err error) {
	*dst, err = r.Binary()
	return err
}

// Unsigned reads an unsigned integer, failing with ErrIntegerRange when the
// value does not fit U.
func Unsigned[U ~uint16 | ~uint32 | ~uint64 | ~uint](r Reader, dst *U) error {
	v, err := r.UnsignedInteger()
	if err != nil {
		return err
	}
	if uint64(U(v)) != v {
		return detailError(ErrIntegerRange, "%d", v)
	}
	*dst = U(v)
	return nil
}

// Signed reads a signed integer, failing with ErrIntegerRange when the value
// does not fit S.
func Signed[S ~int16 | ~int32 | ~int64 | ~int](r Reader, dst *S) error {
	v, err := r.Integer()
	if err != nil {
		return err
	}
	if int64(S(v)) != v {
		return detailError(ErrIntegerRange, "%d", v)
	}
	*dst = S(v)
	return nil
}

// Blob32 reads a 32 byte value such as a key or hash.
func Blob32[B ~[32]byte](r Reader, dst *B) error {
	var b [32]byte
	if err := r.BinaryInto(b[:]); err != nil {
		return err
	}
	*dst = B(b)
	return nil
}

// Blob8 reads an 8 byte value such as a short payment id.
func Blob8[B ~[8]byte](r Reader, dst *B) error {
	var b [8]byte
	if err := r.BinaryInto(b[:]); err != nil {
		return err
	}
	*dst = B(b)
	return nil
}

// Enum reads one of names into an integer-backed enumeration.
func Enum[E ~uint8 | ~uint16 | ~uint32 | ~int](names ...string) ReadFunc[E] {
	return func(r Reader, dst *E) error {
		i, err := r.Enumeration(names)
		if err != nil {
			return err
		}
		*dst = E(i)
		return nil
	}
}

// Array reads a homogeneous sequence. Depth is released on every exit path.
func Array[T any](elem ReadFunc[T]) ReadFunc[[]T] {
	return func(r Reader, dst *[]T) error {
		count, err := r.StartArray()
		if err != nil {
			return err
		}
		defer r.EndArray()

		out := make([]T, 0, min(count, 1024))
		remaining := count
		for {
			if remaining > 0 {
				remaining--
			} else {
				end, err := r.IsArrayEnd(remaining)
				if err != nil {
					return err
				}
				if end {
					break
				}
			}
			var v T
			if err := elem(r, &v); err != nil {
				return err
			}
			out = append(out, v)
		}
		*dst = out
		return nil
	}
}
