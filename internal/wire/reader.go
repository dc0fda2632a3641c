// Package wire decodes untrusted JSON and MessagePack input into typed values
// against declarative schemas.
package wire

// MaxReadDepth bounds structural nesting per decode session.
const MaxReadDepth = 100

// Options configure a reader.
type Options struct {
	// SkipUnknown ignores object keys that have no field in the schema.
	// When false an unknown key fails with ErrInvalidKey.
	SkipUnknown bool
	// MaxDepth overrides MaxReadDepth when positive.
	MaxDepth int
}

// Reader is a structural token source. Every call consumes exactly one value
// or one structural boundary.
type Reader interface {
	// Depth is the current count of open arrays and objects.
	Depth() int

	Boolean() (bool, error)
	Integer() (int64, error)
	UnsignedInteger() (uint64, error)
	Real() (float64, error)
	String() (string, error)
	Binary() ([]byte, error)
	// BinaryInto reads a byte string that must be exactly len(dst) long.
	BinaryInto(dst []byte) error
	// Enumeration reads one of names and returns its index.
	Enumeration(names []string) (int, error)

	// StartArray returns the element count when the format carries one,
	// and 0 otherwise.
	StartArray() (int, error)
	// IsArrayEnd is consulted once the known count is exhausted.
	IsArrayEnd(count int) (bool, error)
	EndArray()

	// StartObject returns the initial key state for Key.
	StartObject() (int, error)
	// Key advances to the next known key and returns its row in keys.
	// ok is false at the end of the object.
	Key(keys *KeyMap, state *int) (row int, ok bool, err error)
	EndObject()

	// CheckComplete fails when input remains after the top-level value.
	CheckComplete() error
}

type depth struct {
	n   int
	max int
}

func newDepth(opts Options) depth {
	max := opts.MaxDepth
	if max <= 0 {
		max = MaxReadDepth
	}
	return depth{max: max}
}

func (d *depth) Depth() int { return d.n }

func (d *depth) increment() error {
	if d.n >= d.max {
		return detailError(ErrMaxDepth, "limit %d", d.max)
	}
	d.n++
	return nil
}

func (d *depth) decrement() {
	if d.n > 0 {
		d.n--
	}
}

// KeyMap maps object key names to schema rows.
type KeyMap struct {
	names []string
	index map[string]int
}

func newKeyMap(names []string) KeyMap {
	m := KeyMap{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		m.index[n] = i
	}
	return m
}

// Lookup returns the row for name.
func (m *KeyMap) Lookup(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Name returns the key name of row.
func (m *KeyMap) Name(row int) string { return m.names[row] }
