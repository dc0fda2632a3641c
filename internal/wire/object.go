package wire

import "fmt"

const (
	noUnion = -1
	tagAlt  = -1
)

type entry[T any] struct {
	name     string
	rows     []string
	required bool
	union    int
	alt      int
	read     func(r Reader, row int, dst *T) error
}

type union[T any] struct {
	tag      string
	tagEntry int
	selected func(*T) *int
	cases    []string
}

// Field describes how one key, or one group of keys, of an object maps onto
// T. Fields are built with Required, Optional, Default, Variant and Tagged.
type Field[T any] struct {
	entries []entry[T]
	union   *union[T]
}

func single[T any](name string, required bool, read func(Reader, int, *T) error) Field[T] {
	return Field[T]{entries: []entry[T]{{
		name:     name,
		rows:     []string{name},
		required: required,
		union:    noUnion,
		read:     read,
	}}}
}

// Required is a field that must be present exactly once.
func Required[T, F any](name string, get func(*T) *F, read ReadFunc[F]) Field[T] {
	return single(name, true, func(r Reader, _ int, dst *T) error {
		return read(r, get(dst))
	})
}

// Optional is a field that may be absent; presence allocates the target.
func Optional[T, F any](name string, get func(*T) **F, read ReadFunc[F]) Field[T] {
	return single(name, false, func(r Reader, _ int, dst *T) error {
		v := new(F)
		if err := read(r, v); err != nil {
			return err
		}
		*get(dst) = v
		return nil
	})
}

// Default is a field that may be absent, in which case the destination keeps
// whatever value it held before decoding.
func Default[T, F any](name string, get func(*T) *F, read ReadFunc[F]) Field[T] {
	return single(name, false, func(r Reader, _ int, dst *T) error {
		return read(r, get(dst))
	})
}

// Alternative is one option of a keyed Variant.
type Alternative[T any] struct {
	name string
	read func(Reader, *T) error
}

// Choice reads the value under key name as a V and stores it with assign.
func Choice[T, V any](name string, read ReadFunc[V], assign func(*T, V)) Alternative[T] {
	return Alternative[T]{name: name, read: func(r Reader, dst *T) error {
		var v V
		if err := read(r, &v); err != nil {
			return err
		}
		assign(dst, v)
		return nil
	}}
}

// Variant is a sum type keyed by alternative name: exactly one of the
// alternative keys may appear and its value is the alternative. The index of
// the alternative read is stored through selected.
func Variant[T any](name string, required bool, selected func(*T) *int, alts ...Alternative[T]) Field[T] {
	rows := make([]string, len(alts))
	for i, a := range alts {
		rows[i] = a.name
	}
	return Field[T]{entries: []entry[T]{{
		name:     name,
		rows:     rows,
		required: required,
		union:    noUnion,
		read: func(r Reader, row int, dst *T) error {
			if err := alts[row].read(r, dst); err != nil {
				return err
			}
			*selected(dst) = row
			return nil
		},
	}}}
}

// Case is one alternative of a Tagged union.
type Case[T any] struct {
	name    string
	entries []entry[T]
}

// When lifts the fields of obj into the enclosing object. They are accepted
// only when the union tag selects name.
func When[T, V any](name string, obj *Object[V], get func(*T) *V) Case[T] {
	if len(obj.unions) > 0 {
		panic(fmt.Sprintf("wire: case %q nests a tagged union", name))
	}
	c := Case[T]{name: name}
	for _, e := range obj.entries {
		read := e.read
		c.entries = append(c.entries, entry[T]{
			name:     e.name,
			rows:     e.rows,
			required: e.required,
			read: func(r Reader, row int, dst *T) error {
				return read(r, row, get(dst))
			},
		})
	}
	return c
}

// Tagged is a discriminated union: the string under key tag names the case,
// and that case's own fields sit beside the tag in the same object. Fields of
// any other case are rejected with ErrInvalidKey.
func Tagged[T any](tag string, selected func(*T) *int, cases ...Case[T]) Field[T] {
	names := make([]string, len(cases))
	for i, c := range cases {
		names[i] = c.name
	}
	f := Field[T]{union: &union[T]{tag: tag, selected: selected, cases: names}}
	f.entries = append(f.entries, entry[T]{
		name:     tag,
		rows:     []string{tag},
		required: true,
		alt:      tagAlt,
		read: func(r Reader, _ int, dst *T) error {
			i, err := r.Enumeration(names)
			if err != nil {
				return err
			}
			*selected(dst) = i
			return nil
		},
	})
	for i, c := range cases {
		for _, e := range c.entries {
			e.alt = i
			f.entries = append(f.entries, e)
		}
	}
	return f
}

type rowRef struct {
	entry  int
	option int
}

// Object is the schema of a JSON object or MessagePack map decoded into T.
// Build it once with NewObject and reuse it.
type Object[T any] struct {
	entries []entry[T]
	unions  []union[T]
	rows    []rowRef
	keys    KeyMap
}

// NewObject builds the key table. Two fields claiming the same key is a
// programming error and panics.
func NewObject[T any](fields ...Field[T]) *Object[T] {
	o := &Object[T]{}
	var names []string
	seen := make(map[string]struct{})
	for _, f := range fields {
		u := noUnion
		if f.union != nil {
			u = len(o.unions)
			o.unions = append(o.unions, *f.union)
		}
		for _, e := range f.entries {
			idx := len(o.entries)
			if u != noUnion {
				e.union = u
				if e.alt == tagAlt {
					o.unions[u].tagEntry = idx
				}
			}
			o.entries = append(o.entries, e)
			for opt, n := range e.rows {
				if _, dup := seen[n]; dup {
					panic(fmt.Sprintf("wire: key %q declared twice", n))
				}
				seen[n] = struct{}{}
				names = append(names, n)
				o.rows = append(o.rows, rowRef{entry: idx, option: opt})
			}
		}
	}
	o.keys = newKeyMap(names)
	return o
}

// Read decodes one object into dst.
func (o *Object[T]) Read(r Reader, dst *T) error {
	state, err := r.StartObject()
	if err != nil {
		return err
	}
	defer r.EndObject()

	seen := make([]bool, len(o.entries))
	for {
		row, ok, err := r.Key(&o.keys, &state)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		ref := o.rows[row]
		e := &o.entries[ref.entry]
		if seen[ref.entry] {
			return keyError(ErrDuplicateKey, e.name)
		}
		seen[ref.entry] = true
		if err := e.read(r, ref.option, dst); err != nil {
			return err
		}
	}
	return o.check(dst, seen)
}

func (o *Object[T]) check(dst *T, seen []bool) error {
	var missing []string
	for i := range o.entries {
		e := &o.entries[i]
		if e.union == noUnion || e.alt == tagAlt {
			if e.required && !seen[i] {
				missing = append(missing, e.name)
			}
			continue
		}
		u := &o.unions[e.union]
		if !seen[u.tagEntry] {
			continue
		}
		sel := *u.selected(dst)
		if e.alt != sel {
			if seen[i] {
				return &Error{Kind: ErrInvalidKey, Keys: []string{e.name}, Detail: fmt.Sprintf("not valid when %s is %q", u.tag, u.cases[sel])}
			}
			continue
		}
		if e.required && !seen[i] {
			missing = append(missing, e.name)
		}
	}
	if len(missing) > 0 {
		return keyError(ErrMissingKey, missing...)
	}
	return nil
}
