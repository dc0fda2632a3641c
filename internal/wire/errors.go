package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchemaMismatch  = errors.New("wire: schema mismatch")
	ErrIntegerRange    = errors.New("wire: integer out of range")
	ErrInvalidEnum     = errors.New("wire: invalid enum value")
	ErrInvalidKey      = errors.New("wire: invalid key")
	ErrMissingKey      = errors.New("wire: missing key")
	ErrDuplicateKey    = errors.New("wire: duplicate key")
	ErrMalformedBinary = errors.New("wire: malformed binary")
	ErrMaxDepth        = errors.New("wire: max read depth exceeded")
	ErrSyntax          = errors.New("wire: syntax error")
)

// Error is a decode failure. It unwraps to one of the Err* sentinels.
type Error struct {
	Kind     error
	Expected string
	Actual   string
	Keys     []string
	Detail   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Expected != "" {
		fmt.Fprintf(&b, ": expected %s", e.Expected)
		if e.Actual != "" {
			fmt.Fprintf(&b, ", got %s", e.Actual)
		}
	}
	if len(e.Keys) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Keys, ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// IsDecodeError reports whether err came from the decode framework rather
// than from the transport or storage underneath it.
func IsDecodeError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func mismatch(expected, actual string) error {
	return &Error{Kind: ErrSchemaMismatch, Expected: expected, Actual: actual}
}

func keyError(kind error, keys ...string) error {
	return &Error{Kind: kind, Keys: keys}
}

func detailError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
