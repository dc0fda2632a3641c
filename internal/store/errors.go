package store

import "errors"

var (
	ErrAccountNotFound  = errors.New("store: account not found")
	ErrAccountExists    = errors.New("store: account already exists")
	ErrDuplicateRequest = errors.New("store: duplicate request")
	ErrRequestNotFound  = errors.New("store: request not found")
	ErrBadViewKey       = errors.New("store: view key does not match address")
	ErrLockTimeout      = errors.New("store: write lock timeout")
	ErrUnavailable      = errors.New("store: unavailable")
	ErrStaleAccount     = errors.New("store: account height changed since pass started")
)

// IsDomain reports whether err is a client-visible domain failure.
func IsDomain(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrBadViewKey)
}

// IsUnavailable reports whether err is a transient storage condition.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrUnavailable)
}
