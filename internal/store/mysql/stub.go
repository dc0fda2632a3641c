//go:build !mysql

package mysql

import (
	"context"
	"errors"

	"github.com/Abdullah1738/lws-scan/internal/store"
)

type Store struct{ store.Store }

type Option func(*Store)

func WithLockPolicy(store.LockPolicy) Option { return func(*Store) {} }

func Open(context.Context, string, ...Option) (*Store, error) {
	return nil, errors.New("mysql adapter is not built; rebuild with -tags=mysql")
}
