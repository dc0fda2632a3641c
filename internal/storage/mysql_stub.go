//go:build !mysql

package storage

import (
	"context"
	"errors"

	"github.com/Abdullah1738/lws-scan/internal/store"
)

func openMySQL(context.Context, string, store.LockPolicy) (store.Store, error) {
	return nil, errors.New("storage: mysql adapter is not built; rebuild with -tags=mysql")
}
