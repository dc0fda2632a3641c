//go:build mysql

package storage

import (
	"context"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/store/mysql"
)

func openMySQL(ctx context.Context, dsn string, lock store.LockPolicy) (store.Store, error) {
	return mysql.Open(ctx, dsn, mysql.WithLockPolicy(lock))
}
