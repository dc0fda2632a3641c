//go:build integration && docker

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/testutil/containers"
)

func TestStore_PostgresContainer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	svc, err := containers.StartPostgres(ctx)
	if err != nil {
		t.Skipf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = svc.Terminate(context.Background()) })
	runSuite(t, svc.URL)
}
