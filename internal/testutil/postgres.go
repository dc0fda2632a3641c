// Package testutil holds helpers shared by database integration tests.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

// Name returns prefix followed by a random hex suffix, usable as a schema
// or database identifier.
func Name(t *testing.T, prefix string) string {
	t.Helper()
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return prefix + hex.EncodeToString(b)
}

// EnvDSN returns the DSN in env or skips the test.
func EnvDSN(t *testing.T, env string) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(env))
	if dsn == "" {
		t.Skip(env + " not set")
	}
	return dsn
}

// PostgresSchema picks a fresh schema name and drops it when the test ends.
// The store creates it on open.
func PostgresSchema(t *testing.T, dsn string) string {
	t.Helper()
	schema := Name(t, "lwsscan_test_")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			t.Logf("drop schema %s: %v", schema, err)
			return
		}
		defer func() { _ = conn.Close(ctx) }()
		if _, err := conn.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
	})
	return schema
}
