//go:build integration && mysql

package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/store/storetest"
	"github.com/Abdullah1738/lws-scan/internal/testutil"
)

// openTest creates a throwaway database next to the one dsn names.
func openTest(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	admin, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = admin.Close() })

	name := testutil.Name(t, "lwsscan_test_")
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE `"+name+"`"); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { _, _ = admin.ExecContext(context.Background(), "DROP DATABASE `"+name+"`") })

	cfg.DBName = name
	st, err := Open(ctx, cfg.FormatDSN())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		t.Fatalf("Migrate: %v", err)
	}
	return st
}

func runSuite(t *testing.T, dsn string) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTest(t, dsn) })

	t.Run("MigrateTwice", func(t *testing.T) {
		st := openTest(t, dsn)
		defer func() { _ = st.Close() }()
		if err := st.Migrate(context.Background()); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
	})

	t.Run("ManyOutputsInOnePass", func(t *testing.T) {
		st := openTest(t, dsn)
		defer func() { _ = st.Close() }()
		ctx := context.Background()
		acct := storetest.AddAccount(t, st, storetest.Address(1), 0)

		outs := make([]store.Output, rowsPerInsert+5)
		for i := range outs {
			outs[i] = storetest.Output(store.BlockID(1+i/100), byte(i), uint64(i))
		}
		err := st.Update(ctx, func(tx store.WriteTx) error {
			return tx.CommitPass(ctx, store.Pass{Account: acct.ID, Height: 20, Outputs: outs})
		})
		if err != nil {
			t.Fatalf("CommitPass: %v", err)
		}
		_, got, _ := storetest.State(t, st, acct.ID)
		if len(got) != len(outs) {
			t.Fatalf("outputs: got %d want %d", len(got), len(outs))
		}
	})
}

func TestStore_MySQL(t *testing.T) {
	runSuite(t, testutil.EnvDSN(t, "LWS_TEST_MYSQL_DSN"))
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- header\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT); -- trailing\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE TABLE b (y INT)" {
		t.Fatalf("split: %q", got)
	}
}
