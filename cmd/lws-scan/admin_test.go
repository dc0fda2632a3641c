package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"testing"

	"filippo.io/edwards25519"
	"github.com/Abdullah1738/lws-scan/internal/config"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func secret(t *testing.T) (keys.SecretKey, keys.PublicKey) {
	t.Helper()
	var wide [64]byte
	_, err := rand.Read(wide[:])
	require.NoError(t, err)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	require.NoError(t, err)
	var k keys.SecretKey
	copy(k[:], s.Bytes())
	pub, err := keys.PublicFromSecret(k)
	require.NoError(t, err)
	return k, pub
}

func wallet(t *testing.T) (string, string) {
	view, viewPub := secret(t)
	_, spendPub := secret(t)
	addr := keys.FormatAddress(keys.Mainnet, keys.Address{Spend: spendPub, View: viewPub})
	return addr, hex.EncodeToString(view[:])
}

type cli struct {
	t    *testing.T
	path string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, path: filepath.Join(t.TempDir(), "db")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db-path", c.path, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) json(args ...string) map[string]any {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	var m map[string]any
	require.NoError(c.t, jsoniter.UnmarshalFromString(out, &m), out)
	return m
}

func addresses(t *testing.T, list any) []string {
	t.Helper()
	items, ok := list.([]any)
	require.True(t, ok, "%v", list)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(map[string]any)["address"].(string))
	}
	return out
}

func TestAdmin_AddAndList(t *testing.T) {
	c := newCLI(t)
	addr, view := wallet(t)

	got := c.json("admin", "add-account", addr, view)
	require.Equal(t, addr, got["address"])
	require.Equal(t, true, got["admin"])

	_, err := c.run("admin", "add-account", addr, view)
	require.ErrorIs(t, err, store.ErrAccountExists)

	list := c.json("admin", "list-accounts")
	require.Equal(t, []string{addr}, addresses(t, list["active"]))
	require.Empty(t, list["inactive"])
	require.Empty(t, list["hidden"])
}

func TestAdmin_AddAccountBadViewKey(t *testing.T) {
	c := newCLI(t)
	addr, _ := wallet(t)
	_, other := wallet(t)

	_, err := c.run("admin", "add-account", addr, other)
	require.ErrorIs(t, err, store.ErrBadViewKey)

	_, err = c.run("admin", "add-account", "not-an-address", other)
	require.Error(t, err)
}

func TestAdmin_ModifyStatusAndRescan(t *testing.T) {
	c := newCLI(t)
	addr, view := wallet(t)
	c.json("admin", "add-account", addr, view)

	got := c.json("admin", "modify-status", "hidden", addr)
	require.Equal(t, []string{addr}, addresses(t, got["updated"]))

	list := c.json("admin", "list-accounts")
	require.Empty(t, list["active"])
	require.Equal(t, []string{addr}, addresses(t, list["hidden"]))

	got = c.json("admin", "rescan", "0", addr)
	updated := got["updated"].([]any)
	require.Len(t, updated, 1)
	require.EqualValues(t, 0, updated[0].(map[string]any)["scan_height"])

	_, err := c.run("admin", "modify-status", "frozen", addr)
	require.Error(t, err)
	_, err = c.run("admin", "rescan", "tall", addr)
	require.Error(t, err)
}

func TestAdmin_Requests(t *testing.T) {
	c := newCLI(t)
	a1, v1 := wallet(t)
	a2, v2 := wallet(t)

	// Queue two creation requests through the store the CLI opens.
	e, err := open(context.Background(), c.config())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.st.Update(ctx, func(tx store.WriteTx) error {
		for _, w := range [][2]string{{a1, v1}, {a2, v2}} {
			a, err := keys.ParseAddress(keys.Mainnet, w[0])
			if err != nil {
				return err
			}
			k, err := keys.ParseHash32(w[1])
			if err != nil {
				return err
			}
			if err := tx.CreationRequest(ctx, store.AddressFromKeys(a), store.ViewKey(k), 0, 0); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, e.close())

	reqs := c.json("admin", "list-requests")
	require.ElementsMatch(t, []string{a1, a2}, addresses(t, reqs["create"]))
	require.Empty(t, reqs["import_scan"])

	got := c.json("admin", "accept-requests", "create", a1)
	require.Equal(t, []string{a1}, addresses(t, got["updated"]))

	c.json("admin", "reject-requests", "create")

	reqs = c.json("admin", "list-requests")
	require.Empty(t, reqs["create"])

	list := c.json("admin", "list-accounts")
	require.Equal(t, []string{a1}, addresses(t, list["active"]))

	_, err = c.run("admin", "accept-requests", "bogus")
	require.Error(t, err)
}

func (c *cli) config() *config.Config {
	var cfg config.Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindStore(fs)
	require.NoError(c.t, fs.Parse([]string{"--db-path", c.path, "--log-level", "error"}))
	return &cfg
}
