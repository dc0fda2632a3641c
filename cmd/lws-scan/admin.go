package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Abdullah1738/lws-scan/internal/config"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/wire"
	"github.com/spf13/cobra"
)

func adminCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and modify accounts and pending requests",
	}
	a := &admin{cfg: cfg}
	cmd.AddCommand(
		a.command("add-account <address> <view-key>", "Register an account directly", cobra.ExactArgs(2), a.addAccount),
		a.command("list-accounts", "List accounts grouped by status", cobra.NoArgs, a.listAccounts),
		a.command("list-requests", "List pending requests grouped by kind", cobra.NoArgs, a.listRequests),
		a.command("accept-requests <create|import_scan> [address...]", "Approve pending requests (all when no address is given)", cobra.MinimumNArgs(1), a.acceptRequests),
		a.command("reject-requests <create|import_scan> [address...]", "Drop pending requests (all when no address is given)", cobra.MinimumNArgs(1), a.rejectRequests),
		a.command("modify-status <active|inactive|hidden> <address>...", "Change account status", cobra.MinimumNArgs(2), a.modifyStatus),
		a.command("rescan <height> <address>...", "Reset accounts to rescan from height", cobra.MinimumNArgs(2), a.rescan),
	)
	return cmd
}

type admin struct {
	cfg *config.Config
}

type adminFunc func(ctx context.Context, e *env, out io.Writer, args []string) error

func (a *admin) command(use, short string, args cobra.PositionalArgs, fn adminFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			e, err := open(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, e.close()) }()
			return fn(cmd.Context(), e, cmd.OutOrStdout(), args)
		},
	}
}

func (e *env) address(s string) (store.AccountAddress, error) {
	a, err := keys.ParseAddress(e.network, s)
	if err != nil {
		return store.AccountAddress{}, fmt.Errorf("address %q: %w", s, err)
	}
	return store.AddressFromKeys(a), nil
}

func (e *env) addresses(args []string) ([]store.AccountAddress, error) {
	out := make([]store.AccountAddress, 0, len(args))
	for _, s := range args {
		a, err := e.address(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type accountJSON struct {
	ID          store.AccountID `json:"id"`
	Address     string          `json:"address"`
	ScanHeight  store.BlockID   `json:"scan_height"`
	StartHeight store.BlockID   `json:"start_height"`
	AccessTime  uint32          `json:"access_time"`
	CreatedAt   uint32          `json:"creation_time"`
	Admin       bool            `json:"admin,omitempty"`
	Local       bool            `json:"generated_locally,omitempty"`
}

func (e *env) accountJSON(a store.Account) accountJSON {
	return accountJSON{
		ID:          a.ID,
		Address:     keys.FormatAddress(e.network, a.Address.Keys()),
		ScanHeight:  a.ScanHeight,
		StartHeight: a.StartHeight,
		AccessTime:  uint32(a.Access),
		CreatedAt:   uint32(a.Creation),
		Admin:       a.Flags&store.FlagAdmin != 0,
		Local:       a.Flags&store.FlagGeneratedLocally != 0,
	}
}

func (e *env) accountsJSON(accts []store.Account) []accountJSON {
	out := make([]accountJSON, 0, len(accts))
	for _, a := range accts {
		out = append(out, e.accountJSON(a))
	}
	return out
}

func (a *admin) addAccount(ctx context.Context, e *env, out io.Writer, args []string) error {
	addr, err := e.address(args[0])
	if err != nil {
		return err
	}
	raw, err := keys.ParseHash32(args[1])
	if err != nil {
		return fmt.Errorf("view key: %w", err)
	}
	if !keys.ViewKeyMatches(keys.SecretKey(raw), addr.ViewPublic) {
		return store.ErrBadViewKey
	}

	var acct store.Account
	err = e.st.Update(ctx, func(tx store.WriteTx) error {
		start, err := tx.ChainHeight(ctx)
		if err != nil {
			return err
		}
		acct, err = tx.AddAccount(ctx, addr, store.ViewKey(raw), store.FlagAdmin, start)
		return err
	})
	if err != nil {
		return err
	}
	return wire.EncodeJSON(out, e.accountJSON(acct))
}

func (a *admin) listAccounts(ctx context.Context, e *env, out io.Writer, _ []string) error {
	var active, inactive, hidden []store.Account
	err := e.st.View(ctx, func(tx store.ReadTx) error {
		var err error
		if active, err = tx.ListAccounts(ctx, store.StatusActive); err != nil {
			return err
		}
		if inactive, err = tx.ListAccounts(ctx, store.StatusInactive); err != nil {
			return err
		}
		hidden, err = tx.ListAccounts(ctx, store.StatusHidden)
		return err
	})
	if err != nil {
		return err
	}
	return wire.EncodeJSON(out, map[string][]accountJSON{
		"active":   e.accountsJSON(active),
		"inactive": e.accountsJSON(inactive),
		"hidden":   e.accountsJSON(hidden),
	})
}

type requestJSON struct {
	Address     string        `json:"address"`
	StartHeight store.BlockID `json:"start_height"`
	CreatedAt   uint32        `json:"creation_time"`
	Local       bool          `json:"generated_locally,omitempty"`
}

func (a *admin) listRequests(ctx context.Context, e *env, out io.Writer, _ []string) error {
	res := map[string][]requestJSON{}
	err := e.st.View(ctx, func(tx store.ReadTx) error {
		for _, kind := range []store.RequestKind{store.RequestCreate, store.RequestImportScan} {
			reqs, err := tx.Requests(ctx, kind)
			if err != nil {
				return err
			}
			list := make([]requestJSON, 0, len(reqs))
			for _, r := range reqs {
				list = append(list, requestJSON{
					Address:     keys.FormatAddress(e.network, r.Address.Keys()),
					StartHeight: r.StartHeight,
					CreatedAt:   uint32(r.Creation),
					Local:       r.Flags&store.FlagGeneratedLocally != 0,
				})
			}
			res[kind.String()] = list
		}
		return nil
	})
	if err != nil {
		return err
	}
	return wire.EncodeJSON(out, res)
}

func (a *admin) acceptRequests(ctx context.Context, e *env, out io.Writer, args []string) error {
	kind, err := store.ParseRequestKind(args[0])
	if err != nil {
		return err
	}
	addrs, err := e.addresses(args[1:])
	if err != nil {
		return err
	}
	var accepted []store.Account
	err = e.st.Update(ctx, func(tx store.WriteTx) error {
		var err error
		accepted, err = tx.AcceptRequests(ctx, kind, addrs)
		return err
	})
	if err != nil {
		return err
	}
	return wire.EncodeJSON(out, map[string][]accountJSON{"updated": e.accountsJSON(accepted)})
}

func (a *admin) rejectRequests(ctx context.Context, e *env, out io.Writer, args []string) error {
	kind, err := store.ParseRequestKind(args[0])
	if err != nil {
		return err
	}
	addrs, err := e.addresses(args[1:])
	if err != nil {
		return err
	}
	err = e.st.Update(ctx, func(tx store.WriteTx) error { return tx.RejectRequests(ctx, kind, addrs) })
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, `{"status":"ok"}`)
	return err
}

func (a *admin) modifyStatus(ctx context.Context, e *env, out io.Writer, args []string) error {
	status, err := store.ParseStatus(args[0])
	if err != nil {
		return err
	}
	addrs, err := e.addresses(args[1:])
	if err != nil {
		return err
	}
	return a.update(ctx, e, out, addrs, func(tx store.WriteTx) error { return tx.SetStatus(ctx, status, addrs) })
}

func (a *admin) rescan(ctx context.Context, e *env, out io.Writer, args []string) error {
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("height %q: %w", args[0], err)
	}
	addrs, err := e.addresses(args[1:])
	if err != nil {
		return err
	}
	return a.update(ctx, e, out, addrs, func(tx store.WriteTx) error { return tx.Rescan(ctx, store.BlockID(height), addrs) })
}

// update runs fn and prints the accounts named by addrs as they are after it.
func (a *admin) update(ctx context.Context, e *env, out io.Writer, addrs []store.AccountAddress, fn func(store.WriteTx) error) error {
	var updated []store.Account
	err := e.st.Update(ctx, func(tx store.WriteTx) error {
		if err := fn(tx); err != nil {
			return err
		}
		// Hidden accounts are only reachable through a listing.
		all, err := tx.ListAccounts(ctx, store.StatusActive, store.StatusInactive, store.StatusHidden)
		if err != nil {
			return err
		}
		want := make(map[store.AccountAddress]bool, len(addrs))
		for _, addr := range addrs {
			want[addr] = true
		}
		for _, acct := range all {
			if want[acct.Address] {
				updated = append(updated, acct)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return wire.EncodeJSON(out, map[string][]accountJSON{"updated": e.accountsJSON(updated)})
}
