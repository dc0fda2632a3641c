package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/wire"
)

// Clients send fields this server does not use.
var requestOptions = wire.Options{SkipUnknown: true}

type credentials struct {
	Address string
	ViewKey keys.SecretKey
}

type loginRequest struct {
	credentials
	CreateAccount    bool
	GeneratedLocally bool
}

type unspentRequest struct {
	credentials
	Amount        uint64
	Mixin         uint32
	UseDust       bool
	DustThreshold uint64
}

// safeUint64 reads an amount encoded as a decimal string.
func safeUint64(r wire.Reader, dst *uint64) error {
	s, err := r.String()
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return &wire.Error{Kind: wire.ErrIntegerRange, Detail: fmt.Sprintf("%q", s)}
	}
	*dst = n
	return nil
}

func credentialFields[T any](get func(*T) *credentials) []wire.Field[T] {
	return []wire.Field[T]{
		wire.Required("address", func(v *T) *string { return &get(v).Address }, wire.String),
		wire.Required("view_key", func(v *T) *keys.SecretKey { return &get(v).ViewKey }, wire.Blob32[keys.SecretKey]),
	}
}

var (
	credentialsSchema = wire.NewObject(credentialFields(func(v *credentials) *credentials { return v })...)

	loginSchema = wire.NewObject(append(
		credentialFields(func(v *loginRequest) *credentials { return &v.credentials }),
		wire.Required("create_account", func(v *loginRequest) *bool { return &v.CreateAccount }, wire.Bool),
		wire.Default("generated_locally", func(v *loginRequest) *bool { return &v.GeneratedLocally }, wire.Bool),
	)...)

	unspentSchema = wire.NewObject(append(
		credentialFields(func(v *unspentRequest) *credentials { return &v.credentials }),
		wire.Required("amount", func(v *unspentRequest) *uint64 { return &v.Amount }, safeUint64),
		wire.Default("mixin", func(v *unspentRequest) *uint32 { return &v.Mixin }, wire.Unsigned[uint32]),
		wire.Default("use_dust", func(v *unspentRequest) *bool { return &v.UseDust }, wire.Bool),
		wire.Default("dust_threshold", func(v *unspentRequest) *uint64 { return &v.DustThreshold }, safeUint64),
	)...)
)

// resolve checks the credentials against the address they claim.
func (s *Server) resolve(c credentials) (store.AccountAddress, error) {
	addr, err := keys.ParseAddress(s.network, c.Address)
	if err != nil {
		return store.AccountAddress{}, fmt.Errorf("%w: address: %w", ErrBadRequest, err)
	}
	if !keys.ViewKeyMatches(c.ViewKey, addr.View) {
		return store.AccountAddress{}, store.ErrBadViewKey
	}
	return store.AddressFromKeys(addr), nil
}

// authorize loads the account and checks the stored key.
func authorize(ctx context.Context, tx store.ReadTx, addr store.AccountAddress, key keys.SecretKey) (store.Account, error) {
	a, err := tx.AccountByAddress(ctx, addr)
	if err != nil {
		return store.Account{}, err
	}
	if !keys.SecretKey(a.Key).Equal(key) {
		return store.Account{}, store.ErrBadViewKey
	}
	return a, nil
}
