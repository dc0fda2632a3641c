package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
)

type (
	AccountID   uint32
	BlockID     uint64
	AccountTime uint32
)

const InvalidAccountID AccountID = 0xFFFFFFFF

// ViewKey is the stored view secret. It doubles as the client credential.
type ViewKey [32]byte

// OutputID names an output across the cleartext and RingCT namespaces. High
// is the amount for pre-RingCT outputs and zero otherwise; Low is the index
// within that amount.
type OutputID struct {
	High uint64
	Low  uint64
}

func (o OutputID) Compare(p OutputID) int {
	switch {
	case o.High < p.High:
		return -1
	case o.High > p.High:
		return 1
	case o.Low < p.Low:
		return -1
	case o.Low > p.Low:
		return 1
	}
	return 0
}

func (o OutputID) Less(p OutputID) bool { return o.Compare(p) < 0 }

// AccountAddress is the external primary key of an account. The view key
// comes first in every encoded form.
type AccountAddress struct {
	ViewPublic  keys.PublicKey
	SpendPublic keys.PublicKey
}

func (a AccountAddress) Bytes() []byte {
	b := make([]byte, 0, 64)
	b = append(b, a.ViewPublic[:]...)
	return append(b, a.SpendPublic[:]...)
}

func AddressFromBytes(b []byte) (AccountAddress, error) {
	var a AccountAddress
	if len(b) != 64 {
		return a, fmt.Errorf("store: address must be 64 bytes, got %d", len(b))
	}
	copy(a.ViewPublic[:], b[:32])
	copy(a.SpendPublic[:], b[32:])
	return a, nil
}

// Keys returns the address in the codec's spend-first form.
func (a AccountAddress) Keys() keys.Address {
	return keys.Address{Spend: a.SpendPublic, View: a.ViewPublic}
}

func AddressFromKeys(a keys.Address) AccountAddress {
	return AccountAddress{ViewPublic: a.View, SpendPublic: a.Spend}
}

type Status uint8

const (
	StatusActive Status = iota
	StatusInactive
	StatusHidden
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusHidden:
		return "hidden"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "inactive":
		return StatusInactive, nil
	case "hidden":
		return StatusHidden, nil
	default:
		return 0, fmt.Errorf("store: unknown status %q", s)
	}
}

type AccountFlags uint8

const (
	FlagAdmin            AccountFlags = 1
	FlagGeneratedLocally AccountFlags = 2
)

type Account struct {
	ID          AccountID
	Access      AccountTime
	Address     AccountAddress
	Key         ViewKey
	ScanHeight  BlockID
	StartHeight BlockID
	Creation    AccountTime
	Flags       AccountFlags
	Status      Status
}

type RequestKind uint8

const (
	RequestCreate RequestKind = iota
	RequestImportScan
)

func (k RequestKind) String() string {
	switch k {
	case RequestCreate:
		return "create"
	case RequestImportScan:
		return "import_scan"
	default:
		return fmt.Sprintf("request(%d)", uint8(k))
	}
}

func ParseRequestKind(s string) (RequestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return RequestCreate, nil
	case "import_scan", "import":
		return RequestImportScan, nil
	default:
		return 0, fmt.Errorf("store: unknown request kind %q", s)
	}
}

// Request is a pending administrative action on one address.
type Request struct {
	Kind        RequestKind
	Address     AccountAddress
	Key         ViewKey
	StartHeight BlockID
	Creation    AccountTime
	Flags       AccountFlags
}

type TransactionLink struct {
	Height BlockID
	TxHash keys.Hash
}

type SpendMeta struct {
	ID         OutputID
	Amount     uint64
	MixinCount uint32
	Index      uint32
	TxPublic   keys.PublicKey
}

type ExtraFlags uint8

const (
	ExtraCoinbase ExtraFlags = 1
	ExtraRingCT   ExtraFlags = 2
)

// PackExtra combines extra flags with a payment id length of 0, 8 or 32.
func PackExtra(flags ExtraFlags, paymentIDLen int) uint8 {
	return uint8(flags)<<6 | uint8(paymentIDLen)&0x3f
}

type Output struct {
	Link         TransactionLink
	Spend        SpendMeta
	Timestamp    uint64
	UnlockTime   uint64
	TxPrefixHash keys.Hash
	Pub          keys.PublicKey
	RingctMask   [32]byte
	Extra        uint8
	PaymentID    [32]byte
}

func (o Output) ExtraFlags() ExtraFlags { return ExtraFlags(o.Extra >> 6) }
func (o Output) PaymentIDLen() int      { return int(o.Extra & 0x3f) }

type Spend struct {
	Link       TransactionLink
	Image      keys.KeyImage
	Source     OutputID
	Timestamp  uint64
	UnlockTime uint64
	MixinCount uint32
	Length     uint8
	PaymentID  [32]byte
}

// KeyImage links a spend's key image to the transaction that carried it.
type KeyImage struct {
	Value keys.KeyImage
	Link  TransactionLink
}

// BlockInfo is the digest recorded for one scanned height.
type BlockInfo struct {
	ID   BlockID
	Hash keys.Hash
}

type Event struct {
	ID        uint64
	Kind      string
	Account   AccountID
	Height    BlockID
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Pass is everything one scan pass produced for one account.
type Pass struct {
	Account    AccountID
	FromHeight BlockID
	Height     BlockID
	Outputs    []Output
	Spends     []Spend
}

// Orphaned lists what one account lost to a rollback.
type Orphaned struct {
	Account AccountID
	Outputs []Output
	Spends  []Spend
}

func Now() AccountTime { return AccountTime(time.Now().Unix()) }
