package events

import (
	"encoding/hex"
	"fmt"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/wire"
)

const Version = 1

const (
	KindOutputReceived = "OutputReceived"
	KindOutputOrphaned = "OutputOrphaned"

	KindSpendDetected = "SpendDetected"
	KindSpendOrphaned = "SpendOrphaned"
)

type OutputReceivedPayload struct {
	Version   int    `json:"version"`
	AccountID uint32 `json:"account_id"`

	TxHash       keys.Hash      `json:"tx_hash"`
	TxPrefixHash keys.Hash      `json:"tx_prefix_hash"`
	TxPublic     keys.PublicKey `json:"tx_pub_key"`
	Height       uint64         `json:"height"`
	Timestamp    uint64         `json:"timestamp"`
	UnlockTime   uint64         `json:"unlock_time"`

	OutputKey   keys.PublicKey `json:"public_key"`
	OutputIndex uint32         `json:"index"`
	GlobalIndex uint64         `json:"global_index"`
	Amount      uint64         `json:"amount"`
	MixinCount  uint32         `json:"mixin"`
	Coinbase    bool           `json:"coinbase"`
	RingCT      bool           `json:"rct"`
	PaymentID   string         `json:"payment_id,omitempty"`
}

type OutputOrphanedPayload struct {
	OutputReceivedPayload
	OrphanedAtHeight uint64 `json:"orphaned_at_height"`
}

type SpendDetectedPayload struct {
	Version   int    `json:"version"`
	AccountID uint32 `json:"account_id"`

	TxHash     keys.Hash     `json:"tx_hash"`
	Height     uint64        `json:"height"`
	Timestamp  uint64        `json:"timestamp"`
	UnlockTime uint64        `json:"unlock_time"`
	KeyImage   keys.KeyImage `json:"key_image"`
	MixinCount uint32        `json:"mixin"`

	SourceAmountIndex uint64 `json:"source_amount"`
	SourceGlobalIndex uint64 `json:"source_index"`
	PaymentID         string `json:"payment_id,omitempty"`
}

type SpendOrphanedPayload struct {
	SpendDetectedPayload
	OrphanedAtHeight uint64 `json:"orphaned_at_height"`
}

func paymentID(id []byte) string {
	if len(id) == 0 {
		return ""
	}
	return hex.EncodeToString(id)
}

func outputPayload(id store.AccountID, o store.Output) OutputReceivedPayload {
	flags := o.ExtraFlags()
	return OutputReceivedPayload{
		Version:      Version,
		AccountID:    uint32(id),
		TxHash:       o.Link.TxHash,
		TxPrefixHash: o.TxPrefixHash,
		TxPublic:     o.Spend.TxPublic,
		Height:       uint64(o.Link.Height),
		Timestamp:    o.Timestamp,
		UnlockTime:   o.UnlockTime,
		OutputKey:    o.Pub,
		OutputIndex:  o.Spend.Index,
		GlobalIndex:  o.Spend.ID.Low,
		Amount:       o.Spend.Amount,
		MixinCount:   o.Spend.MixinCount,
		Coinbase:     flags&store.ExtraCoinbase != 0,
		RingCT:       flags&store.ExtraRingCT != 0,
		PaymentID:    paymentID(o.PaymentID[:o.PaymentIDLen()]),
	}
}

func spendPayload(id store.AccountID, s store.Spend) SpendDetectedPayload {
	n := int(s.Length)
	if n > len(s.PaymentID) {
		n = len(s.PaymentID)
	}
	return SpendDetectedPayload{
		Version:           Version,
		AccountID:         uint32(id),
		TxHash:            s.Link.TxHash,
		Height:            uint64(s.Link.Height),
		Timestamp:         s.Timestamp,
		UnlockTime:        s.UnlockTime,
		KeyImage:          s.Image,
		MixinCount:        s.MixinCount,
		SourceAmountIndex: s.Source.High,
		SourceGlobalIndex: s.Source.Low,
		PaymentID:         paymentID(s.PaymentID[:n]),
	}
}

func event(kind string, id store.AccountID, height store.BlockID, payload any) (store.Event, error) {
	b, err := wire.MarshalJSON(payload)
	if err != nil {
		return store.Event{}, fmt.Errorf("events: marshal %s: %w", kind, err)
	}
	return store.Event{Kind: kind, Account: id, Height: height, Payload: b}, nil
}

func OutputReceived(id store.AccountID, o store.Output) (store.Event, error) {
	return event(KindOutputReceived, id, o.Link.Height, outputPayload(id, o))
}

func SpendDetected(id store.AccountID, s store.Spend) (store.Event, error) {
	return event(KindSpendDetected, id, s.Link.Height, spendPayload(id, s))
}

// OutputOrphaned is recorded at the height the chain was rolled back to.
func OutputOrphaned(id store.AccountID, o store.Output, rollback store.BlockID) (store.Event, error) {
	p := OutputOrphanedPayload{OutputReceivedPayload: outputPayload(id, o), OrphanedAtHeight: uint64(rollback)}
	return event(KindOutputOrphaned, id, rollback, p)
}

func SpendOrphaned(id store.AccountID, s store.Spend, rollback store.BlockID) (store.Event, error) {
	p := SpendOrphanedPayload{SpendDetectedPayload: spendPayload(id, s), OrphanedAtHeight: uint64(rollback)}
	return event(KindSpendOrphaned, id, rollback, p)
}

// ForPass returns the events for everything a scan pass found.
func ForPass(p store.Pass) ([]store.Event, error) {
	out := make([]store.Event, 0, len(p.Outputs)+len(p.Spends))
	for _, o := range p.Outputs {
		e, err := OutputReceived(p.Account, o)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for _, s := range p.Spends {
		e, err := SpendDetected(p.Account, s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ForOrphaned returns the events for what a rollback removed.
func ForOrphaned(o store.Orphaned, rollback store.BlockID) ([]store.Event, error) {
	out := make([]store.Event, 0, len(o.Outputs)+len(o.Spends))
	for _, v := range o.Outputs {
		e, err := OutputOrphaned(o.Account, v, rollback)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for _, v := range o.Spends {
		e, err := SpendOrphaned(o.Account, v, rollback)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
