package daemon

import (
	"errors"
	"fmt"

	"github.com/Abdullah1738/lws-scan/internal/keys"
)

const (
	extraPadding    = 0x00
	extraPubKey     = 0x01
	extraNonce      = 0x02
	extraMergeMine  = 0x03
	extraAdditional = 0x04
	extraMinergate  = 0xde

	nonceLongPaymentID      = 0x00
	nonceEncryptedPaymentID = 0x01
)

var ErrExtraMalformed = errors.New("daemon: malformed tx extra")

// Extra holds the fields of tx extra the scanner reads.
type Extra struct {
	TxPub              keys.PublicKey
	HasTxPub           bool
	AdditionalPubs     []keys.PublicKey
	PaymentID          *keys.Hash
	EncryptedPaymentID *keys.Hash8
}

// ParseExtra walks the tagged fields of tx extra. On malformed input it
// returns the fields read so far together with ErrExtraMalformed. Only the
// first tx public key is kept.
func ParseExtra(b []byte) (Extra, error) {
	var out Extra
	for len(b) > 0 {
		tag := b[0]
		b = b[1:]
		switch tag {
		case extraPadding:
			for _, c := range b {
				if c != 0 {
					return out, fmt.Errorf("%w: non-zero padding", ErrExtraMalformed)
				}
			}
			return out, nil
		case extraPubKey:
			if len(b) < 32 {
				return out, fmt.Errorf("%w: short tx pub key", ErrExtraMalformed)
			}
			if !out.HasTxPub {
				copy(out.TxPub[:], b[:32])
				out.HasTxPub = true
			}
			b = b[32:]
		case extraNonce:
			nonce, rest, err := lengthPrefixed(b)
			if err != nil {
				return out, err
			}
			b = rest
			parseNonce(&out, nonce)
		case extraAdditional:
			n, used, err := keys.ReadVarint(b)
			if err != nil {
				return out, fmt.Errorf("%w: additional pub keys: %v", ErrExtraMalformed, err)
			}
			b = b[used:]
			if n > uint64(len(b)/32) {
				return out, fmt.Errorf("%w: short additional pub keys", ErrExtraMalformed)
			}
			pubs := make([]keys.PublicKey, n)
			for i := range pubs {
				copy(pubs[i][:], b[:32])
				b = b[32:]
			}
			if out.AdditionalPubs == nil {
				out.AdditionalPubs = pubs
			}
		case extraMergeMine, extraMinergate:
			_, rest, err := lengthPrefixed(b)
			if err != nil {
				return out, err
			}
			b = rest
		default:
			return out, fmt.Errorf("%w: unknown tag 0x%02x", ErrExtraMalformed, tag)
		}
	}
	return out, nil
}

func lengthPrefixed(b []byte) ([]byte, []byte, error) {
	n, used, err := keys.ReadVarint(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: length: %v", ErrExtraMalformed, err)
	}
	b = b[used:]
	if n > uint64(len(b)) {
		return nil, nil, fmt.Errorf("%w: field overruns extra", ErrExtraMalformed)
	}
	return b[:n], b[n:], nil
}

func parseNonce(out *Extra, nonce []byte) {
	if len(nonce) == 0 {
		return
	}
	switch {
	case nonce[0] == nonceLongPaymentID && len(nonce) == 33:
		var id keys.Hash
		copy(id[:], nonce[1:])
		out.PaymentID = &id
	case nonce[0] == nonceEncryptedPaymentID && len(nonce) == 9:
		var id keys.Hash8
		copy(id[:], nonce[1:])
		out.EncryptedPaymentID = &id
	}
}

// RawPaymentID returns the payment id as carried, without decrypting a
// short one.
func (e Extra) RawPaymentID() (int, [32]byte) {
	var out [32]byte
	switch {
	case e.PaymentID != nil:
		return copy(out[:], e.PaymentID[:]), out
	case e.EncryptedPaymentID != nil:
		return copy(out[:], e.EncryptedPaymentID[:]), out
	}
	return 0, out
}
