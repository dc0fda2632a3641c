package keys

import (
	"crypto/subtle"
	"encoding/binary"

	"filippo.io/edwards25519"
)

// RingCT signature types as carried on the wire.
const (
	RCTTypeNull             = 0
	RCTTypeFull             = 1
	RCTTypeSimple           = 2
	RCTTypeBulletproof      = 3
	RCTTypeBulletproof2     = 4
	RCTTypeCLSAG            = 5
	RCTTypeBulletproofPlus  = 6
	encryptedPaymentIDTweak = 0x8d
)

// commitmentH is the RingCT amount generator H.
var commitmentH = mustPoint("8b655970153799af2aeadc9ff1add0ea6c7251d54154cfa92c173a0dd39c1f94")

func mustPoint(s string) *edwards25519.Point {
	b, err := ParseHash32(s)
	if err != nil {
		panic(err)
	}
	p, err := point(b)
	if err != nil {
		panic(err)
	}
	return p
}

// Derive computes the shared derivation 8·a·R between a view secret and a
// transaction public key.
func Derive(txPub PublicKey, view SecretKey) (Derivation, error) {
	R, err := point(txPub)
	if err != nil {
		return Derivation{}, err
	}
	a, err := scalar(view)
	if err != nil {
		return Derivation{}, err
	}
	D := new(edwards25519.Point).ScalarMult(a, R)
	D.MultByCofactor(D)
	var out Derivation
	copy(out[:], D.Bytes())
	return out, nil
}

func derivationScalar(d Derivation, index uint64) *edwards25519.Scalar {
	return hashToScalar(d[:], AppendVarint(nil, index))
}

// DerivePublicKey returns Hs(D || index)·G + spend, the one-time key of
// output index paid to spend.
func DerivePublicKey(d Derivation, index uint64, spend PublicKey) (PublicKey, error) {
	B, err := point(spend)
	if err != nil {
		return PublicKey{}, err
	}
	P := new(edwards25519.Point).ScalarBaseMult(derivationScalar(d, index))
	P.Add(P, B)
	var out PublicKey
	copy(out[:], P.Bytes())
	return out, nil
}

// ViewTag is the one byte hint carried by tagged outputs.
func ViewTag(d Derivation, index uint64) byte {
	h := Keccak256([]byte("view_tag"), d[:], AppendVarint(nil, index))
	return h[0]
}

// OwnsOutput reports whether outputKey at index was paid to spend under
// derivation d.
func OwnsOutput(d Derivation, index uint64, spend PublicKey, outputKey PublicKey) bool {
	p, err := DerivePublicKey(d, index, spend)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(p[:], outputKey[:]) == 1
}

// ECDHInfo is the encrypted amount tuple of one RingCT output.
type ECDHInfo struct {
	Mask   [32]byte
	Amount [32]byte
}

// DecodeAmount recovers the amount and commitment mask of output index.
func DecodeAmount(d Derivation, index uint64, rctType int, info ECDHInfo) (uint64, [32]byte, error) {
	shared := derivationScalar(d, index)
	secret := shared.Bytes()

	if rctType >= RCTTypeBulletproof2 {
		pad := Keccak256([]byte("amount"), secret)
		var enc [8]byte
		copy(enc[:], info.Amount[:8])
		for i := range enc {
			enc[i] ^= pad[i]
		}
		mask := hashToScalar([]byte("commitment_mask"), secret)
		var m [32]byte
		copy(m[:], mask.Bytes())
		return binary.LittleEndian.Uint64(enc[:]), m, nil
	}

	s1 := hashToScalar(secret)
	s2 := hashToScalar(s1.Bytes())
	maskEnc, err := scalar(info.Mask)
	if err != nil {
		return 0, [32]byte{}, err
	}
	amountEnc, err := scalar(info.Amount)
	if err != nil {
		return 0, [32]byte{}, err
	}
	mask := edwards25519.NewScalar().Subtract(maskEnc, s1)
	amount := edwards25519.NewScalar().Subtract(amountEnc, s2)
	var m [32]byte
	copy(m[:], mask.Bytes())
	return binary.LittleEndian.Uint64(amount.Bytes()[:8]), m, nil
}

// EncodeAmount is the sender side of DecodeAmount.
func EncodeAmount(d Derivation, index uint64, rctType int, amount uint64) (ECDHInfo, [32]byte) {
	shared := derivationScalar(d, index)
	secret := shared.Bytes()
	var info ECDHInfo

	if rctType >= RCTTypeBulletproof2 {
		pad := Keccak256([]byte("amount"), secret)
		binary.LittleEndian.PutUint64(info.Amount[:8], amount)
		for i := 0; i < 8; i++ {
			info.Amount[i] ^= pad[i]
		}
		var m [32]byte
		copy(m[:], hashToScalar([]byte("commitment_mask"), secret).Bytes())
		return info, m
	}

	s1 := hashToScalar(secret)
	s2 := hashToScalar(s1.Bytes())
	mask := hashToScalar([]byte("legacy_mask"), secret)
	copy(info.Mask[:], edwards25519.NewScalar().Add(mask, s1).Bytes())
	copy(info.Amount[:], edwards25519.NewScalar().Add(amountScalar(amount), s2).Bytes())
	var m [32]byte
	copy(m[:], mask.Bytes())
	return info, m
}

func amountScalar(amount uint64) *edwards25519.Scalar {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[:8], amount)
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b[:])
	if err != nil {
		panic(err)
	}
	return s
}

// Commit returns mask·G + amount·H.
func Commit(mask [32]byte, amount uint64) (PublicKey, error) {
	m, err := scalar(mask)
	if err != nil {
		return PublicKey{}, err
	}
	C := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(amountScalar(amount), commitmentH, m)
	var out PublicKey
	copy(out[:], C.Bytes())
	return out, nil
}

// VerifyCommitment reports whether commitment opens to mask and amount.
func VerifyCommitment(commitment PublicKey, mask [32]byte, amount uint64) bool {
	c, err := Commit(mask, amount)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(c[:], commitment[:]) == 1
}

// IdentityMask is the mask of cleartext coinbase amounts.
func IdentityMask() [32]byte {
	var m [32]byte
	m[0] = 1
	return m
}

// DecryptPaymentID unmasks an 8 byte encrypted payment id.
func DecryptPaymentID(d Derivation, id Hash8) Hash8 {
	pad := Keccak256(d[:], []byte{encryptedPaymentIDTweak})
	for i := range id {
		id[i] ^= pad[i]
	}
	return id
}
