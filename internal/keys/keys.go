// Package keys holds the CryptoNote primitives the scanner and the REST API
// depend on: the address codec, view key checks, stealth output derivation
// and RingCT amount decoding.
package keys

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// ScalarSize is the width of an encoded ed25519 scalar.
const ScalarSize = 32

type (
	PublicKey  [32]byte
	SecretKey  [ScalarSize]byte
	KeyImage   [32]byte
	Hash       [32]byte
	Hash8      [8]byte
	Derivation [32]byte
)

var (
	ErrInvalidPoint  = errors.New("keys: invalid point")
	ErrInvalidScalar = errors.New("keys: invalid scalar")
)

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }
func (h Hash) String() string      { return hex.EncodeToString(h[:]) }
func (k KeyImage) String() string  { return hex.EncodeToString(k[:]) }

func (k PublicKey) MarshalText() ([]byte, error) { return hexText(k[:]), nil }
func (h Hash) MarshalText() ([]byte, error)      { return hexText(h[:]), nil }
func (k KeyImage) MarshalText() ([]byte, error)  { return hexText(k[:]), nil }

func (k *PublicKey) UnmarshalText(b []byte) error { return unhexText((*[32]byte)(k), b) }
func (h *Hash) UnmarshalText(b []byte) error      { return unhexText((*[32]byte)(h), b) }
func (k *KeyImage) UnmarshalText(b []byte) error  { return unhexText((*[32]byte)(k), b) }

func unhexText(dst *[32]byte, b []byte) error {
	v, err := ParseHash32(string(b))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func hexText(b []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out
}

// ParseHash32 decodes a 64 character hex string.
func ParseHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("keys: hex: %w", err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("keys: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func (k SecretKey) Equal(o SecretKey) bool {
	return subtle.ConstantTimeCompare(k[:], o[:]) == 1
}

// Keccak256 is the original (pre-FIPS) Keccak used by CryptoNote chains.
func Keccak256(parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// AppendVarint appends n in the 7-bit little-endian varint encoding.
func AppendVarint(dst []byte, n uint64) []byte {
	for n >= 0x80 {
		dst = append(dst, byte(n)|0x80)
		n >>= 7
	}
	return append(dst, byte(n))
}

// ReadVarint decodes a varint from the front of b and returns the value and
// the number of bytes consumed.
func ReadVarint(b []byte) (uint64, int, error) {
	var n uint64
	for i := 0; i < len(b) && i < 10; i++ {
		n |= uint64(b[i]&0x7f) << (7 * uint(i))
		if b[i]&0x80 == 0 {
			if i > 0 && b[i] == 0 {
				return 0, 0, errors.New("keys: non-canonical varint")
			}
			return n, i + 1, nil
		}
	}
	return 0, 0, errors.New("keys: truncated varint")
}

func hashToScalar(parts ...[]byte) *edwards25519.Scalar {
	h := Keccak256(parts...)
	var wide [64]byte
	copy(wide[:], h[:])
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		panic(fmt.Sprintf("keys: uniform scalar: %v", err))
	}
	return s
}

func point(b [32]byte) (*edwards25519.Point, error) {
	p, err := new(edwards25519.Point).SetBytes(b[:])
	if err != nil {
		return nil, ErrInvalidPoint
	}
	return p, nil
}

func scalar(b [32]byte) (*edwards25519.Scalar, error) {
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b[:])
	if err != nil {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

// PublicFromSecret returns k·G.
func PublicFromSecret(k SecretKey) (PublicKey, error) {
	s, err := scalar(k)
	if err != nil {
		return PublicKey{}, err
	}
	var out PublicKey
	copy(out[:], new(edwards25519.Point).ScalarBaseMult(s).Bytes())
	return out, nil
}

// ViewKeyMatches reports whether view is the secret half of viewPublic.
func ViewKeyMatches(view SecretKey, viewPublic PublicKey) bool {
	pub, err := PublicFromSecret(view)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(pub[:], viewPublic[:]) == 1
}
