package keys

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Network selects address tag bytes.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Stagenet
)

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mainnet", "main":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	case "stagenet", "stage":
		return Stagenet, nil
	default:
		return 0, fmt.Errorf("keys: unknown network %q", s)
	}
}

func (n Network) String() string {
	switch n {
	case Testnet:
		return "testnet"
	case Stagenet:
		return "stagenet"
	default:
		return "mainnet"
	}
}

func (n Network) addressTag() uint64 {
	switch n {
	case Testnet:
		return 53
	case Stagenet:
		return 24
	default:
		return 18
	}
}

var (
	ErrAddressEncoding = errors.New("keys: malformed address")
	ErrAddressChecksum = errors.New("keys: address checksum mismatch")
	ErrAddressNetwork  = errors.New("keys: address is for another network or type")
)

// Address is the public half of a standard account: spend key and view key.
type Address struct {
	Spend PublicKey
	View  PublicKey
}

// FormatAddress encodes a standard address. The encoded payload lists the
// spend key before the view key.
func FormatAddress(n Network, a Address) string {
	buf := AppendVarint(nil, n.addressTag())
	buf = append(buf, a.Spend[:]...)
	buf = append(buf, a.View[:]...)
	sum := Keccak256(buf)
	buf = append(buf, sum[:4]...)
	return base58Encode(buf)
}

// ParseAddress decodes a standard address for network n. Integrated and
// subaddress forms are rejected.
func ParseAddress(n Network, s string) (Address, error) {
	raw, err := base58Decode(strings.TrimSpace(s))
	if err != nil {
		return Address{}, err
	}
	tag, used, err := ReadVarint(raw)
	if err != nil {
		return Address{}, ErrAddressEncoding
	}
	if len(raw) != used+64+4 {
		return Address{}, ErrAddressEncoding
	}
	body := raw[:len(raw)-4]
	sum := Keccak256(body)
	if string(sum[:4]) != string(raw[len(raw)-4:]) {
		return Address{}, ErrAddressChecksum
	}
	if tag != n.addressTag() {
		return Address{}, ErrAddressNetwork
	}
	var a Address
	copy(a.Spend[:], body[used:used+32])
	copy(a.View[:], body[used+32:])
	if _, err := point(a.Spend); err != nil {
		return Address{}, err
	}
	if _, err := point(a.View); err != nil {
		return Address{}, err
	}
	return a, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	fullBlockSize        = 8
	fullEncodedBlockSize = 11
)

var encodedBlockSizes = [fullBlockSize + 1]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var base58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		idx[base58Alphabet[i]] = int8(i)
	}
	return idx
}()

// base58Encode is the CryptoNote block variant: 8 byte blocks map to 11
// characters and the final partial block to a fixed shorter width.
func base58Encode(data []byte) string {
	var out strings.Builder
	for len(data) > 0 {
		n := min(len(data), fullBlockSize)
		encodeBlock(&out, data[:n])
		data = data[n:]
	}
	return out.String()
}

func encodeBlock(out *strings.Builder, block []byte) {
	var num uint64
	for _, b := range block {
		num = num<<8 | uint64(b)
	}
	size := encodedBlockSizes[len(block)]
	buf := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		buf[i] = base58Alphabet[num%58]
		num /= 58
	}
	out.Write(buf)
}

func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrAddressEncoding
	}
	full := len(s) / fullEncodedBlockSize
	lastSize := len(s) % fullEncodedBlockSize
	lastDecoded := -1
	for i, sz := range encodedBlockSizes {
		if sz == lastSize {
			lastDecoded = i
			break
		}
	}
	if lastDecoded < 0 {
		return nil, ErrAddressEncoding
	}
	out := make([]byte, 0, full*fullBlockSize+lastDecoded)
	for i := 0; i < full; i++ {
		b, err := decodeBlock(s[i*fullEncodedBlockSize:(i+1)*fullEncodedBlockSize], fullBlockSize)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	if lastSize > 0 {
		b, err := decodeBlock(s[full*fullEncodedBlockSize:], lastDecoded)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func decodeBlock(s string, size int) ([]byte, error) {
	var num uint64
	for i := 0; i < len(s); i++ {
		d := base58Index[s[i]]
		if d < 0 {
			return nil, ErrAddressEncoding
		}
		hi, lo := bits.Mul64(num, 58)
		sum, carry := bits.Add64(lo, uint64(d), 0)
		if hi != 0 || carry != 0 {
			return nil, ErrAddressEncoding
		}
		num = sum
	}
	if size < fullBlockSize && num>>(8*uint(size)) != 0 {
		return nil, ErrAddressEncoding
	}
	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(num)
		num >>= 8
	}
	return out, nil
}
