package keys

import (
	"crypto/rand"
	"strings"
	"testing"

	"filippo.io/edwards25519"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T) SecretKey {
	t.Helper()
	var wide [64]byte
	_, err := rand.Read(wide[:])
	require.NoError(t, err)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	require.NoError(t, err)
	var k SecretKey
	copy(k[:], s.Bytes())
	return k
}

func randomKeypair(t *testing.T) (SecretKey, PublicKey) {
	t.Helper()
	k := randomSecret(t)
	pub, err := PublicFromSecret(k)
	require.NoError(t, err)
	return k, pub
}

func TestVarint_RoundTripAndCanonical(t *testing.T) {
	for _, n := range []uint64{0, 1, 127, 128, 300, 1 << 32, ^uint64(0)} {
		b := AppendVarint(nil, n)
		got, used, err := ReadVarint(b)
		require.NoError(t, err)
		require.Equal(t, n, got)
		require.Equal(t, len(b), used)
	}

	_, _, err := ReadVarint([]byte{0x80, 0x00})
	require.Error(t, err)
	_, _, err = ReadVarint([]byte{0x80})
	require.Error(t, err)
}

func TestAddress_RoundTrip(t *testing.T) {
	_, spend := randomKeypair(t)
	_, view := randomKeypair(t)
	a := Address{Spend: spend, View: view}

	s := FormatAddress(Mainnet, a)
	require.Len(t, s, 95)
	require.True(t, strings.HasPrefix(s, "4"))

	got, err := ParseAddress(Mainnet, s)
	require.NoError(t, err)
	require.Equal(t, a, got)

	stage := FormatAddress(Stagenet, a)
	require.True(t, strings.HasPrefix(stage, "5"))
	_, err = ParseAddress(Mainnet, stage)
	require.ErrorIs(t, err, ErrAddressNetwork)
}

func TestAddress_Rejects(t *testing.T) {
	_, spend := randomKeypair(t)
	_, view := randomKeypair(t)
	s := FormatAddress(Mainnet, Address{Spend: spend, View: view})

	flip := []byte(s)
	if flip[50] == '2' {
		flip[50] = '3'
	} else {
		flip[50] = '2'
	}
	_, err := ParseAddress(Mainnet, string(flip))
	require.Error(t, err)

	_, err = ParseAddress(Mainnet, s[:90])
	require.ErrorIs(t, err, ErrAddressEncoding)

	_, err = ParseAddress(Mainnet, "0"+s[1:])
	require.ErrorIs(t, err, ErrAddressEncoding)

	_, err = ParseAddress(Mainnet, "")
	require.ErrorIs(t, err, ErrAddressEncoding)
}

func TestBase58_PartialBlocks(t *testing.T) {
	for n := 0; n <= 20; n++ {
		in := make([]byte, n)
		for i := range in {
			in[i] = byte(0xff - i)
		}
		if n == 0 {
			continue
		}
		out, err := base58Decode(base58Encode(in))
		require.NoError(t, err)
		require.Equal(t, in, out)
	}
}

func TestViewKeyMatches(t *testing.T) {
	view, viewPub := randomKeypair(t)
	require.True(t, ViewKeyMatches(view, viewPub))

	other := randomSecret(t)
	require.False(t, ViewKeyMatches(other, viewPub))

	var bad SecretKey
	for i := range bad {
		bad[i] = 0xff
	}
	require.False(t, ViewKeyMatches(bad, viewPub))
}

func TestOutputOwnership(t *testing.T) {
	view, viewPub := randomKeypair(t)
	_, spendPub := randomKeypair(t)
	r, R := randomKeypair(t)

	// Sender side uses r·A, receiver side a·R.
	sender, err := Derive(viewPub, r)
	require.NoError(t, err)
	receiver, err := Derive(R, view)
	require.NoError(t, err)
	require.Equal(t, sender, receiver)

	out, err := DerivePublicKey(sender, 3, spendPub)
	require.NoError(t, err)
	require.True(t, OwnsOutput(receiver, 3, spendPub, out))
	require.False(t, OwnsOutput(receiver, 4, spendPub, out))

	_, otherSpend := randomKeypair(t)
	require.False(t, OwnsOutput(receiver, 3, otherSpend, out))

	require.Equal(t, ViewTag(sender, 3), ViewTag(receiver, 3))
}

func TestAmount_CompactRoundTrip(t *testing.T) {
	_, viewPub := randomKeypair(t)
	r, _ := randomKeypair(t)
	d, err := Derive(viewPub, r)
	require.NoError(t, err)

	info, mask := EncodeAmount(d, 1, RCTTypeBulletproofPlus, 123456789)
	amount, gotMask, err := DecodeAmount(d, 1, RCTTypeBulletproofPlus, info)
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), amount)
	require.Equal(t, mask, gotMask)

	c, err := Commit(mask, amount)
	require.NoError(t, err)
	require.True(t, VerifyCommitment(c, gotMask, amount))
	require.False(t, VerifyCommitment(c, gotMask, amount+1))

	wrong, _, err := DecodeAmount(d, 2, RCTTypeBulletproofPlus, info)
	require.NoError(t, err)
	require.NotEqual(t, uint64(123456789), wrong)
}

func TestAmount_LegacyRoundTrip(t *testing.T) {
	_, viewPub := randomKeypair(t)
	r, _ := randomKeypair(t)
	d, err := Derive(viewPub, r)
	require.NoError(t, err)

	info, mask := EncodeAmount(d, 0, RCTTypeSimple, 42)
	amount, gotMask, err := DecodeAmount(d, 0, RCTTypeSimple, info)
	require.NoError(t, err)
	require.Equal(t, uint64(42), amount)
	require.Equal(t, mask, gotMask)

	c, err := Commit(mask, 42)
	require.NoError(t, err)
	require.True(t, VerifyCommitment(c, gotMask, 42))
}

func TestIdentityMaskCommitment(t *testing.T) {
	// A cleartext coinbase commitment is G + amount·H.
	c, err := Commit(IdentityMask(), 5)
	require.NoError(t, err)
	require.True(t, VerifyCommitment(c, IdentityMask(), 5))
}

func TestDecryptPaymentID_Involution(t *testing.T) {
	_, viewPub := randomKeypair(t)
	r, _ := randomKeypair(t)
	d, err := Derive(viewPub, r)
	require.NoError(t, err)

	id := Hash8{1, 2, 3, 4, 5, 6, 7, 8}
	enc := DecryptPaymentID(d, id)
	require.NotEqual(t, id, enc)
	require.Equal(t, id, DecryptPaymentID(d, enc))
}

func TestKeccak256_Empty(t *testing.T) {
	require.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak256().String())
}
