package authtag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/securestore/internal/authtag"
	"github.com/coldvault/securestore/internal/norcow"
)

const tagKey norcow.Key = 0x0005

func noTrip(t *testing.T) func(string) {
	t.Helper()
	return func(reason string) { t.Fatalf("unexpected trip: %s", reason) }
}

func sak(b byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = b
	}
	return out
}

// protectedKey is any key whose app byte is neither APP_STORAGE (0x00)
// nor has the FLAG_PUBLIC bit (0x80) set.
const protectedKey norcow.Key = 0x0101
const publicKey norcow.Key = 0x8101

func TestInit_ThenVerifyAllOnEmptyLog(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(1)
	sum, err := authtag.Init(n, tagKey, sak(0x42))
	require.NoError(t, err)
	require.Equal(t, [authtag.SumLen]byte{}, sum)

	got := authtag.VerifyAll(n, tagKey, sak(0x42), noTrip(t))
	require.Equal(t, sum, got)
}

func TestUpdate_FoldsProtectedKeyIntoSum(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(1)
	key := sak(0x01)
	sum, err := authtag.Init(n, tagKey, key)
	require.NoError(t, err)
	require.NoError(t, n.Set(protectedKey, []byte("ciphertext")))

	sum, err = authtag.Update(n, tagKey, protectedKey, key, sum)
	require.NoError(t, err)
	require.NotEqual(t, [authtag.SumLen]byte{}, sum)

	recomputed := authtag.VerifyAll(n, tagKey, key, noTrip(t))
	require.Equal(t, sum, recomputed)
}

func TestUpdate_IgnoresPublicKeys(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(1)
	key := sak(0x02)
	sum, err := authtag.Init(n, tagKey, key)
	require.NoError(t, err)
	require.NoError(t, n.Set(publicKey, []byte("cleartext")))

	got, err := authtag.Update(n, tagKey, publicKey, key, sum)
	require.NoError(t, err)
	require.Equal(t, sum, got, "updating a public key must be a no-op for the sum")
}

func TestUpdate_TwiceRemovesAFingerprintWhenXORedAgain(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(1)
	key := sak(0x03)
	sum, err := authtag.Init(n, tagKey, key)
	require.NoError(t, err)
	require.NoError(t, n.Set(protectedKey, []byte("v1")))

	sum, err = authtag.Update(n, tagKey, protectedKey, key, sum)
	require.NoError(t, err)

	// Folding the same key's fingerprint in again (as Delete does) must
	// return the sum to its pre-insert value, since XOR is its own
	// inverse.
	back, err := authtag.Update(n, tagKey, protectedKey, key, sum)
	require.NoError(t, err)
	require.Equal(t, [authtag.SumLen]byte{}, back)
}

func TestVerifyAll_DetectsTamperedTag(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(1)
	key := sak(0x04)
	sum, err := authtag.Init(n, tagKey, key)
	require.NoError(t, err)
	require.NoError(t, n.Set(protectedKey, []byte("v1")))
	_, err = authtag.Update(n, tagKey, protectedKey, key, sum)
	require.NoError(t, err)

	tag, ok := n.Get(tagKey)
	require.True(t, ok)
	tampered := append([]byte(nil), tag...)
	tampered[0] ^= 0xFF
	require.NoError(t, n.Set(tagKey, tampered))

	tripped := false
	authtag.VerifyAll(n, tagKey, key, func(string) { tripped = true })
	require.True(t, tripped)
}

func TestVerify_ReturnsRequestedValueInTheSamePass(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(1)
	key := sak(0x05)
	sum, err := authtag.Init(n, tagKey, key)
	require.NoError(t, err)
	require.NoError(t, n.Set(protectedKey, []byte("the value")))
	_, err = authtag.Update(n, tagKey, protectedKey, key, sum)
	require.NoError(t, err)

	value, found, _ := authtag.Verify(n, tagKey, protectedKey, key, noTrip(t))
	require.True(t, found)
	require.Equal(t, []byte("the value"), value)
}
