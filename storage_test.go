package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	storage "github.com/coldvault/securestore"
	"github.com/coldvault/securestore/internal/layout"
	"github.com/coldvault/securestore/internal/norcow"
	"github.com/coldvault/securestore/internal/pinlog"
)

// testIters keeps PBKDF2 cost negligible; kek_test.go already exercises the
// derivation itself against the production iteration count.
const testIters = 200

func noDelay(time.Duration) {}

func newStore(n norcow.Norcow) *storage.Store {
	return storage.New(
		storage.WithNorcow(n),
		storage.WithDelayFunc(noDelay),
		storage.WithPinIterations(testIters),
	)
}

func openStore(t *testing.T, n norcow.Norcow) *storage.Store {
	t.Helper()
	s := newStore(n)
	require.NoError(t, s.Init([]byte("hardware-salt")))
	return s
}

// reboot simulates power-cycling the device: a fresh *Store mounted on the
// same backing log, re-run through Init. Session state (unlocked,
// cachedKeys) does not survive; on-flash state does.
func reboot(t *testing.T, n norcow.Norcow) *storage.Store {
	t.Helper()
	return openStore(t, n)
}

// --- End-to-end scenarios ---

func TestFreshInitNoPin(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)

	require.False(t, s.HasPin())

	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	require.NoError(t, s.Set(0x0101, []byte("hello")))

	buf := make([]byte, 16)
	length, ok, err := s.Get(0x0101, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, length)
	require.Equal(t, "hello", string(buf[:length]))
}

func TestSetPinRelockUnlockWrongThenRight(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)

	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	outcome, err = s.ChangePin(layout.PinEmpty, 1234)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	s2 := reboot(t, n)

	outcome, err = s2.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Wrong, outcome)
	require.Equal(t, uint32(15), s2.GetPinRemaining())

	outcome, err = s2.Unlock(1234)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.Equal(t, uint32(16), s2.GetPinRemaining())
}

func TestPublicKeyNeedsUnlockToWriteNotToRead(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)

	const pubKey = storage.Key(0x8101)

	err := s.Set(pubKey, []byte("pub"))
	require.ErrorIs(t, err, storage.ErrLocked)

	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	require.NoError(t, s.Set(pubKey, []byte("pub")))

	s.Lock()

	buf := make([]byte, 8)
	n2, ok, err := s.Get(pubKey, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pub", string(buf[:n2]))
}

func TestReservedAppRejected(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)

	_, ok, err := s.Get(layout.PinLogsKey, make([]byte, 64))
	require.False(t, ok)
	require.ErrorIs(t, err, storage.ErrInvalidKey)

	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	err = s.Set(layout.StorageTagKey, []byte("nope"))
	require.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestTamperedEDEKEventuallyWipes(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	_ = openStore(t, n)

	raw, ok := n.Get(layout.EdekPvcKey)
	require.True(t, ok)
	tampered := append([]byte(nil), raw...)
	tampered[layout.RandomSaltLen] ^= 0xFF // flip a byte inside the encrypted DEK||SAK
	require.NoError(t, n.Set(layout.EdekPvcKey, tampered))

	s2 := reboot(t, n)

	var halted bool
	for i := 0; i < int(pinlog.MaxTries); i++ {
		outcome, err := s2.Unlock(layout.PinEmpty)
		if err != nil {
			require.ErrorIs(t, err, storage.ErrDeviceHalted)
			require.Equal(t, storage.Fault, outcome)
			halted = true
			break
		}
		require.Equal(t, storage.Wrong, outcome)
	}
	require.True(t, halted, "tampering the EDEK must eventually exhaust attempts and halt")
	require.False(t, s2.HasPin(), "a wipe reinstates the empty PIN")
}

func TestExhaustingAttemptsWipes(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)

	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	outcome, err = s.ChangePin(layout.PinEmpty, 1234)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	s2 := reboot(t, n)

	for i := 0; i < int(pinlog.MaxTries)-1; i++ {
		outcome, err := s2.Unlock(0)
		require.NoError(t, err)
		require.Equal(t, storage.Wrong, outcome)
	}

	outcome, err = s2.Unlock(0)
	require.ErrorIs(t, err, storage.ErrDeviceHalted)
	require.Equal(t, storage.Fault, outcome)

	require.False(t, s2.HasPin())
}

// --- Quantified properties (guard-key validity is covered directly
// against pinlog.CheckGuardKey in internal/pinlog/pinlog_test.go) ---

func TestWrongAttemptsThenCorrectUnlocksAndResetsCounter(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	outcome, err = s.ChangePin(layout.PinEmpty, 9999)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	s2 := reboot(t, n)
	for i := 0; i < 5; i++ {
		outcome, err := s2.Unlock(1111)
		require.NoError(t, err)
		require.Equal(t, storage.Wrong, outcome)
	}

	outcome, err = s2.Unlock(9999)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.Equal(t, uint32(16), s2.GetPinRemaining())
}

func TestSixteenWrongAttemptsWipesAndReinstatesEmptyPin(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	outcome, err = s.ChangePin(layout.PinEmpty, 4242)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	s2 := reboot(t, n)
	var halted bool
	for i := 0; i < int(pinlog.MaxTries); i++ {
		outcome, err := s2.Unlock(0)
		if err != nil {
			require.ErrorIs(t, err, storage.ErrDeviceHalted)
			halted = true
			break
		}
		require.Equal(t, storage.Wrong, outcome)
	}
	require.True(t, halted)
	require.False(t, s2.HasPin())
}

func TestSetGetDeleteRoundTripPreservesTagVerification(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	require.NoError(t, s.Set(0x0102, []byte("value")))
	buf := make([]byte, 16)
	n2, ok, err := s.Get(0x0102, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", string(buf[:n2]))

	require.NoError(t, s.Delete(0x0102))
	_, ok, err = s.Get(0x0102, buf)
	require.NoError(t, err)
	require.False(t, ok)

	// The tag is re-verified on every unlock; a live tag lets relocking and
	// unlocking again succeed without tripping the fault handler.
	s.Lock()
	outcome, err = s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
}

func TestFlippedProtectedEntryByteFaultsOnRead(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.NoError(t, s.Set(0x0103, []byte("tamper me")))

	raw, ok := n.Get(0x0103)
	require.True(t, ok)
	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 0xFF
	require.NoError(t, n.Set(0x0103, tampered))

	_, _, err = s.Get(0x0103, make([]byte, 16))
	require.ErrorIs(t, err, storage.ErrDeviceHalted)
}

func TestFlippedStorageTagFaultsOnUnlock(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.NoError(t, s.Set(0x0104, []byte("payload")))

	tag, ok := n.Get(layout.StorageTagKey)
	require.True(t, ok)
	tampered := append([]byte(nil), tag...)
	tampered[0] ^= 0xFF
	require.NoError(t, n.Set(layout.StorageTagKey, tampered))

	s.Lock()
	outcome, err = s.Unlock(layout.PinEmpty)
	require.ErrorIs(t, err, storage.ErrDeviceHalted)
	require.Equal(t, storage.Fault, outcome)
}

func TestIllegalPinLogBitFaultsOnFailCount(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)

	raw, ok := n.Get(layout.PinLogsKey)
	require.True(t, ok)
	corrupted := append([]byte(nil), raw...)
	// Zero the first success-log word: it can no longer match the
	// (unchanged) guard key, which must trip a fault.
	corrupted[4], corrupted[5], corrupted[6], corrupted[7] = 0, 0, 0, 0
	require.NoError(t, n.Set(layout.PinLogsKey, corrupted))

	require.Equal(t, uint32(0), s.GetPinRemaining())
}

func TestSetPinThenUnlockMatchesOrFailsWithCounter(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	outcome, err = s.ChangePin(layout.PinEmpty, 2468)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	right := reboot(t, n)
	outcome, err = right.Unlock(2468)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	wrong := reboot(t, n)
	outcome, err = wrong.Unlock(1357)
	require.NoError(t, err)
	require.Equal(t, storage.Wrong, outcome)
	require.Equal(t, uint32(15), wrong.GetPinRemaining())
}

func TestWipeRoundTrip(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	outcome, err = s.ChangePin(layout.PinEmpty, 3344)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.NoError(t, s.Set(0x0105, []byte("will be gone")))

	require.NoError(t, s.Wipe())

	require.False(t, s.HasPin())
	require.Equal(t, uint32(16), s.GetPinRemaining())

	outcome, err = s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)

	_, ok, err := s.Get(0x0105, make([]byte, 16))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpgradeFromV0PreservesPinEntriesAndFailCount(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(0)
	require.NoError(t, n.Set(layout.V0PinKey, []byte{210, 4, 0, 0})) // little-endian 1234
	require.NoError(t, n.Set(layout.V0PinFailKey, []byte{0xF8, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, n.Set(0x0106, []byte("legacy plaintext")))       // protected under v0
	require.NoError(t, n.Set(0x8106, []byte("legacy public")))          // public, copied verbatim

	s := openStore(t, n)

	require.Equal(t, uint32(16-3), s.GetPinRemaining())

	buf := make([]byte, 16)
	n2, ok, err := s.Get(0x8106, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "legacy public", string(buf[:n2]))

	outcome, err := s.Unlock(1234)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.Equal(t, uint32(16), s.GetPinRemaining())

	buf = make([]byte, 32)
	n2, ok, err = s.Get(0x0106, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "legacy plaintext", string(buf[:n2]))
}

// --- Miscellaneous API behavior not already covered above ---

func TestInit_RejectsSecondCall(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	require.ErrorIs(t, s.Init([]byte("again")), storage.ErrAlreadyInitialized)
}

func TestMethods_RequireInitFirst(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := newStore(n)

	_, _, err := s.Get(0x0101, make([]byte, 8))
	require.ErrorIs(t, err, storage.ErrNotInitialized)

	err = s.Set(0x0101, []byte("x"))
	require.ErrorIs(t, err, storage.ErrNotInitialized)

	_, err = s.Unlock(layout.PinEmpty)
	require.ErrorIs(t, err, storage.ErrNotInitialized)
}

func TestGet_BufferTooSmall(t *testing.T) {
	t.Parallel()

	n := norcow.NewMem(layout.CurrentVersion)
	s := openStore(t, n)
	outcome, err := s.Unlock(layout.PinEmpty)
	require.NoError(t, err)
	require.Equal(t, storage.Ok, outcome)
	require.NoError(t, s.Set(0x0107, []byte("too long for the buffer")))

	_, ok, err := s.Get(0x0107, make([]byte, 4))
	require.ErrorIs(t, err, storage.ErrBufferTooSmall)
	require.True(t, ok)
}
