package storage

import (
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/coldvault/securestore/internal/authtag"
	"github.com/coldvault/securestore/internal/entrycrypt"
	"github.com/coldvault/securestore/internal/fault"
	"github.com/coldvault/securestore/internal/kek"
	"github.com/coldvault/securestore/internal/layout"
	"github.com/coldvault/securestore/internal/pinlog"
	"github.com/coldvault/securestore/internal/primitive"
)

// setPinWithKeysLocked samples a fresh random salt, derives KEK/KEIV from
// pin, seals keys (48 B DEK||SAK) into EDEK_PVC, and records whether the
// PIN is the empty sentinel.
func (s *Store) setPinWithKeysLocked(pin uint32, keys []byte) error {
	if len(keys) != layout.KeysLen {
		return fmt.Errorf("storage: keys must be %d bytes, got %d", layout.KeysLen, len(keys))
	}

	randomSalt, err := primitive.RandomBytes(layout.RandomSaltLen)
	if err != nil {
		return fmt.Errorf("storage: unable to generate EDEK salt: %w", err)
	}

	kekVal, keivVal, err := kek.Derive(pin, randomSalt, s.hardwareSalt[:], s.iterCount(), s.kekProgress)
	if err != nil {
		return fmt.Errorf("storage: unable to derive KEK: %w", err)
	}
	defer primitive.Zero(kekVal[:])
	defer primitive.Zero(keivVal[:])

	record, err := sealEDEK(kekVal, keivVal, randomSalt, keys)
	if err != nil {
		return fmt.Errorf("storage: unable to seal EDEK: %w", err)
	}
	if err := s.n.Set(layout.EdekPvcKey, record); err != nil {
		return fmt.Errorf("storage: unable to persist EDEK_PVC: %w", err)
	}

	pinNotSet := byte(0x00)
	if pin == layout.PinEmpty {
		pinNotSet = 0x01
	}
	if err := s.n.Set(layout.PinNotSetKey, []byte{pinNotSet}); err != nil {
		return fmt.Errorf("storage: unable to persist PIN_NOT_SET: %w", err)
	}
	return nil
}

// kekProgress adapts the package-level ProgressFunc's (remaining, percent)
// signature to kek.ProgressFunc's no-argument tick, since KEK derivation
// happens outside the exponential-backoff delay loop and has no remaining
// time of its own to report.
func (s *Store) kekProgress() {
	if s.progress != nil {
		s.progress(0, 0)
	}
}

// HasPin reports whether a non-empty PIN is currently set.
func (s *Store) HasPin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false
	}
	raw, ok := s.n.Get(layout.PinNotSetKey)
	return ok && len(raw) == 1 && raw[0] == 0x00
}

// GetPinRemaining returns the number of PIN attempts remaining before the
// device wipes itself, or 0 if the store is not initialized or that
// count has already been exhausted.
func (s *Store) GetPinRemaining() (remaining uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(fault.Halted); ok {
				s.log.Message("storage: device halted")
				remaining = 0
				return
			}
			panic(r)
		}
	}()

	if s.requireInitialized() != nil {
		return 0
	}
	ctr := pinlog.GetFails(s.n, layout.PinLogsKey, s.trip)
	if ctr >= pinlog.MaxTries {
		return 0
	}
	return pinlog.MaxTries - ctr
}

// Unlock verifies pin against the stored EDEK_PVC and, on a match, caches
// the decrypted DEK/SAK and marks the store unlocked.
func (s *Store) Unlock(pin uint32) (outcome Outcome, err error) {
	if lerr := s.tryLock(); lerr != nil {
		return Fault, lerr
	}
	defer s.mu.Unlock()
	defer func() { outcome, err = s.recoverHaltOutcome(recover(), outcome, err) }()

	if ierr := s.requireInitialized(); ierr != nil {
		return Fault, ierr
	}
	return s.unlockLocked(pin)
}

// unlockLocked holds the actual unlock(pin) control flow so ChangePin's
// defence-in-depth re-verification can call it directly without
// recursively locking s.mu.
func (s *Store) unlockLocked(pin uint32) (outcome Outcome, err error) {
	// 1. Read the current failure count; wipe and halt if already exhausted.
	primitive.WaitRandom(s.trip)
	ctr := pinlog.GetFails(s.n, layout.PinLogsKey, s.trip)
	if ctr >= pinlog.MaxTries {
		if werr := s.rawWipe(); werr != nil {
			s.log.Error(werr).Message("storage: wipe on exhausted PIN counter failed")
		}
		fault.Halt("pin_fails_check_max")
	}

	// 2. Exponential backoff delay, driving the UI progress callback.
	s.unlockDelay(ctr)

	// 3. Charge the attempt before checking it, then verify the counter
	// advanced by exactly one.
	pinlog.Increase(s.n, layout.PinLogsKey, s.trip)
	ctrCk := pinlog.GetFails(s.n, layout.PinLogsKey, s.trip)
	if ctrCk != ctr+1 {
		s.trip("storage: PIN fail counter did not advance by exactly one")
	}

	// 4-5. Derive KEK/KEIV, decrypt EDEK, compare PVC, cache DEK/SAK.
	dekSak, matched, derr := s.tryDecryptLocked(pin)
	if derr != nil {
		return Fault, derr
	}
	if !matched {
		if ctr+1 >= pinlog.MaxTries {
			if werr := s.rawWipe(); werr != nil {
				s.log.Error(werr).Message("storage: wipe on exhausted PIN counter failed")
			}
			fault.Halt("pin_fails_check_max")
		}
		return Wrong, nil
	}
	defer primitive.Zero(dekSak)

	s.clearCachedKeysLocked()
	s.cachedKeys = memguard.NewBufferFromBytes(dekSak)

	// 6. Rebuild the authentication sum and verify STORAGE_TAG.
	sak := s.cachedKeys.Bytes()[layout.DEKLen:]
	s.authenticationSum = authtag.VerifyAll(s.n, layout.StorageTagKey, sak, s.trip)

	// 7. Read and authenticate VERSION; it must match the on-disk version
	// this Store booted against.
	dek := s.cachedKeys.Bytes()[:layout.DEKLen]
	var versionBuf [4]byte
	n, found, verr := entrycrypt.Open(s.n, layout.VersionKey, dek, versionBuf[:], s.trip)
	if verr != nil || !found || n != 4 {
		s.trip("storage: unable to read storage version")
	}
	if decodeUint32(versionBuf[:]) != s.norcowActiveVersion {
		s.trip("storage: storage version mismatch")
	}

	// 8. Mark unlocked and reset the failure counter.
	s.unlocked = true
	if rerr := pinlog.Reset(s.n, layout.PinLogsKey, s.trip); rerr != nil {
		return Fault, fmt.Errorf("storage: unable to reset PIN log: %w", rerr)
	}

	return Ok, nil
}

// tryDecryptLocked derives KEK/KEIV for pin, decrypts EDEK's ciphertext,
// and reports whether the recomputed PVC matches the stored one. It does
// not cache the result; the caller does that once matched is true.
func (s *Store) tryDecryptLocked(pin uint32) (keys []byte, matched bool, err error) {
	raw, ok := s.n.Get(layout.EdekPvcKey)
	if !ok || len(raw) != edekTotalLen {
		s.trip("storage: missing or malformed EDEK_PVC")
	}

	randomSalt := raw[:edekSaltLen]
	ciphertext := raw[edekSaltLen : edekSaltLen+edekCiphertextLen]
	storedPVC := raw[edekSaltLen+edekCiphertextLen:]

	kekVal, keivVal, derr := kek.Derive(pin, randomSalt, s.hardwareSalt[:], s.iterCount(), s.kekProgress)
	if derr != nil {
		return nil, false, fmt.Errorf("storage: unable to derive KEK: %w", derr)
	}
	defer primitive.Zero(kekVal[:])
	defer primitive.Zero(keivVal[:])

	plain, derr := openEDEKKeys(kekVal, keivVal, ciphertext)
	if derr != nil {
		return nil, false, fmt.Errorf("storage: unable to decrypt EDEK: %w", derr)
	}

	wantPVC, derr := expectedPVC(kekVal, keivVal, plain)
	if derr != nil {
		primitive.Zero(plain)
		return nil, false, fmt.Errorf("storage: unable to recompute PVC: %w", derr)
	}

	if !primitive.SecEqual(wantPVC, storedPVC, s.trip) {
		primitive.Zero(plain)
		return nil, false, nil
	}
	return plain, true, nil
}

// Lock discards the cached DEK/SAK and clears the unlocked flag. It does
// not touch the PIN log or the on-disk EDEK_PVC record.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unlocked = false
	s.clearCachedKeysLocked()
	for i := range s.authenticationSum {
		s.authenticationSum[i] = 0
	}
}

// ChangePin requires the store to already be unlocked and re-runs Unlock
// with old as defence-in-depth before sealing a new EDEK_PVC under new.
func (s *Store) ChangePin(old, newPin uint32) (outcome Outcome, err error) {
	if lerr := s.tryLock(); lerr != nil {
		return Fault, lerr
	}
	defer s.mu.Unlock()
	defer func() { outcome, err = s.recoverHaltOutcome(recover(), outcome, err) }()

	if ierr := s.requireUnlocked(); ierr != nil {
		return Fault, ierr
	}

	result, uerr := s.unlockLocked(old)
	if uerr != nil {
		return Fault, uerr
	}
	if result != Ok {
		return result, nil
	}

	keys := make([]byte, layout.KeysLen)
	copy(keys, s.cachedKeys.Bytes())
	defer primitive.Zero(keys)

	if serr := s.setPinWithKeysLocked(newPin, keys); serr != nil {
		return Fault, fmt.Errorf("storage: unable to set new PIN: %w", serr)
	}
	return Ok, nil
}
