package storage

import (
	"fmt"

	"github.com/coldvault/securestore/internal/authtag"
	"github.com/coldvault/securestore/internal/entrycrypt"
	"github.com/coldvault/securestore/internal/layout"
)

// Get reads key's value into dst, decrypting and authenticating it first
// if key is protected. Public keys never require Unlock to have
// succeeded. ok is false if key has no value; err is ErrBufferTooSmall if
// dst cannot hold the plaintext without touching storage.
func (s *Store) Get(key Key, dst []byte) (n int, ok bool, err error) {
	if err := s.tryLock(); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()
	defer func() { err = s.recoverHalt(recover(), err) }()

	if ierr := s.requireInitialized(); ierr != nil {
		return 0, false, ierr
	}
	if layout.IsReserved(key) {
		return 0, false, ErrInvalidKey
	}

	if layout.IsPublic(key) {
		raw, found := s.n.Get(key)
		if !found {
			return 0, false, nil
		}
		if len(raw) > len(dst) {
			return 0, true, ErrBufferTooSmall
		}
		copy(dst, raw)
		return len(raw), true, nil
	}

	if uerr := s.requireUnlocked(); uerr != nil {
		return 0, false, uerr
	}

	plainLen, found := entrycrypt.PlaintextLen(s.n, key)
	if !found {
		return 0, false, nil
	}
	if plainLen > len(dst) {
		return 0, true, ErrBufferTooSmall
	}

	dek := s.cachedKeys.Bytes()[:layout.DEKLen]
	n, found, gerr := entrycrypt.Open(s.n, key, dek, dst[:plainLen], s.trip)
	if gerr != nil {
		return 0, true, fmt.Errorf("storage: unable to read entry %04x: %w", uint16(key), gerr)
	}
	return n, found, nil
}

// Set stores value under key, encrypting it first if key is protected.
// Per invariant I5, if a newly inserted protected entry's authentication
// tag update fails, the entry is deleted rather than left unauthenticated.
func (s *Store) Set(key Key, value []byte) (err error) {
	if err := s.tryLock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	defer func() { err = s.recoverHalt(recover(), err) }()

	if ierr := s.requireInitialized(); ierr != nil {
		return ierr
	}
	if uerr := s.requireUnlocked(); uerr != nil {
		return uerr
	}
	if layout.IsReserved(key) {
		return ErrInvalidKey
	}

	if layout.IsPublic(key) {
		if serr := s.n.Set(key, value); serr != nil {
			return fmt.Errorf("storage: unable to write public entry %04x: %w", uint16(key), serr)
		}
		return nil
	}

	_, existed := s.n.Get(key)

	dek := s.cachedKeys.Bytes()[:layout.DEKLen]
	if serr := entrycrypt.Seal(s.n, key, dek, value); serr != nil {
		return fmt.Errorf("storage: unable to write entry %04x: %w", uint16(key), serr)
	}

	if !existed {
		sak := s.cachedKeys.Bytes()[layout.DEKLen:]
		sum, terr := authtag.Update(s.n, layout.StorageTagKey, key, sak, s.authenticationSum)
		if terr != nil {
			s.n.Delete(key)
			return fmt.Errorf("storage: unable to update authentication tag, entry %04x removed: %w", uint16(key), terr)
		}
		s.authenticationSum = sum
	}
	return nil
}

// Delete removes key. If key was a protected entry, its fingerprint is
// folded out of the running authentication sum.
func (s *Store) Delete(key Key) (err error) {
	if err := s.tryLock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	defer func() { err = s.recoverHalt(recover(), err) }()

	if ierr := s.requireInitialized(); ierr != nil {
		return ierr
	}
	if uerr := s.requireUnlocked(); uerr != nil {
		return uerr
	}
	if layout.IsReserved(key) {
		return ErrInvalidKey
	}

	if layout.IsPublic(key) {
		s.n.Delete(key)
		return nil
	}

	if existed := s.n.Delete(key); existed {
		sak := s.cachedKeys.Bytes()[layout.DEKLen:]
		sum, terr := authtag.Update(s.n, layout.StorageTagKey, key, sak, s.authenticationSum)
		if terr != nil {
			return fmt.Errorf("storage: unable to update authentication tag after delete of %04x: %w", uint16(key), terr)
		}
		s.authenticationSum = sum
	}
	return nil
}

// Wipe erases every entry and re-bootstraps an empty-PIN store, the same
// as a fault-triggered wipe.
func (s *Store) Wipe() (err error) {
	if err := s.tryLock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	defer func() { err = s.recoverHalt(recover(), err) }()

	if ierr := s.requireInitialized(); ierr != nil {
		return ierr
	}
	return s.rawWipe()
}
