package storage

import (
	"time"

	"github.com/coldvault/securestore/internal/norcow"
)

// ProgressFunc is invoked roughly every 100ms while Unlock sleeps off the
// exponential backoff delay, reporting the remaining number of seconds
// and a 0-1000 progress estimate: a coarse linear step once the wait is
// large enough that sub-second precision is pointless, and a finer
// per-tick interpolation otherwise.
type ProgressFunc func(remainingSeconds, progress uint32)

// Option configures a Store at construction time.
type Option func(*Store)

// WithNorcow mounts n as the backing append-only log. Required; New
// panics if no Norcow is supplied, since a Store with no log can perform
// no operation at all.
func WithNorcow(n norcow.Norcow) Option {
	return func(s *Store) {
		s.n = n
	}
}

// WithProgress installs a UI progress callback driven during Unlock's
// PIN-attempt backoff delay.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Store) {
		s.progress = fn
	}
}

// WithDelayFunc overrides the hardware delay primitive Unlock sleeps on
// between progress ticks. Production code never needs this; tests use it
// to collapse the exponential backoff to nothing so PIN-retry scenarios
// run in milliseconds instead of hours.
func WithDelayFunc(fn func(time.Duration)) Option {
	return func(s *Store) {
		s.delay = fn
	}
}

// WithPinIterations overrides the PBKDF2 iteration count used by KEK
// derivation. Test-only: production always uses kek.IterCount. A value
// of 0 restores the default.
func WithPinIterations(n int) Option {
	return func(s *Store) {
		s.pinIterations = n
	}
}
