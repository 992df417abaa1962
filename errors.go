package storage

import "errors"

var (
	// ErrNotInitialized is returned when a method other than Init is
	// called before Init has completed successfully.
	ErrNotInitialized = errors.New("storage: not initialized")
	// ErrAlreadyInitialized is returned by Init when called more than once
	// on the same Store.
	ErrAlreadyInitialized = errors.New("storage: already initialized")
	// ErrLocked is returned when the store has not been unlocked with a
	// correct PIN: by Get on a protected entry, and by Set, Delete and
	// ChangePin on any key, public ones included.
	ErrLocked = errors.New("storage: locked")
	// ErrInvalidKey is returned when the caller addresses a reserved
	// (APP_STORAGE) key directly.
	ErrInvalidKey = errors.New("storage: key belongs to reserved app")
	// ErrBufferTooSmall is returned by Get when dst cannot hold the
	// decrypted plaintext.
	ErrBufferTooSmall = errors.New("storage: destination buffer too small")
	// ErrConcurrentAccess is returned when a second goroutine enters a
	// Store method while another is in flight. It exists purely to turn
	// the single-threaded contract's violation into a clean error instead
	// of silent corruption; it is not a concurrency feature.
	ErrConcurrentAccess = errors.New("storage: concurrent access detected")
	// ErrDeviceHalted is returned at the public API boundary whenever the
	// fault handler trips. In real firmware this corresponds to a CPU
	// halt (ensure(false, ...)); a host embedding this library as a
	// regular process instead observes this error and must treat the
	// Store as unusable from that point on.
	ErrDeviceHalted = errors.New("storage: device halted by fault handler")
)
