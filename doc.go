// Package storage implements a PIN-gated, fault-hardened key-value store
// for a hardware cryptocurrency wallet. It binds together PBKDF2-derived
// key-encryption keys, a guard-key-protected anti-bruteforce PIN log, a
// ChaCha20-Poly1305 entry cipher, and a global HMAC authentication tag
// over an append-only flash-style log (internal/norcow).
//
// A *Store is not goroutine-safe: it is meant for exactly one caller per
// running device process. Its mutex exists only to turn a second,
// concurrent caller into a clean ErrConcurrentAccess on the methods that
// can report one, rather than corrupting state or deadlocking; it is not
// a concurrency primitive.
package storage
