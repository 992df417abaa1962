// Package norcow defines the contract for the append-only flash log that
// backs the secure store, along with an in-memory implementation used by
// tests and a file-backed implementation usable on a development host.
//
// Norcow guarantees: writes are durable once a call returns; iteration via
// Cursor visits live entries in insertion order; UpdateBytes/UpdateWord
// only ever clear bits relative to the previously stored value, the same
// restriction real NOR flash imposes physically.
package norcow

import "errors"

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("norcow: key not found")

// ErrIllegalBitSet is returned when an UpdateBytes/UpdateWord call would
// set a bit that was previously clear. On real flash this is physically
// impossible; the in-memory/file adapters enforce it explicitly so bugs
// surface in tests instead of silently producing data no real device
// could produce.
var ErrIllegalBitSet = errors.New("norcow: update would set a previously-clear bit")

// Key identifies a stored entry. The high byte is the "app" and encodes
// policy (see the storage package for the exact bit meanings); the low
// byte is an app-local sub-key.
type Key uint16

// App returns the high byte of the key.
func (k Key) App() uint8 { return uint8(k >> 8) }

// Cursor tracks iteration state for GetNext. Its zero value starts a scan
// from the beginning of the log.
type Cursor struct {
	offset int
}

// Norcow is the append-only flash log contract consumed by the rest of
// this module.
type Norcow interface {
	// Get returns the value stored under key, if any.
	Get(key Key) (value []byte, ok bool)
	// Set stores value under key, overwriting any previous value.
	Set(key Key, value []byte) error
	// SetEx stores value under key only if the key is not yet live,
	// reporting whether it already existed.
	SetEx(key Key, value []byte) (wasOverwrite bool, err error)
	// UpdateBytes ANDs bits into the existing allocation for key starting
	// at offset. Only bit-clearing is legal; see ErrIllegalBitSet.
	UpdateBytes(key Key, offset int, bits []byte) error
	// UpdateWord is UpdateBytes specialized to one little-endian word.
	UpdateWord(key Key, offset int, word uint32) error
	// Delete removes key, reporting whether it was present.
	Delete(key Key) (ok bool)
	// GetNext advances cursor and returns the next live entry in
	// insertion order. ok is false once the scan is exhausted.
	GetNext(cursor *Cursor) (key Key, value []byte, ok bool)
	// Wipe erases every entry.
	Wipe() error
	// ActiveVersion reports the on-disk layout version found at open
	// time.
	ActiveVersion() uint32
	// FinishUpgrade commits a version bump once the upgrade path has
	// rewritten every entry under the new layout.
	FinishUpgrade() error
}
