// Package layout defines the fixed on-flash key layout and policy bits
// shared by every other package in this module.
package layout

import "github.com/coldvault/securestore/internal/norcow"

const (
	// AppStorage is the app byte reserved for the core's own metadata;
	// rejected from the public API.
	AppStorage uint8 = 0x00
	// FlagPublic is the high app bit marking a value as stored in
	// cleartext, readable without unlock, and excluded from the global
	// authentication tag.
	FlagPublic uint8 = 0x80
)

// Reserved entries, all under AppStorage.
const (
	PinLogsKey   norcow.Key = 0x0001
	EdekPvcKey   norcow.Key = 0x0002
	PinNotSetKey norcow.Key = 0x0003
	VersionKey   norcow.Key = 0x0004
	StorageTagKey norcow.Key = 0x0005
)

// Legacy v0 layout keys, valid only while migrating.
const (
	V0PinKey     norcow.Key = 0x0000
	V0PinFailKey norcow.Key = 0x0001
)

const (
	// PinEmpty is the PIN value representing "no PIN set".
	PinEmpty uint32 = 1
	// MaxTries is the maximum number of failed unlock attempts before
	// the device wipes itself.
	MaxTries uint32 = 16
	// CurrentVersion is the on-flash layout version this module writes.
	CurrentVersion uint32 = 1

	// RandomSaltLen is the length of the per-store KEK salt.
	RandomSaltLen = 4
	// DEKLen is the length of the data encryption key.
	DEKLen = 32
	// SAKLen is the length of the storage authentication key.
	SAKLen = 16
	// KeysLen is the combined length of DEK and SAK.
	KeysLen = DEKLen + SAKLen
	// PVCLen is the length of the PIN verification code.
	PVCLen = 8
)

// IsProtected reports whether key's value is encrypted and bound into the
// global authentication tag.
func IsProtected(key norcow.Key) bool {
	app := key.App()
	return app&FlagPublic == 0 && app != AppStorage
}

// IsPublic reports whether key's value is stored in cleartext.
func IsPublic(key norcow.Key) bool {
	return key.App()&FlagPublic != 0
}

// IsReserved reports whether key belongs to the core's own metadata app,
// which is rejected from the public API.
func IsReserved(key norcow.Key) bool {
	return key.App() == AppStorage
}
