// Package upgrade implements the one-shot migration from the legacy v0
// on-flash layout (plaintext PIN at key 0x0000, a bit-cleared fail
// counter at key 0x0001) to the current encrypted layout.
package upgrade

import (
	"fmt"
	"math/bits"

	"github.com/coldvault/securestore/internal/authtag"
	"github.com/coldvault/securestore/internal/entrycrypt"
	"github.com/coldvault/securestore/internal/layout"
	"github.com/coldvault/securestore/internal/norcow"
)

// Hooks bundles the storage-package operations FromV0 needs but does not
// own: wrapping a fresh DEK/SAK under a PIN, and initializing the PIN
// failure log. FromV0 writes the encrypted VERSION entry itself. Keeping these as injected
// functions avoids an import cycle between upgrade and the root storage
// package that owns them.
type Hooks struct {
	SetPin     func(pin uint32) error
	InitPinLog func(fails uint32) error
}

// FromV0 migrates n from on-flash version 0 to the current layout. cachedKeys
// must already hold a freshly generated 48-byte DEK||SAK; it is used to
// initialize the authentication tag and to re-encrypt every protected
// legacy entry.
func FromV0(n norcow.Norcow, cachedKeys []byte, hooks Hooks) error {
	if n.ActiveVersion() != 0 {
		return fmt.Errorf("upgrade: unsupported source version %d", n.ActiveVersion())
	}
	if len(cachedKeys) != layout.KeysLen {
		return fmt.Errorf("upgrade: cachedKeys must be %d bytes, got %d", layout.KeysLen, len(cachedKeys))
	}
	dek := cachedKeys[:layout.DEKLen]
	sak := cachedKeys[layout.DEKLen:]

	sum, err := authtag.Init(n, layout.StorageTagKey, sak)
	if err != nil {
		return fmt.Errorf("upgrade: unable to initialize authentication tag: %w", err)
	}

	version := layout.CurrentVersion
	if err := entrycrypt.Seal(n, layout.VersionKey, dek, encodeVersion(version)); err != nil {
		return fmt.Errorf("upgrade: unable to write storage version: %w", err)
	}

	legacyPin := layout.PinEmpty
	if raw, ok := n.Get(layout.V0PinKey); ok && len(raw) == 4 {
		legacyPin = decodeVersion(raw)
	}
	if err := hooks.SetPin(legacyPin); err != nil {
		return fmt.Errorf("upgrade: unable to set migrated PIN: %w", err)
	}
	// The legacy PIN now lives only inside EDEK_PVC; drop the plaintext
	// copy so no entry remains at the reserved key 0x0000.
	n.Delete(layout.V0PinKey)

	fails := v0PinFails(n)
	if err := hooks.InitPinLog(fails); err != nil {
		return fmt.Errorf("upgrade: unable to initialize PIN log: %w", err)
	}

	var cursor norcow.Cursor
	for {
		key, value, ok := n.GetNext(&cursor)
		if !ok {
			break
		}
		// Every key under the reserved app at this point was just written
		// above (VERSION, storage tag, PIN log over V0PinFailKey, ...) and
		// must not be copied or re-encrypted a second time.
		if layout.IsReserved(key) {
			continue
		}

		if layout.IsPublic(key) {
			if err := n.Set(key, value); err != nil {
				return fmt.Errorf("upgrade: unable to copy public entry %04x: %w", uint16(key), err)
			}
			continue
		}
		if err := entrycrypt.Seal(n, key, dek, value); err != nil {
			return fmt.Errorf("upgrade: unable to re-encrypt entry %04x: %w", uint16(key), err)
		}
		sum, err = authtag.Update(n, layout.StorageTagKey, key, sak, sum)
		if err != nil {
			return fmt.Errorf("upgrade: unable to update storage tag for entry %04x: %w", uint16(key), err)
		}
	}

	return n.FinishUpgrade()
}

func encodeVersion(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeVersion(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// v0PinFails recovers the legacy failure counter: V0PinFailKey points to
// an area of words initialized to 0xFFFFFFFF; the first non-zero word's
// popcount of its bitwise complement is the failure count. Absent or
// all-zero-failure data means zero failures.
func v0PinFails(n norcow.Norcow) uint32 {
	raw, ok := n.Get(layout.V0PinFailKey)
	if !ok {
		return 0
	}
	for i := 0; i+4 <= len(raw); i += 4 {
		word := decodeVersion(raw[i : i+4])
		if word != 0 {
			return uint32(bits.OnesCount32(^word))
		}
	}
	return 0
}
