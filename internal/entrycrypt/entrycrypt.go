// Package entrycrypt implements per-entry ChaCha20-Poly1305 encryption for
// protected values. Each entry is sealed in one AEAD call and written with
// a single Norcow Set; writes are not split into ChaCha20-block-sized
// UpdateBytes chunks.
package entrycrypt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/coldvault/securestore/internal/norcow"
	"github.com/coldvault/securestore/internal/primitive"
)

const (
	// IVLen is the length of the random nonce stored with each entry.
	IVLen = chacha20poly1305.NonceSize // 12
	// TagLen is the length of the Poly1305 authentication tag.
	TagLen = chacha20poly1305.Overhead // 16
	// BlockLen is the ChaCha20 block size. Seal does not use it:
	// golang.org/x/crypto/chacha20poly1305 seals in one call and the
	// result is stored with one Set, not written block by block.
	BlockLen = 64
)

// Overhead is the total framing overhead added to a plaintext of any
// length: [12 B IV][ciphertext][16 B tag].
const Overhead = IVLen + TagLen

func aad(key norcow.Key) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(key))
	return b[:]
}

// Seal encrypts plaintext under dek with a fresh random IV, using key's
// little-endian identifier as associated data, and stores
// [IV][ciphertext][tag] under key in n.
func Seal(n norcow.Norcow, key norcow.Key, dek, plaintext []byte) error {
	aead, err := chacha20poly1305.New(dek)
	if err != nil {
		return fmt.Errorf("entrycrypt: unable to initialize AEAD: %w", err)
	}

	iv, err := primitive.RandomBytes(IVLen)
	if err != nil {
		return fmt.Errorf("entrycrypt: unable to generate IV: %w", err)
	}

	sealed := make([]byte, 0, IVLen+len(plaintext)+TagLen)
	sealed = append(sealed, iv...)
	sealed = aead.Seal(sealed, iv, plaintext, aad(key))

	return n.Set(key, sealed)
}

// Open decrypts the value stored under key into dst, which must be at
// least as long as the plaintext. It returns the plaintext length. A tag
// mismatch zeroizes dst and reports a fault via trip, which must not
// return.
func Open(n norcow.Norcow, key norcow.Key, dek []byte, dst []byte, trip func(string)) (int, bool, error) {
	stored, ok := n.Get(key)
	if !ok {
		return 0, false, nil
	}
	if len(stored) < Overhead {
		trip("entrycrypt: stored entry shorter than framing overhead")
		return 0, false, fmt.Errorf("entrycrypt: stored entry too short")
	}

	iv := stored[:IVLen]
	ciphertextAndTag := stored[IVLen:]
	plainLen := len(ciphertextAndTag) - TagLen

	if plainLen > len(dst) {
		return 0, true, fmt.Errorf("entrycrypt: destination buffer too small: need %d, have %d", plainLen, len(dst))
	}

	aead, err := chacha20poly1305.New(dek)
	if err != nil {
		return 0, true, fmt.Errorf("entrycrypt: unable to initialize AEAD: %w", err)
	}

	opened, err := aead.Open(dst[:0], iv, ciphertextAndTag, aad(key))
	if err != nil {
		primitive.Zero(dst)
		trip("entrycrypt: authentication tag mismatch for key " + fmt.Sprintf("%04x", uint16(key)))
		return 0, true, fmt.Errorf("entrycrypt: authentication failed: %w", err)
	}

	return len(opened), true, nil
}

// PlaintextLen returns the plaintext length of the value stored under
// key, without decrypting it, or false if the key is absent or malformed.
func PlaintextLen(n norcow.Norcow, key norcow.Key) (int, bool) {
	stored, ok := n.Get(key)
	if !ok || len(stored) < Overhead {
		return 0, false
	}
	return len(stored) - Overhead, true
}
