package storage

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/coldvault/securestore/internal/layout"
)

// EDEK_PVC layout: 4 B random salt || 48 B encrypted (DEK||SAK) || 8 B PIN
// verification code.
const (
	edekSaltLen       = layout.RandomSaltLen
	edekCiphertextLen = layout.KeysLen
	edekPVCLen        = layout.PVCLen
	edekTotalLen      = edekSaltLen + edekCiphertextLen + edekPVCLen
)

// sealEDEK encrypts keys (48 B DEK||SAK) under kek/keiv and assembles the
// on-disk EDEK_PVC record. The PIN verification code is only the first 8
// bytes of the 16-byte Poly1305 tag the AEAD produces over an empty
// associated-data field — the same truncation the original firmware
// performs by calling rfc7539_finish with aad_len == 0 and keeping only
// PVC_SIZE bytes of the result, trading a sliver of forgery resistance
// for a verification code short enough to store inline.
func sealEDEK(kek, keiv [32]byte, randomSalt, keys []byte) ([]byte, error) {
	if len(randomSalt) != edekSaltLen {
		return nil, fmt.Errorf("storage: EDEK random salt must be %d bytes, got %d", edekSaltLen, len(randomSalt))
	}
	if len(keys) != edekCiphertextLen {
		return nil, fmt.Errorf("storage: EDEK plaintext must be %d bytes, got %d", edekCiphertextLen, len(keys))
	}

	aead, err := chacha20poly1305.New(kek[:])
	if err != nil {
		return nil, fmt.Errorf("storage: unable to initialize EDEK AEAD: %w", err)
	}
	sealed := aead.Seal(nil, keiv[:chacha20poly1305.NonceSize], keys, nil)

	out := make([]byte, 0, edekTotalLen)
	out = append(out, randomSalt...)
	out = append(out, sealed[:edekCiphertextLen]...)
	out = append(out, sealed[edekCiphertextLen:edekCiphertextLen+edekPVCLen]...)
	return out, nil
}

// openEDEKKeys recovers the plaintext DEK||SAK from ciphertext using the
// raw ChaCha20 keystream only, without verifying any tag: the original
// firmware's unlock() decrypts first and authenticates the PIN separately
// by recomputing the truncated PVC over the recovered plaintext, since
// only 8 of the 16 Poly1305 tag bytes were ever persisted.
func openEDEKKeys(kek, keiv [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != edekCiphertextLen {
		return nil, fmt.Errorf("storage: EDEK ciphertext must be %d bytes, got %d", edekCiphertextLen, len(ciphertext))
	}
	stream, err := chacha20.NewUnauthenticatedCipher(kek[:], keiv[:chacha20poly1305.NonceSize])
	if err != nil {
		return nil, fmt.Errorf("storage: unable to initialize EDEK keystream: %w", err)
	}
	// Counter 0 produces the Poly1305 one-time key inside the AEAD
	// construction; ciphertext data starts at counter 1.
	stream.SetCounter(1)
	plain := make([]byte, len(ciphertext))
	stream.XORKeyStream(plain, ciphertext)
	return plain, nil
}

// expectedPVC recomputes the 8-byte PIN verification code that sealEDEK
// would have produced for plaintext under kek/keiv, so unlock can compare
// it against the stored value without re-encrypting.
func expectedPVC(kek, keiv [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(kek[:])
	if err != nil {
		return nil, fmt.Errorf("storage: unable to initialize EDEK AEAD: %w", err)
	}
	sealed := aead.Seal(nil, keiv[:chacha20poly1305.NonceSize], plaintext, nil)
	return sealed[len(plaintext) : len(plaintext)+edekPVCLen], nil
}
