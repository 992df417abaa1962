// Package kek derives the key-encryption key and its IV from a PIN, a
// per-store random salt, and the device's hardware salt.
package kek

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/coldvault/securestore/internal/primitive"
)

const (
	// IterCount is the total number of PBKDF2 iterations spent deriving
	// KEK and KEIV combined (half each).
	IterCount = 20000

	// HardwareSaltLen is the length of the hashed hardware salt.
	HardwareSaltLen = sha256.Size
	// RandomSaltLen is the length of the per-store random salt.
	RandomSaltLen = 4

	outLen = sha256.Size
)

// ProgressFunc is invoked twice bracketing the derivation (before and
// after), letting a host UI animate PIN-unlock progress without the
// derivation blocking for its full duration unnoticed.
type ProgressFunc func()

// Derive computes KEK and KEIV from pin, randomSalt (4 bytes) and
// hardwareSalt (32 bytes, already SHA-256 hashed by the caller). iterCount
// is the total number of iterations, split evenly so each of the two
// RFC2898 output blocks gets iterCount/2; a value <= 0 means IterCount
// (10000 per block) as in production, and tests pass a much smaller value
// (storage.WithPinIterations) so PIN-retry scenarios don't spend real
// wall-clock time on key stretching.
//
// KEK and KEIV are the first and second 32-byte blocks of a single
// PBKDF2-HMAC-SHA256(pin, hardwareSalt||randomSalt) output, i.e. RFC2898
// blocks T_1 and T_2 (block indices 1 and 2) of one 64-byte derivation,
// matching derive_kek's two pbkdf2_hmac_sha256_Init(..., blocknr) calls
// with blocknr 1 and 2 against the same context. All scratch is zeroized
// before return, including on error.
func Derive(pin uint32, randomSalt, hardwareSalt []byte, iterCount int, progress ProgressFunc) (kek, keiv [outLen]byte, err error) {
	if len(randomSalt) != RandomSaltLen {
		return kek, keiv, fmt.Errorf("kek: random salt must be %d bytes, got %d", RandomSaltLen, len(randomSalt))
	}
	if len(hardwareSalt) != HardwareSaltLen {
		return kek, keiv, fmt.Errorf("kek: hardware salt must be %d bytes, got %d", HardwareSaltLen, len(hardwareSalt))
	}
	if iterCount <= 0 {
		iterCount = IterCount
	}

	pinBytes := []byte{
		byte(pin),
		byte(pin >> 8),
		byte(pin >> 16),
		byte(pin >> 24),
	}
	defer primitive.Zero(pinBytes)

	salt := make([]byte, 0, len(hardwareSalt)+len(randomSalt))
	salt = append(salt, hardwareSalt...)
	salt = append(salt, randomSalt...)
	defer primitive.Zero(salt)

	if progress != nil {
		progress()
	}
	out := pbkdf2.Key(pinBytes, salt, iterCount/2, 2*outLen, sha256.New)
	if progress != nil {
		progress()
	}
	defer primitive.Zero(out)

	copy(kek[:], out[:outLen])
	copy(keiv[:], out[outLen:])

	return kek, keiv, nil
}
