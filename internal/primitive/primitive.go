// Package primitive adapts the constant-time comparison, hashing, key
// derivation, AEAD, and randomness primitives this module builds on. It
// assumes the underlying routines (SHA-256, HMAC-SHA256, PBKDF2-HMAC-SHA256,
// ChaCha20-Poly1305, the CSPRNG) are themselves correct and constant-time;
// this package only adds the fault-hardened wrapping the rest of the
// module expects from them.
package primitive

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding"
	"fmt"
	"hash"

	"github.com/awnumar/memguard"
)

const (
	// BlockLen is the SHA-256 block size in bytes.
	BlockLen = sha256.BlockSize
	// DigestLen is the SHA-256 digest size in bytes.
	DigestLen = sha256.Size
)

// SecEqual performs a constant-time comparison of a and b, which must be
// of equal length, and additionally verifies that the comparison loop ran
// to completion. A loop-length mismatch is itself treated as a fault
// signal distinct from an ordinary mismatch: an instruction-skipping
// fault that short-circuits the compare must not be confused with a
// legitimate mismatch.
//
// trip is invoked (and must not return) if the loop-completion check
// fails; on ordinary mismatch SecEqual simply returns false.
func SecEqual(a, b []byte, trip func(reason string)) bool {
	if len(a) != len(b) {
		if trip != nil {
			trip("secequal: length mismatch")
		}
		return false
	}

	var diff byte
	i := 0
	for ; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	if i != len(a) {
		if trip != nil {
			trip("secequal: loop did not reach expected length")
		}
		return false
	}

	return subtle.ConstantTimeCompare(a, b) == 1 && diff == 0
}

// SHA256 hashes data.
func SHA256(data []byte) [DigestLen]byte {
	return sha256.Sum256(data)
}

// HMACSHA256 computes the HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) [DigestLen]byte {
	inner, outer := prepareBlocks(key)
	return finishHMAC(inner, outer, data)
}

// PreparedHMAC holds the SHA-256 compression state after absorbing the
// ipad/opad-derived blocks for a fixed key, so that hashing many short
// messages under the same key (the global authentication tag's per-key
// fingerprints) costs two block compressions each instead of
// recomputing the ipad/opad absorption every time.
type PreparedHMAC struct {
	inner, outer sha256Cloner
}

// PrepareHMAC precomputes the inner/outer digest state for key.
func PrepareHMAC(key []byte) *PreparedHMAC {
	inner, outer := prepareBlocks(key)
	return &PreparedHMAC{inner: inner, outer: outer}
}

// Sum finishes the HMAC computation for message using the prepared state.
// The prepared state itself is left untouched so it can be reused for the
// next message.
func (p *PreparedHMAC) Sum(message []byte) [DigestLen]byte {
	return finishHMAC(p.inner, p.outer, message)
}

// sha256Cloner wraps crypto/sha256's exported hash.Hash together with its
// BinaryMarshaler snapshot, so a prepared ipad/opad state can be cheaply
// cloned per message instead of re-absorbed.
type sha256Cloner struct {
	snapshot []byte
}

func prepareBlocks(key []byte) (inner, outer sha256Cloner) {
	var k [BlockLen]byte
	switch {
	case len(key) > BlockLen:
		sum := sha256.Sum256(key)
		copy(k[:], sum[:])
	default:
		copy(k[:], key)
	}

	var ipad, opad [BlockLen]byte
	for i := 0; i < BlockLen; i++ {
		ipad[i] = k[i] ^ 0x36
		opad[i] = k[i] ^ 0x5c
	}

	ih := sha256.New()
	ih.Write(ipad[:])
	oh := sha256.New()
	oh.Write(opad[:])

	return snapshotOf(ih), snapshotOf(oh)
}

func snapshotOf(h hash.Hash) sha256Cloner {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		// crypto/sha256's digest always supports binary marshaling; a
		// failure here means the standard library changed shape under
		// us.
		panic("primitive: sha256 digest does not support state snapshotting")
	}
	state, err := m.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("primitive: unable to snapshot sha256 state: %v", err))
	}
	return sha256Cloner{snapshot: state}
}

func (c sha256Cloner) clone() hash.Hash {
	h := sha256.New()
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		panic("primitive: sha256 digest does not support state restoration")
	}
	if err := u.UnmarshalBinary(c.snapshot); err != nil {
		panic(fmt.Sprintf("primitive: unable to restore sha256 state: %v", err))
	}
	return h
}

func finishHMAC(inner, outer sha256Cloner, message []byte) [DigestLen]byte {
	ih := inner.clone()
	ih.Write(message)
	innerSum := ih.Sum(nil)

	oh := outer.clone()
	oh.Write(innerSum)
	var out [DigestLen]byte
	copy(out[:], oh.Sum(nil))
	return out
}

// RandomBytes fills and returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("primitive: unable to read random bytes: %w", err)
	}
	return buf, nil
}

// RandomUint32 returns a random value uniformly distributed over
// [0, bound).
func RandomUint32(bound uint32) (uint32, error) {
	if bound == 0 {
		return 0, fmt.Errorf("primitive: bound must be positive")
	}
	// Rejection sampling to avoid modulo bias.
	limit := (^uint32(0) / bound) * bound
	for {
		b, err := RandomBytes(4)
		if err != nil {
			return 0, err
		}
		v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		if v < limit {
			return v % bound, nil
		}
	}
}

// Zero overwrites buf with zeros, using memguard's wipe so the compiler
// cannot optimize the write away as dead-store elimination.
func Zero(buf []byte) {
	memguard.WipeBytes(buf)
}

// WaitRandom inserts a short delay of uniformly random duration (0-255
// loop iterations) before a secret-dependent branch, to decorrelate
// timing and hinder glitch attacks. It cross-checks an auxiliary counter
// on every iteration and again after the loop, and reports a fault if
// either check fails, which is the signature of an attacker skipping
// instructions mid-loop.
func WaitRandom(trip func(reason string)) {
	wait, err := RandomUint32(256)
	if err != nil {
		if trip != nil {
			trip("wait_random: unable to read random delay")
		}
		return
	}

	i, j := 0, int(wait)
	for i < int(wait) {
		if i+j != int(wait) {
			if trip != nil {
				trip("wait_random: counter cross-check failed")
			}
			return
		}
		i++
		j--
	}

	if i != int(wait) {
		if trip != nil {
			trip("wait_random: loop did not reach expected count")
		}
	}
}
