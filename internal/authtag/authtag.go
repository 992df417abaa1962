// Package authtag maintains the global authentication tag: a key-set HMAC
// fingerprint over every "protected" key present in storage, maintained
// incrementally and re-verified on every authenticated read.
package authtag

import (
	"encoding/binary"
	"fmt"

	"github.com/coldvault/securestore/internal/layout"
	"github.com/coldvault/securestore/internal/norcow"
	"github.com/coldvault/securestore/internal/primitive"
)

// SumLen is the length, in bytes, of the running XOR accumulator S.
const SumLen = primitive.DigestLen

// TagLen is the length, in bytes, of the on-disk storage tag (the first
// 16 bytes of HMAC-SHA256(SAK, S)).
const TagLen = 16

// fingerprint computes T(k) = HMAC-SHA256(sak, little-endian-16-bit(k)).
func fingerprint(prepared *primitive.PreparedHMAC, key norcow.Key) [primitive.DigestLen]byte {
	var kb [2]byte
	binary.LittleEndian.PutUint16(kb[:], uint16(key))
	return prepared.Sum(kb[:])
}

func tagOf(sak []byte, sum [SumLen]byte) [primitive.DigestLen]byte {
	return primitive.HMACSHA256(sak, sum[:])
}

// Init writes the storage tag for freshly wiped storage, where the sum S
// is all-zero because no protected key exists yet.
func Init(n norcow.Norcow, tagKey norcow.Key, sak []byte) ([SumLen]byte, error) {
	var sum [SumLen]byte
	tag := tagOf(sak, sum)
	if err := n.Set(tagKey, tag[:TagLen]); err != nil {
		return sum, fmt.Errorf("authtag: unable to write initial storage tag: %w", err)
	}
	return sum, nil
}

// Update folds key's fingerprint into a copy of sum, rewrites the storage
// tag, and returns the new sum. It is a no-op (sum is returned unchanged) when key is not
// protected, matching the original adapter's behavior of treating
// auth_update on an unprotected key as a trivial success.
func Update(n norcow.Norcow, tagKey norcow.Key, key norcow.Key, sak []byte, sum [SumLen]byte) ([SumLen]byte, error) {
	if !layout.IsProtected(key) {
		return sum, nil
	}

	prepared := primitive.PrepareHMAC(sak)
	fp := fingerprint(prepared, key)
	for i := range sum {
		sum[i] ^= fp[i]
	}

	tag := tagOf(sak, sum)
	if err := n.Set(tagKey, tag[:TagLen]); err != nil {
		return sum, fmt.Errorf("authtag: unable to write storage tag: %w", err)
	}
	return sum, nil
}

// VerifyAll performs a full pass over the log, recomputing S from every
// protected key encountered, and compares the result against the stored
// tag in constant time. It returns the recomputed sum so the caller can
// cache it for subsequent incremental updates. Any inconsistency - a
// missing or malformed tag, a mismatch, fault-injected entry-count
// skew - is routed to trip, which must not return.
func VerifyAll(n norcow.Norcow, tagKey norcow.Key, sak []byte, trip func(string)) [SumLen]byte {
	sum, _, found := scan(n, 0, tagKey, sak, trip)
	if found {
		// VerifyAll is only ever used to force a verification pass; a
		// hit against key==0 would mean an entry exists at reserved key
		// 0x0000, which only a legacy v0 image holds and the upgrade
		// path removes.
		trip("authtag: unexpected hit scanning with reserved key 0")
	}
	return sum
}

// Verify performs the same full-log scan as VerifyAll but additionally
// returns the value stored under wantKey, sharing the single pass between
// lookup and tag verification.
func Verify(n norcow.Norcow, tagKey norcow.Key, wantKey norcow.Key, sak []byte, trip func(string)) (value []byte, found bool, sum [SumLen]byte) {
	sum, value, found = scan(n, wantKey, tagKey, sak, trip)
	return value, found, sum
}

func scan(n norcow.Norcow, wantKey norcow.Key, tagKey norcow.Key, sak []byte, trip func(string)) (sum [SumLen]byte, value []byte, found bool) {
	prepared := primitive.PrepareHMAC(sak)

	var tagValue []byte
	var tagFound bool
	entryCount, otherCount := 0, 0

	var cursor norcow.Cursor
	for {
		k, v, ok := n.GetNext(&cursor)
		if !ok {
			break
		}
		entryCount++
		if k == wantKey {
			value = v
			found = true
		} else {
			otherCount++
		}

		if !layout.IsProtected(k) {
			if k == tagKey {
				tagValue = v
				tagFound = true
			}
			continue
		}

		fp := fingerprint(prepared, k)
		for i := range sum {
			sum[i] ^= fp[i]
		}
	}

	computed := tagOf(sak, sum)
	if !tagFound || len(tagValue) != TagLen || !primitive.SecEqual(computed[:TagLen], tagValue, trip) {
		trip("authtag: storage tag mismatch")
		return sum, value, found
	}

	if !found && otherCount != entryCount {
		trip("authtag: entry count mismatch while scanning for missing key")
	}

	return sum, value, found
}
