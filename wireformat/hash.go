// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wireformat

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the size, in bytes, of a double-SHA256 hash used throughout
// the wire format (transaction ids, merkle roots, block hashes).
const HashSize = 32

// Hash is a double-SHA256 hash, stored internally in little-endian byte
// order the way the rest of the codebase compares and serializes it.
type Hash [HashSize]byte

// String returns the Hash as the big-endian hex string used for display,
// matching the convention of every Bitcoin-derived client.
func (h Hash) String() string {
	for i := 0; i < HashSize/2; i++ {
		h[i], h[HashSize-1-i] = h[HashSize-1-i], h[i]
	}
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes (used for "no parent").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// DoubleHash returns the double-SHA256 of b.
func DoubleHash(b []byte) Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second
}

// HashH is the Hash-returning, pointer-free variant of DoubleHash retained
// for call sites that used to take the address of a single-use hash.
func HashH(b []byte) Hash {
	return DoubleHash(b)
}
