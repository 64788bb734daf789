// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wireformat

// MerkleRoot computes the root of the Bitcoin merkle tree over leaves, in
// the order given. A single leaf is duplicated at each level when the
// current level has an odd number of nodes, matching the historical (and,
// for this codebase's purposes, required-for-compatibility) Bitcoin Core
// behavior.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b Hash) Hash {
	buf := make([]byte, 0, HashSize*2)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return DoubleHash(buf)
}
