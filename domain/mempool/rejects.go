// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"math"

	"github.com/lcoin/nodecore/wireformat"
)

// RejectFilter is a rolling Bloom filter remembering recently rejected
// transaction ids so identical re-announcements can be dropped cheaply
// without re-running full validation (spec §4.4's reject cache). It ages
// out old entries by rotating between two generations of bit arrays rather
// than growing without bound, the same structure as Bitcoin Core's
// CRollingBloomFilter; no Bloom filter implementation survived in the
// example pack (util/bloom kept only its test file), so this is hand-built
// against that well-known design rather than adapted from a pack file.
type RejectFilter struct {
	elements  uint32
	generation uint32

	entriesThisGen uint32
	maxEntriesPerGen uint32

	hashFuncs uint32
	bits      []uint64
	genBits   []uint8
}

// NewRejectFilter returns a filter sized for approximately maxElements
// entries at the given false-positive rate, matching spec §4.4's defaults
// of roughly 120,000 elements and a 1e-6 false-positive rate.
func NewRejectFilter(maxElements uint32, falsePositiveRate float64) *RejectFilter {
	logFP := math.Log(falsePositiveRate)
	hashFuncs := uint32(math.Max(1, math.Min(math.Round(-logFP/math.Ln2), 50)))

	maxEntriesPerGen := (maxElements + 1) / 2
	maxBits := uint32(math.Ceil(float64(hashFuncs) * float64(maxEntriesPerGen) / math.Ln2))

	f := &RejectFilter{
		maxEntriesPerGen: maxEntriesPerGen,
		hashFuncs:        hashFuncs,
		bits:             make([]uint64, (maxBits+63)/64+1),
		genBits:          make([]uint8, (maxBits+63)/64+1),
	}
	return f
}

func (f *RejectFilter) hash(n uint32, id wireformat.Hash) uint32 {
	var h uint32 = 0x9747b28c * n
	for i := 0; i < 32; i += 4 {
		h ^= uint32(id[i]) | uint32(id[i+1])<<8 | uint32(id[i+2])<<16 | uint32(id[i+3])<<24
		h = h*2654435761 + (h >> 13)
	}
	return h % uint32(len(f.bits)*64)
}

// Add records id as rejected.
func (f *RejectFilter) Add(id wireformat.Hash) {
	if f.entriesThisGen >= f.maxEntriesPerGen {
		f.entriesThisGen = 0
		f.generation++
		if f.generation == 4 {
			f.generation = 1
		}
		mask := uint64(1) << uint(f.generation&1)
		for i := range f.genBits {
			if f.genBits[i]&uint8(mask) != 0 {
				for b := 0; b < 64; b++ {
					f.bits[i] &^= 1 << uint(b)
				}
				f.genBits[i] = 0
			}
		}
	}
	f.entriesThisGen++

	for n := uint32(0); n < f.hashFuncs; n++ {
		bit := f.hash(n, id)
		word, off := bit/64, bit%64
		f.bits[word] |= 1 << uint(off)
		f.genBits[word] |= uint8(1 << uint(f.generation&1))
	}
	f.elements++
}

// Contains reports whether id was (probably) previously Add'ed.
func (f *RejectFilter) Contains(id wireformat.Hash) bool {
	for n := uint32(0); n < f.hashFuncs; n++ {
		bit := f.hash(n, id)
		word, off := bit/64, bit%64
		if f.bits[word]&(1<<uint(off)) == 0 {
			return false
		}
	}
	return true
}

// Reset clears the filter entirely, used on a chain reorg when previously
// rejected transactions may now become valid.
func (f *RejectFilter) Reset() {
	for i := range f.bits {
		f.bits[i] = 0
		f.genBits[i] = 0
	}
	f.elements = 0
	f.entriesThisGen = 0
	f.generation = 0
}
