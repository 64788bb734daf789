// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"time"

	"github.com/lcoin/nodecore/wireformat"
)

// Entry is one admitted transaction's bookkeeping record: the transaction
// itself plus the package-relative accounting the eviction engine (C5) and
// template builder (C7) need — ancestor/descendant counts, sizes, fees and
// sigop costs, kept incrementally up to date as parents and children are
// added or removed. Grounded on the copernicus TxEntry/TxMempool pairing,
// generalized from its single-parent DAG-free model to the ancestor/
// descendant parent/child maps spec §4.3 calls for.
type Entry struct {
	Tx *wireformat.Tx

	Fee      int64
	Size     int64
	SigOps   int64
	Time     time.Time
	Height   int32

	// DeltaFee is the prioritisation bonus applied by Pool.Prioritise,
	// folded into this entry's own descendant-fee rollup (DescendantFee)
	// and, transitively, into every ancestor's descendant rollup. It is
	// tracked separately from Fee so a second Prioritise call can undo
	// exactly the delta it previously applied rather than guessing at the
	// entry's unmodified fee.
	DeltaFee int64

	// PriorityDelta is the matching priority-side bonus Prioritise
	// accepts alongside DeltaFee; this package does not compute priority
	// itself (that is a validator/policy concern) but carries the value
	// so RPC introspection can report what a caller last requested.
	PriorityDelta int64

	parents  map[wireformat.Hash]*Entry
	children map[wireformat.Hash]*Entry

	// AncestorCount/-Size/-SigOps/-Fee include this entry itself; the
	// "with ancestors" rollups a mempool-wide package eviction or template
	// selection needs without re-walking the whole graph.
	AncestorCount  int64
	AncestorSize   int64
	AncestorSigOps int64
	AncestorFee    int64

	// DescendantCount/-Size/-Fee mirror the ancestor rollups but summed over
	// this entry's descendants (including itself), used by TrimToSize-style
	// package-fee-rate eviction.
	DescendantCount int64
	DescendantSize  int64
	DescendantFee   int64
}

// NewEntry returns a freshly admitted Entry with no parents or children
// recorded yet; callers must call UpdateParent for every in-mempool input
// before the ancestor/descendant rollups are meaningful.
func NewEntry(tx *wireformat.Tx, fee int64, size int64, sigOps int64, height int32, now time.Time) *Entry {
	return &Entry{
		Tx:              tx,
		Fee:             fee,
		Size:            size,
		SigOps:          sigOps,
		Height:          height,
		Time:            now,
		parents:         make(map[wireformat.Hash]*Entry),
		children:        make(map[wireformat.Hash]*Entry),
		AncestorCount:   1,
		AncestorSize:    size,
		AncestorSigOps:  sigOps,
		AncestorFee:     fee,
		DescendantCount: 1,
		DescendantSize:  size,
		DescendantFee:   fee,
	}
}

// TxID is a convenience accessor used as the map key throughout the pool.
func (e *Entry) TxID() wireformat.Hash { return e.Tx.ID() }

// Parents returns this entry's direct in-mempool parents.
func (e *Entry) Parents() map[wireformat.Hash]*Entry { return e.parents }

// Children returns this entry's direct in-mempool children.
func (e *Entry) Children() map[wireformat.Hash]*Entry { return e.children }

// UpdateParent links or unlinks parent as one of e's direct ancestors.
func (e *Entry) UpdateParent(parent *Entry, add bool) {
	if add {
		e.parents[parent.TxID()] = parent
		parent.children[e.TxID()] = e
	} else {
		delete(e.parents, parent.TxID())
		delete(parent.children, e.TxID())
	}
}

// UpdateAncestorState adjusts e's own ancestor-inclusive rollups by the
// given deltas, applied once per ancestor added or removed from e's
// ancestor set.
func (e *Entry) UpdateAncestorState(countDelta, sizeDelta, sigOpsDelta int64, feeDelta int64) {
	e.AncestorCount += countDelta
	e.AncestorSize += sizeDelta
	e.AncestorSigOps += sigOpsDelta
	e.AncestorFee += feeDelta
}

// UpdateDescendantState adjusts e's descendant-inclusive rollups; called on
// every ancestor of a transaction being added or removed so the whole chain
// above it reflects the new descendant.
func (e *Entry) UpdateDescendantState(countDelta, sizeDelta int64, feeDelta int64) {
	e.DescendantCount += countDelta
	e.DescendantSize += sizeDelta
	e.DescendantFee += feeDelta
}

// FeeRate returns e's own fee rate in satoshis per thousand virtual bytes.
func (e *Entry) FeeRate() int64 {
	if e.Size == 0 {
		return 0
	}
	return e.Fee * 1000 / e.Size
}

// PackageFeeRate returns the fee rate of e's descendant package, the
// quantity C5's eviction heap orders by: a low-fee transaction propped up
// by high-fee children should not be evicted ahead of an isolated
// low-fee transaction with no children. This always uses the descendant
// package rate rather than picking whichever of the entry's own rate and
// its descendant rate is lower; see DESIGN.md's Open Question decisions
// for why that simplification still matches this engine's eviction ordering.
func (e *Entry) PackageFeeRate() int64 {
	if e.DescendantSize == 0 {
		return 0
	}
	return e.DescendantFee * 1000 / e.DescendantSize
}
