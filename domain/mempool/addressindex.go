// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/google/btree"

	"github.com/lcoin/nodecore/domain/script"
	"github.com/lcoin/nodecore/wireformat"
)

// addressIndexDegree is the B-tree branching factor for the per-address
// ordered sets below; 32 matches the degree the teacher's own address-index
// buckets use for similarly small, short-lived in-memory sets.
const addressIndexDegree = 32

func lessOutpoint(a, b wireformat.Outpoint) bool {
	if a.TxID != b.TxID {
		return a.TxID.String() < b.TxID.String()
	}
	return a.Index < b.Index
}

func lessHash(a, b wireformat.Hash) bool {
	return a.String() < b.String()
}

// AddressIndex is the optional address-hash index spec §3 describes as
// "coinIndex, txIndex": a mapping from an address hash to the ordered set
// of outpoints that pay it (coinIndex) and the ordered set of transactions
// that touch it as either a spender or a payee (txIndex). It is disabled
// (both maps stay nil, every method a no-op) unless constructed with a
// non-nil script.AddressHasher, since recognizing addresses in a script is
// the out-of-scope collaborator boundary (see domain/script.AddressHasher).
//
// Grounded on the teacher's optional address-index subsystem shape
// (enable/disable via a capability object, per the C3 "dynamic dispatch"
// design note in spec §9), using google/btree for the ordered per-address
// sets the way the teacher's own indexers favor an ordered structure over
// a plain map so range scans and deterministic iteration order are cheap.
type AddressIndex struct {
	hasher script.AddressHasher

	coins map[script.AddressHash]*btree.BTreeG[wireformat.Outpoint]
	txs   map[script.AddressHash]*btree.BTreeG[wireformat.Hash]
}

// NewAddressIndex returns an AddressIndex that recognizes addresses via
// hasher. A nil hasher yields a permanently disabled index.
func NewAddressIndex(hasher script.AddressHasher) *AddressIndex {
	if hasher == nil {
		return &AddressIndex{}
	}
	return &AddressIndex{
		hasher: hasher,
		coins:  make(map[script.AddressHash]*btree.BTreeG[wireformat.Outpoint]),
		txs:    make(map[script.AddressHash]*btree.BTreeG[wireformat.Hash]),
	}
}

// Enabled reports whether the index has a hasher and is actively tracking.
func (ai *AddressIndex) Enabled() bool { return ai != nil && ai.hasher != nil }

func (ai *AddressIndex) coinSet(addr script.AddressHash) *btree.BTreeG[wireformat.Outpoint] {
	set, ok := ai.coins[addr]
	if !ok {
		set = btree.NewG(addressIndexDegree, lessOutpoint)
		ai.coins[addr] = set
	}
	return set
}

func (ai *AddressIndex) txSet(addr script.AddressHash) *btree.BTreeG[wireformat.Hash] {
	set, ok := ai.txs[addr]
	if !ok {
		set = btree.NewG(addressIndexDegree, lessHash)
		ai.txs[addr] = set
	}
	return set
}

// indexOutput records that outpoint (an output of txID) pays every address
// script recognizes in pkScript.
func (ai *AddressIndex) indexOutput(txID wireformat.Hash, outpoint wireformat.Outpoint, pkScript []byte) {
	if !ai.Enabled() {
		return
	}
	hashes, ok := ai.hasher.HashesFor(pkScript)
	if !ok {
		return
	}
	for _, addr := range hashes {
		ai.coinSet(addr).ReplaceOrInsert(outpoint)
		ai.txSet(addr).ReplaceOrInsert(txID)
	}
}

// unindexOutput is the inverse of indexOutput, used when an entry leaves
// the pool.
func (ai *AddressIndex) unindexOutput(txID wireformat.Hash, outpoint wireformat.Outpoint, pkScript []byte) {
	if !ai.Enabled() {
		return
	}
	hashes, ok := ai.hasher.HashesFor(pkScript)
	if !ok {
		return
	}
	for _, addr := range hashes {
		if set, ok := ai.coins[addr]; ok {
			set.Delete(outpoint)
			if set.Len() == 0 {
				delete(ai.coins, addr)
			}
		}
		if set, ok := ai.txs[addr]; ok {
			set.Delete(txID)
			if set.Len() == 0 {
				delete(ai.txs, addr)
			}
		}
	}
}

// Add indexes every output of entry's transaction under both the coin and
// tx indexes, and every input whose spent coin's script is known
// (spentScripts, indexed the same way as entry.Tx.TxIn, nil entries
// skipped) under the tx index only. Called by Pool.IndexAddresses once an
// entry has been admitted.
func (ai *AddressIndex) Add(entry *Entry, spentScripts [][]byte) {
	if !ai.Enabled() {
		return
	}
	txID := entry.TxID()
	for i, out := range entry.Tx.TxOut {
		ai.indexOutput(txID, wireformat.Outpoint{TxID: txID, Index: uint32(i)}, out.PkScript)
	}
	for i, in := range entry.Tx.TxIn {
		if i >= len(spentScripts) || spentScripts[i] == nil {
			continue
		}
		// The spent coin's own outpoint already keys the coin index
		// under its creating transaction; here we only need the tx
		// index entry linking this spending transaction to the
		// address it spent from.
		hashes, ok := ai.hasher.HashesFor(spentScripts[i])
		if !ok {
			continue
		}
		for _, addr := range hashes {
			ai.txSet(addr).ReplaceOrInsert(txID)
		}
	}
}

// Remove undoes Add symmetrically when entry leaves the pool.
func (ai *AddressIndex) Remove(entry *Entry, spentScripts [][]byte) {
	if !ai.Enabled() {
		return
	}
	txID := entry.TxID()
	for i, out := range entry.Tx.TxOut {
		ai.unindexOutput(txID, wireformat.Outpoint{TxID: txID, Index: uint32(i)}, out.PkScript)
	}
	for i, in := range entry.Tx.TxIn {
		_ = in
		if i >= len(spentScripts) || spentScripts[i] == nil {
			continue
		}
		hashes, ok := ai.hasher.HashesFor(spentScripts[i])
		if !ok {
			continue
		}
		for _, addr := range hashes {
			if set, ok := ai.txs[addr]; ok {
				set.Delete(txID)
				if set.Len() == 0 {
					delete(ai.txs, addr)
				}
			}
		}
	}
}

// CoinsByAddress returns, in ascending (txid, index) order, every
// currently-unspent-within-the-pool outpoint paying addr.
func (ai *AddressIndex) CoinsByAddress(addr script.AddressHash) []wireformat.Outpoint {
	if !ai.Enabled() {
		return nil
	}
	set, ok := ai.coins[addr]
	if !ok {
		return nil
	}
	out := make([]wireformat.Outpoint, 0, set.Len())
	set.Ascend(func(op wireformat.Outpoint) bool {
		out = append(out, op)
		return true
	})
	return out
}

// TxByAddress returns, in ascending txid order, every pooled transaction
// that pays to or spends from addr.
func (ai *AddressIndex) TxByAddress(addr script.AddressHash) []wireformat.Hash {
	if !ai.Enabled() {
		return nil
	}
	set, ok := ai.txs[addr]
	if !ok {
		return nil
	}
	out := make([]wireformat.Hash, 0, set.Len())
	set.Ascend(func(h wireformat.Hash) bool {
		out = append(out, h)
		return true
	})
	return out
}
