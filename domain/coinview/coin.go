// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinview implements the coin viewpoint (spec §4.1, C1): a
// mutable, undo-logged mapping from transaction id to the set of that
// transaction's still-unspent outputs, merged on demand from the chain
// database and the mempool's own in-flight outputs.
package coinview

import "github.com/lcoin/nodecore/wireformat"

// Coin is a single unspent output: its value, locking script, whether it
// was created by a coinbase transaction, and the height it was mined at
// (used for coinbase maturity checks).
type Coin struct {
	Value      int64
	PkScript   []byte
	IsCoinbase bool
	Height     int32
}

// Coins groups every still-unspent output of one transaction. The zero
// value has no outputs and is considered pruned (spec §3: "presence of at
// least one unspent output keeps the record alive").
type Coins struct {
	Version int32
	Height  int32
	// Coinbase is cached at the Coins level (not just per-Coin) because
	// every output of a given transaction shares it; CoinEntry.IsCoinbase
	// mirrors this for callers that only hold a single Coin.
	Coinbase bool
	Outputs  map[uint32]*Coin
}

// NewCoins returns an empty Coins record for a transaction mined (or
// mempool-accepted, with height representing "next block") at height.
func NewCoins(version int32, height int32, isCoinbase bool) *Coins {
	return &Coins{
		Version:  version,
		Height:   height,
		Coinbase: isCoinbase,
		Outputs:  make(map[uint32]*Coin),
	}
}

// IsEmpty reports whether every output of the transaction has been spent,
// meaning the record should be pruned.
func (c *Coins) IsEmpty() bool {
	return len(c.Outputs) == 0
}

// Get returns the Coin at index, if still unspent.
func (c *Coins) Get(index uint32) (*Coin, bool) {
	coin, ok := c.Outputs[index]
	return coin, ok
}

// Spend removes the output at index, returning it (and true) if it existed
// and was unspent. Callers that need to support reorgs must capture the
// returned Coin in an UndoEntry before discarding it.
func (c *Coins) Spend(index uint32) (*Coin, bool) {
	coin, ok := c.Outputs[index]
	if !ok {
		return nil, false
	}
	delete(c.Outputs, index)
	return coin, true
}

// Add inserts or overwrites the output at index.
func (c *Coins) Add(index uint32, value int64, pkScript []byte) {
	c.Outputs[index] = &Coin{
		Value:      value,
		PkScript:   pkScript,
		IsCoinbase: c.Coinbase,
		Height:     c.Height,
	}
}

// FromTx builds a Coins record containing every output of tx, as it would
// appear immediately after tx is accepted at height.
func FromTx(tx *wireformat.Tx, height int32) *Coins {
	c := NewCoins(tx.Version, height, tx.IsCoinBase())
	for i, out := range tx.TxOut {
		c.Add(uint32(i), out.Value, out.PkScript)
	}
	return c
}
