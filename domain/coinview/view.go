// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/wireformat"
)

// UndoEntry records one spent output so a View's mutations can be reversed,
// the way a block disconnect reverses a block connect (spec §4.1).
type UndoEntry struct {
	Outpoint   wireformat.Outpoint
	Coin       Coin
	Height     int32
	Version    int32
	IsCoinbase bool
	// FreshTx is true if this spend emptied (and the undo must therefore
	// recreate from scratch) the Coins record for Outpoint.TxID, as
	// opposed to merely restoring one output of a record that had other
	// outputs still live.
	FreshTx bool
}

// View is a mutable, per-verification snapshot of spendable outputs,
// merging chain-database coins with not-yet-mined mempool outputs. It is
// created fresh for each admission/template-building pass (spec §4.1).
type View struct {
	entries map[wireformat.Hash]*Coins
	undo    []UndoEntry
}

// NewView returns an empty View.
func NewView() *View {
	return &View{entries: make(map[wireformat.Hash]*Coins)}
}

// Add inserts or replaces the Coins record for txID.
func (v *View) Add(txID wireformat.Hash, coins *Coins) {
	v.entries[txID] = coins
}

// AddTX records every output of tx as newly created at height.
func (v *View) AddTX(tx *wireformat.Tx, height int32) {
	v.Add(tx.ID(), FromTx(tx, height))
}

// AddCoin inserts a single coin at op, creating the backing Coins record if
// this is the first output of that transaction seen by this view.
func (v *View) AddCoin(op wireformat.Outpoint, value int64, pkScript []byte, version int32, height int32, isCoinbase bool) {
	coins, ok := v.entries[op.TxID]
	if !ok {
		coins = NewCoins(version, height, isCoinbase)
		v.entries[op.TxID] = coins
	}
	coins.Add(op.Index, value, pkScript)
}

// AddOutput is an alias of AddCoin kept for parity with spec §4.1's
// operation list, used when the caller already holds a Coins record's
// metadata and only wants to add one output to it.
func (v *View) AddOutput(op wireformat.Outpoint, value int64, pkScript []byte, coins *Coins) {
	coins.Add(op.Index, value, pkScript)
	v.entries[op.TxID] = coins
}

// GetCoin returns the unspent Coin at op, if present in this view.
func (v *View) GetCoin(op wireformat.Outpoint) (*Coin, bool) {
	coins, ok := v.entries[op.TxID]
	if !ok {
		return nil, false
	}
	return coins.Get(op.Index)
}

// GetHeight returns the height at which op's transaction was recorded in
// this view.
func (v *View) GetHeight(op wireformat.Outpoint) (int32, bool) {
	coins, ok := v.entries[op.TxID]
	if !ok {
		return 0, false
	}
	return coins.Height, true
}

// IsCoinbase reports whether op's transaction is a coinbase, per this view.
func (v *View) IsCoinbase(op wireformat.Outpoint) (bool, bool) {
	coins, ok := v.entries[op.TxID]
	if !ok {
		return false, false
	}
	return coins.Coinbase, true
}

// SpendOutput removes the output at op, pushing an UndoEntry so the spend
// can later be reversed. It returns false if the output did not exist (or
// was already spent) in this view.
func (v *View) SpendOutput(op wireformat.Outpoint) bool {
	coins, ok := v.entries[op.TxID]
	if !ok {
		return false
	}
	coin, ok := coins.Spend(op.Index)
	if !ok {
		return false
	}
	entry := UndoEntry{
		Outpoint: op,
		Coin:     *coin,
		Height:   coins.Height,
		Version:  coins.Version,
	}
	if coins.IsEmpty() {
		entry.IsCoinbase = coins.Coinbase
		entry.FreshTx = true
	}
	v.undo = append(v.undo, entry)
	return true
}

// RemoveOutput deletes op from the view without recording an undo entry;
// used when the caller has already decided the removal is permanent (e.g.
// pruning a fully-spent record), not reversible.
func (v *View) RemoveOutput(op wireformat.Outpoint) {
	coins, ok := v.entries[op.TxID]
	if !ok {
		return
	}
	coins.Spend(op.Index)
	if coins.IsEmpty() {
		delete(v.entries, op.TxID)
	}
}

// UndoLog returns the accumulated undo entries, most recent last, in the
// order they must be replayed in reverse to unwind this view's spends.
func (v *View) UndoLog() []UndoEntry {
	return v.undo
}

// ReadCoins resolves txID against db if this view does not already carry
// an entry for it, the async chain-database read spec §4.1 calls out as a
// suspension point.
func ReadCoins(ctx context.Context, db chainiface.ChainDB, v *View, txID wireformat.Hash) (*Coins, bool) {
	if coins, ok := v.entries[txID]; ok {
		return coins, true
	}
	if !db.HasCoins(txID) {
		return nil, false
	}
	coins := &Coins{Outputs: make(map[uint32]*Coin)}
	for i := uint32(0); ; i++ {
		value, pkScript, isCoinbase, height, ok := db.GetCoins(wireformat.Outpoint{TxID: txID, Index: i})
		if !ok {
			if i == 0 {
				return nil, false
			}
			break
		}
		coins.Coinbase = isCoinbase
		coins.Height = height
		coins.Add(i, value, pkScript)
	}
	v.entries[txID] = coins
	return coins, true
}

// EnsureInputs resolves every input of tx against db into v, so a
// subsequent SpendInputs call never needs to touch the database again.
// This is the asynchronous suspension point spec §4.1 requires for any
// operation that touches the chain DB.
func EnsureInputs(ctx context.Context, db chainiface.ChainDB, v *View, tx *wireformat.Tx) error {
	for _, in := range tx.TxIn {
		if _, ok := v.GetCoin(in.PreviousOutpoint); ok {
			continue
		}
		if _, ok := ReadCoins(ctx, db, v, in.PreviousOutpoint.TxID); !ok {
			return errors.Errorf("missing input %s:%d", in.PreviousOutpoint.TxID, in.PreviousOutpoint.Index)
		}
	}
	return nil
}

// SpendInputs marks every input of tx as spent in v, after first resolving
// them via EnsureInputs.
func SpendInputs(ctx context.Context, db chainiface.ChainDB, v *View, tx *wireformat.Tx) error {
	if err := EnsureInputs(ctx, db, v, tx); err != nil {
		return err
	}
	for _, in := range tx.TxIn {
		if !v.SpendOutput(in.PreviousOutpoint) {
			return errors.Errorf("input %s:%d already spent", in.PreviousOutpoint.TxID, in.PreviousOutpoint.Index)
		}
	}
	return nil
}
