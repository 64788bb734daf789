// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview_test

import (
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/lcoin/nodecore/domain/coinview"
	"github.com/lcoin/nodecore/wireformat"
)

type fakeChainDB struct {
	coins map[wireformat.Outpoint]fakeCoin
}

type fakeCoin struct {
	value      int64
	pkScript   []byte
	isCoinbase bool
	height     int32
}

func newFakeChainDB() *fakeChainDB {
	return &fakeChainDB{coins: make(map[wireformat.Outpoint]fakeCoin)}
}

func (f *fakeChainDB) put(op wireformat.Outpoint, value int64, pkScript []byte, isCoinbase bool, height int32) {
	f.coins[op] = fakeCoin{value, pkScript, isCoinbase, height}
}

func (f *fakeChainDB) GetCoins(op wireformat.Outpoint) (int64, []byte, bool, int32, bool) {
	c, ok := f.coins[op]
	if !ok {
		return 0, nil, false, 0, false
	}
	return c.value, c.pkScript, c.isCoinbase, c.height, true
}

func (f *fakeChainDB) HasCoins(txID wireformat.Hash) bool {
	for op := range f.coins {
		if op.TxID == txID {
			return true
		}
	}
	return false
}

func (f *fakeChainDB) GetEntry(wireformat.Hash) (int32, bool)            { return 0, false }
func (f *fakeChainDB) GetBlock(wireformat.Hash) ([]byte, bool)           { return nil, false }
func (f *fakeChainDB) GetHash(int32) (wireformat.Hash, bool)             { return wireformat.Hash{}, false }
func (f *fakeChainDB) GetNextHash(wireformat.Hash) (wireformat.Hash, bool) { return wireformat.Hash{}, false }
func (f *fakeChainDB) GetTips() []wireformat.Hash                        { return nil }
func (f *fakeChainDB) StateSizes() (int64, int64, int64)                 { return 0, 0, 0 }

func sampleSpendableTx() *wireformat.Tx {
	return &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{TxID: wireformat.Hash{0x01}, Index: 0},
			SignatureScript:  []byte{0x01, 0x02},
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{
			Value:    4_500_000_000,
			PkScript: []byte{0x76, 0xa9, 0x14},
		}},
		LockTime: 0,
	}
}

func TestSpendAndUndoRoundTrip(t *testing.T) {
	db := newFakeChainDB()
	parentOp := wireformat.Outpoint{TxID: wireformat.Hash{0x01}, Index: 0}
	db.put(parentOp, 5_000_000_000, []byte{0x51}, true, 100)

	v := coinview.NewView()
	tx := sampleSpendableTx()

	ctx := context.Background()
	if err := coinview.SpendInputs(ctx, db, v, tx); err != nil {
		t.Fatalf("SpendInputs: %v", err)
	}
	if _, ok := v.GetCoin(parentOp); ok {
		t.Fatalf("expected parent output spent, still present: %s", spew.Sdump(v))
	}

	undo := v.UndoLog()
	if len(undo) != 1 {
		t.Fatalf("expected 1 undo entry, got %d", len(undo))
	}
	entry := undo[0]
	if entry.Outpoint != parentOp {
		t.Fatalf("undo entry outpoint mismatch: got %+v want %+v", entry.Outpoint, parentOp)
	}
	if entry.Coin.Value != 5_000_000_000 || !entry.FreshTx {
		t.Fatalf("undo entry data mismatch: %s", spew.Sdump(entry))
	}

	// Replay the undo to restore the spent coin, as a reorg disconnect would.
	v.AddCoin(entry.Outpoint, entry.Coin.Value, entry.Coin.PkScript, entry.Version, entry.Height, entry.IsCoinbase)
	restored, ok := v.GetCoin(parentOp)
	if !ok || restored.Value != 5_000_000_000 {
		t.Fatalf("coin not restored after undo replay: %s", spew.Sdump(restored))
	}
}

func TestEnsureInputsMissingInput(t *testing.T) {
	db := newFakeChainDB()
	v := coinview.NewView()
	tx := sampleSpendableTx()

	if err := coinview.EnsureInputs(context.Background(), db, v, tx); err == nil {
		t.Fatal("expected error resolving a nonexistent input")
	}
}

func TestSerializeFullRoundTrip(t *testing.T) {
	tx := sampleSpendableTx()
	tx.TxOut = append(tx.TxOut, &wireformat.TxOut{Value: 100, PkScript: []byte{0x6a}})

	coins := coinview.FromTx(tx, 250)
	coins.Spend(1) // leave output 0 unspent, output 1 spent

	data, err := coinview.SerializeFull(coins, tx)
	if err != nil {
		t.Fatalf("SerializeFull: %v", err)
	}

	got, err := coinview.DeserializeFull(data, tx)
	if err != nil {
		t.Fatalf("DeserializeFull: %v", err)
	}
	if got.Height != coins.Height || got.Coinbase != coins.Coinbase || got.Version != coins.Version {
		t.Fatalf("metadata mismatch: got %s want %s", spew.Sdump(got), spew.Sdump(coins))
	}
	if len(got.Outputs) != 1 {
		t.Fatalf("expected 1 surviving output, got %d: %s", len(got.Outputs), spew.Sdump(got))
	}
	out, ok := got.Get(0)
	if !ok || out.Value != tx.TxOut[0].Value {
		t.Fatalf("output 0 mismatch: %s", spew.Sdump(got))
	}
	if _, ok := got.Get(1); ok {
		t.Fatalf("spent output 1 should not have survived the round trip")
	}
}

func TestSerializeFastOmitsMetadata(t *testing.T) {
	tx := sampleSpendableTx()
	coins := coinview.FromTx(tx, 42)

	data, err := coinview.SerializeFast(coins, tx)
	if err != nil {
		t.Fatalf("SerializeFast: %v", err)
	}
	got, err := coinview.DeserializeFast(data, tx)
	if err != nil {
		t.Fatalf("DeserializeFast: %v", err)
	}
	// The fast format never carries height/coinbase, so a bare deserialize
	// leaves the zero value for both; callers must fill them in out of band.
	if got.Height != 0 || got.Coinbase {
		t.Fatalf("fast format leaked metadata it should not carry: %s", spew.Sdump(got))
	}
	out, ok := got.Get(0)
	if !ok || out.Value != tx.TxOut[0].Value {
		t.Fatalf("output mismatch: %s", spew.Sdump(got))
	}
}
