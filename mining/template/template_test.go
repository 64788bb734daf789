// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package template_test

import (
	"context"
	"testing"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/mining/template"
	"github.com/lcoin/nodecore/wireformat"
)

type fakeChain struct{ height int32 }

func (c *fakeChain) Tip() wireformat.Hash { return wireformat.Hash{0x42} }
func (c *fakeChain) Height() int32        { return c.height }
func (c *fakeChain) Synced() bool         { return true }
func (c *fakeChain) State() chainiface.ChainState { return nil }
func (c *fakeChain) GetDeploymentState(wireformat.Hash, chainiface.Deployment) (chainiface.DeploymentState, error) {
	return chainiface.DeploymentDefined, nil
}
func (c *fakeChain) VerifyLocks(context.Context, *wireformat.Tx, chainiface.CoinViewReader) (*chainiface.SequenceLock, error) {
	return nil, nil
}
func (c *fakeChain) VerifyFinal(*wireformat.Tx, int32, time.Time) bool { return true }
func (c *fakeChain) MedianTimePast() time.Time                        { return time.Unix(1700000000, 0) }
func (c *fakeChain) SubmitBlock(*wireformat.Block) error              { return nil }
func (c *fakeChain) DB() chainiface.ChainDB                           { return nil }

func tx(parent wireformat.Hash, idx uint32, value int64) *wireformat.Tx {
	return &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{TxID: parent, Index: idx},
			SignatureScript:  []byte{0x01},
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{Value: value, PkScript: []byte{0x51}}},
	}
}

func TestBuildOrdersByPackageFeeRate(t *testing.T) {
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})

	lowFeeTx := tx(wireformat.Hash{0x01}, 0, 10_000_000)
	lowFeeEntry := mempool.NewEntry(lowFeeTx, 100, int64(lowFeeTx.SerializeSize()), 1, 0, time.Unix(1700000000, 0))
	if err := pool.InsertEntry(lowFeeEntry); err != nil {
		t.Fatalf("InsertEntry low fee parent: %v", err)
	}

	highFeeChild := tx(lowFeeTx.ID(), 0, 9_000_000)
	childEntry := mempool.NewEntry(highFeeChild, 500_000, int64(highFeeChild.SerializeSize()), 1, 0, time.Unix(1700000001, 0))
	if err := pool.InsertEntry(childEntry); err != nil {
		t.Fatalf("InsertEntry high fee child: %v", err)
	}

	otherTx := tx(wireformat.Hash{0x02}, 0, 5_000_000)
	otherEntry := mempool.NewEntry(otherTx, 200, int64(otherTx.SerializeSize()), 1, 0, time.Unix(1700000002, 0))
	if err := pool.InsertEntry(otherEntry); err != nil {
		t.Fatalf("InsertEntry unrelated tx: %v", err)
	}

	b := &template.Builder{Pool: pool, Chain: &fakeChain{height: 99}, PayScript: []byte{0x76, 0xa9, 0x14}}
	tmpl, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(tmpl.Transactions) != 3 {
		t.Fatalf("expected all 3 mempool transactions selected, got %d", len(tmpl.Transactions))
	}

	parentIdx, childIdx := -1, -1
	for i, txn := range tmpl.Transactions {
		if txn.ID() == lowFeeTx.ID() {
			parentIdx = i
		}
		if txn.ID() == highFeeChild.ID() {
			childIdx = i
		}
	}
	if parentIdx == -1 || childIdx == -1 {
		t.Fatalf("expected both parent and child tx in template")
	}
	if parentIdx > childIdx {
		t.Fatalf("expected parent selected before its child (ancestor ordering), got parent at %d, child at %d", parentIdx, childIdx)
	}

	if !tmpl.ValidPayAddress {
		t.Fatal("expected a valid pay address given a non-empty PayScript")
	}
	if tmpl.CoinbaseValue <= 0 {
		t.Fatalf("expected a positive coinbase value, got %d", tmpl.CoinbaseValue)
	}
	if tmpl.Height != 100 {
		t.Fatalf("expected template height 100, got %d", tmpl.Height)
	}
}

func TestBuildWithoutPayScriptUsesPlaceholder(t *testing.T) {
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})
	b := &template.Builder{Pool: pool, Chain: &fakeChain{height: 0}}
	tmpl, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tmpl.ValidPayAddress {
		t.Fatal("expected no valid pay address without a configured PayScript")
	}
}
