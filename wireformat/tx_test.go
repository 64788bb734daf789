// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wireformat_test

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/lcoin/nodecore/wireformat"
)

func sampleTx(withWitness bool) *wireformat.Tx {
	tx := &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{Index: 0},
			SignatureScript:  []byte{0x51},
			Sequence:         0xffffffff,
		}},
		TxOut: []*wireformat.TxOut{{
			Value:    5000000000,
			PkScript: []byte{0x76, 0xa9, 0x14},
		}},
		LockTime: 0,
	}
	if withWitness {
		tx.TxIn[0].Witness = [][]byte{{0x01, 0x02}, {0x03}}
	}
	return tx
}

func TestTxSerializeRoundTrip(t *testing.T) {
	for _, withWitness := range []bool{false, true} {
		tx := sampleTx(withWitness)
		raw := tx.Serialize()

		got, err := wireformat.Deserialize(raw)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if got.Version != tx.Version || got.LockTime != tx.LockTime {
			t.Fatalf("round trip mismatch: %s", spew.Sdump(got))
		}
		if len(got.TxIn) != 1 || len(got.TxOut) != 1 {
			t.Fatalf("round trip mismatch arity: %s", spew.Sdump(got))
		}
		if !bytes.Equal(got.TxIn[0].SignatureScript, tx.TxIn[0].SignatureScript) {
			t.Fatalf("sigScript mismatch")
		}
		if got.HasWitness() != withWitness {
			t.Fatalf("HasWitness() = %v, want %v", got.HasWitness(), withWitness)
		}
		roundTripped := got.Serialize()
		if !bytes.Equal(roundTripped, raw) {
			t.Fatalf("re-serialize mismatch:\ngot  %x\nwant %x", roundTripped, raw)
		}
	}
}

func TestTxIDIgnoresWitness(t *testing.T) {
	noWitness := sampleTx(false)
	withWitness := sampleTx(true)

	if noWitness.ID() != withWitness.ID() {
		t.Fatalf("txid must be witness-independent")
	}
	if withWitness.WTxID() == withWitness.ID() {
		t.Fatalf("wtxid must differ from txid when witness data is present")
	}
	if noWitness.WTxID() != noWitness.ID() {
		t.Fatalf("wtxid must equal txid when there is no witness data")
	}
}

func TestTxVirtualSize(t *testing.T) {
	plain := sampleTx(false)
	witnessed := sampleTx(true)

	if plain.Weight() != plain.BaseSize()*wireformat.WitnessScaleFactor {
		t.Fatalf("weight of a witness-free tx must be base size * scale factor")
	}
	if witnessed.VirtualSize() >= witnessed.SerializeSize() {
		t.Fatalf("vsize of a witness tx must discount below full size")
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := wireformat.HashH([]byte("leaf"))
	if root := wireformat.MerkleRoot([]wireformat.Hash{leaf}); root != leaf {
		t.Fatalf("single-leaf merkle root must equal the leaf")
	}
}

func TestMerkleRootOddDuplicatesLast(t *testing.T) {
	a := wireformat.HashH([]byte("a"))
	b := wireformat.HashH([]byte("b"))
	c := wireformat.HashH([]byte("c"))

	withThree := wireformat.MerkleRoot([]wireformat.Hash{a, b, c})
	withDuplicate := wireformat.MerkleRoot([]wireformat.Hash{a, b, c, c})
	if withThree != withDuplicate {
		t.Fatalf("odd-length level must duplicate the last leaf")
	}
}
