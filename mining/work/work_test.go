// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package work_test

import (
	"context"
	"testing"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/mining/template"
	"github.com/lcoin/nodecore/mining/work"
	"github.com/lcoin/nodecore/wireformat"
)

type fakeChain struct {
	height int32

	submitted *wireformat.Block
	submitErr error
}

func (c *fakeChain) Tip() wireformat.Hash { return wireformat.Hash{0x07} }
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

func (c *fakeChain) SubmitBlock(block *wireformat.Block) error {
	if c.submitErr != nil {
		return c.submitErr
	}
	c.submitted = block
	return nil
}

func (c *fakeChain) DB() chainiface.ChainDB { return nil }

func newEngine() *work.Engine {
	e, _ := newEngineWithChain()
	return e
}

func newEngineWithChain() (*work.Engine, *fakeChain) {
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})
	chain := &fakeChain{height: 99}
	b := &template.Builder{Pool: pool, Chain: chain, PayScript: []byte{0x76, 0xa9, 0x14}}
	return work.NewEngine(b), chain
}

// coinbaseStub builds a minimal, structurally-valid coinbase transaction
// for AddBlock tests; AddBlock itself does not validate transaction
// content (full consensus validation is the out-of-scope chain
// collaborator's job), so it only needs to deserialize cleanly.
func coinbaseStub() *wireformat.Tx {
	return &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{Index: 0xffffffff},
			SignatureScript:  []byte{0x01, 0x02},
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{Value: 5_000_000_000, PkScript: []byte{0x76, 0xa9, 0x14}}},
	}
}

func TestCreateWorkPadsHeaderToEncodedShape(t *testing.T) {
	e := newEngine()
	w, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	if w.Height != 100 {
		t.Fatalf("expected height 100, got %d", w.Height)
	}
	if w.Data[80] != 0x80 {
		t.Fatalf("expected SHA256 padding byte 0x80 at offset 80, got %#x", w.Data[80])
	}
	for i := 81; i < 120; i++ {
		if w.Data[i] != 0 {
			t.Fatalf("expected zero padding at offset %d, got %#x", i, w.Data[i])
		}
	}
}

func TestCreateWorkRollsExtranonceOnRepeatedCalls(t *testing.T) {
	e := newEngine()
	w1, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	w2, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	if w1 == w2 {
		t.Fatal("expected a second CreateWork call to roll the extranonce into a fresh unit of work")
	}
	if w1.Height != w2.Height {
		t.Fatalf("expected both units to target the same height, got %d and %d", w1.Height, w2.Height)
	}
	if w1.Nonces.Nonce2 == w2.Nonces.Nonce2 {
		t.Fatal("expected nonce2 to advance between successive CreateWork calls")
	}
	if w1.Header.MerkleRoot == w2.Header.MerkleRoot {
		t.Fatal("expected the merkle root to change along with the extranonce")
	}

	w3, err := e.RefreshBlock()
	if err != nil {
		t.Fatalf("RefreshBlock: %v", err)
	}
	if w3 == w1 {
		t.Fatal("expected RefreshBlock to produce a new unit of work")
	}
	if w3.Nonces.Nonce1 != 0 || w3.Nonces.Nonce2 != 0 {
		t.Fatalf("expected RefreshBlock to reset the extranonce, got %+v", w3.Nonces)
	}
}

func TestSubmitWorkRecoversNoncesFromEarlierExtranonceRoll(t *testing.T) {
	e := newEngine()
	w1, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	firstData := w1.Data

	w2, err := e.CreateWork()
	if err != nil {
		t.Fatalf("second CreateWork: %v", err)
	}
	// Force the target wide open (on the most recently dispatched unit,
	// the one SubmitWork's difficulty check consults) so this test
	// isolates the merkle-root re-association path from nonce search.
	var openTarget [32]byte
	for i := range openTarget {
		openTarget[i] = 0xff
	}
	w2.Target = openTarget

	// firstData still encodes the earlier extranonce's merkle root; it
	// must still be accepted even though it is no longer the most
	// recently dispatched work unit.
	if _, err := e.SubmitWork(firstData); err != nil {
		t.Fatalf("SubmitWork on an earlier extranonce roll: %v", err)
	}
}

func TestLongpollUnblocksOnRefresh(t *testing.T) {
	e := newEngine()
	if _, err := e.CreateWork(); err != nil {
		t.Fatalf("CreateWork: %v", err)
	}

	done := make(chan *work.Work, 1)
	go func() {
		w, err := e.Longpoll(context.Background())
		if err != nil {
			t.Errorf("Longpoll: %v", err)
			return
		}
		done <- w
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := e.RefreshBlock(); err != nil {
		t.Fatalf("RefreshBlock: %v", err)
	}

	select {
	case w := <-done:
		if w == nil {
			t.Fatal("expected longpoll to return the refreshed work")
		}
	case <-time.After(time.Second):
		t.Fatal("longpoll did not unblock after RefreshBlock")
	}
}

func TestLongpollRespectsContextCancellation(t *testing.T) {
	e := newEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Longpoll(ctx); err == nil {
		t.Fatal("expected Longpoll to report the cancelled context")
	}
}

func TestSubmitWorkRoundTripsEncoding(t *testing.T) {
	e := newEngine()
	w, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}

	// Force the target wide open so any decoded header passes the
	// proof-of-work check, isolating this test to the encode/decode path
	// rather than nonce search.
	var openTarget [32]byte
	for i := range openTarget {
		openTarget[i] = 0xff
	}
	w.Target = openTarget

	if _, err := e.SubmitWork(w.Data); err != nil {
		t.Fatalf("SubmitWork: %v", err)
	}
}

func TestSubmitWorkRejectsInsufficientDifficulty(t *testing.T) {
	e := newEngine()
	w, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}

	var closedTarget [32]byte // all-zero target: nothing can meet it
	w.Target = closedTarget

	if _, err := e.SubmitWork(w.Data); err == nil {
		t.Fatal("expected SubmitWork to reject a header that cannot meet an all-zero target")
	}
}

func TestAddBlockAcceptsAndForwardsToChain(t *testing.T) {
	e, chain := newEngineWithChain()
	w, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	var openTarget [32]byte
	for i := range openTarget {
		openTarget[i] = 0xff
	}
	w.Target = openTarget

	block := &wireformat.Block{Header: w.Header, Transactions: []*wireformat.Tx{coinbaseStub()}}
	if err := e.AddBlock(block.Serialize()); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if chain.submitted == nil {
		t.Fatal("expected the block to be forwarded to the chain collaborator")
	}
	if chain.submitted.Header.BlockHash() != block.Header.BlockHash() {
		t.Fatal("expected the chain to receive the same block that was submitted")
	}
}

func TestAddBlockRejectsPrevBlockMismatch(t *testing.T) {
	e, chain := newEngineWithChain()
	w, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}

	header := w.Header
	header.PrevBlock = wireformat.Hash{0xee}
	block := &wireformat.Block{Header: header, Transactions: []*wireformat.Tx{coinbaseStub()}}

	if err := e.AddBlock(block.Serialize()); err == nil {
		t.Fatal("expected AddBlock to reject a block that does not extend the current tip")
	}
	if chain.submitted != nil {
		t.Fatal("expected a rejected block to never reach the chain collaborator")
	}
}

func TestAddBlockRejectsMalformedPayload(t *testing.T) {
	e := newEngine()
	if _, err := e.CreateWork(); err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	if err := e.AddBlock([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected AddBlock to reject a payload too short to contain a header")
	}
}

func TestAddBlockFixesUpMissingWitnessNonce(t *testing.T) {
	e, chain := newEngineWithChain()
	w, err := e.CreateWork()
	if err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	var openTarget [32]byte
	for i := range openTarget {
		openTarget[i] = 0xff
	}
	w.Target = openTarget

	coinbase := coinbaseStub()
	spender := &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{TxID: wireformat.Hash{0x01}, Index: 0},
			SignatureScript:  nil,
			Witness:          [][]byte{{0x30, 0x44}},
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{Value: 1000, PkScript: []byte{0x51}}},
	}
	block := &wireformat.Block{Header: w.Header, Transactions: []*wireformat.Tx{coinbase, spender}}

	if err := e.AddBlock(block.Serialize()); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	got := chain.submitted.Transactions[0].TxIn[0].Witness
	if len(got) != 1 || len(got[0]) != 32 {
		t.Fatalf("expected a synthesized 32-byte witness nonce on the coinbase, got %v", got)
	}
}
