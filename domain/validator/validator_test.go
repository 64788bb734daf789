// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validator_test

import (
	"context"
	"testing"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/domain/script"
	"github.com/lcoin/nodecore/domain/validator"
	"github.com/lcoin/nodecore/wireformat"
)

type fakeDB struct {
	coins map[wireformat.Outpoint]struct {
		value      int64
		pkScript   []byte
		isCoinbase bool
		height     int32
	}
}

func newFakeDB() *fakeDB {
	return &fakeDB{coins: make(map[wireformat.Outpoint]struct {
		value      int64
		pkScript   []byte
		isCoinbase bool
		height     int32
	})}
}

func (f *fakeDB) put(op wireformat.Outpoint, value int64, pkScript []byte, isCoinbase bool, height int32) {
	f.coins[op] = struct {
		value      int64
		pkScript   []byte
		isCoinbase bool
		height     int32
	}{value, pkScript, isCoinbase, height}
}

func (f *fakeDB) GetCoins(op wireformat.Outpoint) (int64, []byte, bool, int32, bool) {
	c, ok := f.coins[op]
	if !ok {
		return 0, nil, false, 0, false
	}
	return c.value, c.pkScript, c.isCoinbase, c.height, true
}
func (f *fakeDB) HasCoins(txID wireformat.Hash) bool {
	for op := range f.coins {
		if op.TxID == txID {
			return true
		}
	}
	return false
}
func (f *fakeDB) GetEntry(wireformat.Hash) (int32, bool)              { return 0, false }
func (f *fakeDB) GetBlock(wireformat.Hash) ([]byte, bool)            { return nil, false }
func (f *fakeDB) GetHash(int32) (wireformat.Hash, bool)              { return wireformat.Hash{}, false }
func (f *fakeDB) GetNextHash(wireformat.Hash) (wireformat.Hash, bool) { return wireformat.Hash{}, false }
func (f *fakeDB) GetTips() []wireformat.Hash                         { return nil }
func (f *fakeDB) StateSizes() (int64, int64, int64)                  { return 0, 0, 0 }

type fakeChain struct {
	db         *fakeDB
	height     int32
	hasWitness bool
}

func (c *fakeChain) Tip() wireformat.Hash { return wireformat.Hash{} }
func (c *fakeChain) Height() int32        { return c.height }
func (c *fakeChain) Synced() bool         { return true }
func (c *fakeChain) State() chainiface.ChainState { return fakeChainState{hasWitness: c.hasWitness} }

type fakeChainState struct{ hasWitness bool }

func (s fakeChainState) HasCSV() bool     { return true }
func (s fakeChainState) HasWitness() bool { return s.hasWitness }
func (s fakeChainState) HasBIP34() bool   { return true }
func (s fakeChainState) HasBIP66() bool   { return true }
func (s fakeChainState) HasCLTV() bool    { return true }
func (c *fakeChain) GetDeploymentState(wireformat.Hash, chainiface.Deployment) (chainiface.DeploymentState, error) {
	return chainiface.DeploymentActive, nil
}
func (c *fakeChain) VerifyLocks(context.Context, *wireformat.Tx, chainiface.CoinViewReader) (*chainiface.SequenceLock, error) {
	return nil, nil
}
func (c *fakeChain) VerifyFinal(*wireformat.Tx, int32, time.Time) bool { return true }
func (c *fakeChain) MedianTimePast() time.Time                        { return time.Unix(1700000000, 0) }
func (c *fakeChain) SubmitBlock(*wireformat.Block) error              { return nil }
func (c *fakeChain) DB() chainiface.ChainDB                            { return c.db }

type fakeVerifier struct{ fail bool }

func (v *fakeVerifier) Verify(*wireformat.Tx, [][]byte, []int64, script.VerifyFlags, *script.SigCache) error {
	if v.fail {
		return &validator.Error{}
	}
	return nil
}

func policy() validator.Policy {
	return validator.Policy{
		AcceptNonStd:  false,
		MaxTxVersion:  2,
		MinRelayTxFee: 1000,
	}
}

func spendableTx(parent wireformat.Outpoint, value int64) *wireformat.Tx {
	return &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: parent,
			SignatureScript:  []byte{0x01, 0x02, 0x03},
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{Value: value, PkScript: []byte{0x76, 0xa9, 0x14}}},
	}
}

func TestAcceptAdmitsStandardSpend(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x01}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	tx := spendableTx(parent, 99_000_000)
	missing, entry, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing parents, got %v", missing)
	}
	if entry == nil {
		t.Fatal("expected a pool entry")
	}
	if !pool.HaveTransaction(tx.ID()) {
		t.Fatal("expected transaction admitted to the pool")
	}
}

func TestAcceptReportsMissingParent(t *testing.T) {
	db := newFakeDB()
	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	missingParent := wireformat.Outpoint{TxID: wireformat.Hash{0x02}, Index: 0}
	tx := spendableTx(missingParent, 1000)

	missing, entry, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("unexpected error for orphan candidate: %v", err)
	}
	if entry != nil {
		t.Fatal("expected no entry for an orphan candidate")
	}
	if len(missing) != 1 || missing[0] != missingParent {
		t.Fatalf("expected missing parent reported, got %v", missing)
	}
}

func TestAcceptRejectsInsufficientFee(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x03}, Index: 0}
	db.put(parent, 1000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	tx := spendableTx(parent, 1000) // zero fee
	_, _, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err == nil {
		t.Fatal("expected a rejection for a zero-fee transaction")
	}
	verr, ok := err.(*validator.Error)
	if !ok {
		t.Fatalf("expected *validator.Error, got %T", err)
	}
	if verr.Category != validator.CategoryInsufficientFee {
		t.Fatalf("expected CategoryInsufficientFee, got %v", verr.Category)
	}
}

func TestDryRunDoesNotAdmitToPool(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x04}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	tx := spendableTx(parent, 99_000_000)
	missing, entry, err := val.DryRun(context.Background(), tx, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing parents, got %v", missing)
	}
	if entry == nil {
		t.Fatal("expected a would-be pool entry describing the fee it would pay")
	}
	if pool.HaveTransaction(tx.ID()) {
		t.Fatal("expected DryRun not to admit the transaction into the pool")
	}
}

func TestAcceptRejectsPrematureWitness(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x05}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100} // hasWitness defaults to false
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	tx := spendableTx(parent, 99_000_000)
	tx.TxIn[0].Witness = [][]byte{{0x01}}

	_, _, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err == nil {
		t.Fatal("expected a premature-witness rejection")
	}
	verr, ok := err.(*validator.Error)
	if !ok {
		t.Fatalf("expected *validator.Error, got %T", err)
	}
	if !verr.Malleated {
		t.Fatal("expected the premature-witness rejection to be flagged as malleated, not cached as a ban-worthy reject")
	}
}

func TestAcceptAllowsWitnessOnceChainSupportsIt(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x06}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100, hasWitness: true}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	tx := spendableTx(parent, 99_000_000)
	tx.TxIn[0].Witness = [][]byte{{0x01}}

	_, entry, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if entry == nil {
		t.Fatal("expected the witness transaction to be admitted once the chain supports it")
	}
}

func TestAcceptReplacesConflictWhenOptedInAndPolicyAllows(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x07}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	pol := policy()
	pol.ReplaceByFee = true
	val := validator.New(pol, chain, pool, &fakeVerifier{})

	original := spendableTx(parent, 99_000_000)
	original.TxIn[0].Sequence = 0 // opts in to BIP125 replacement
	if _, _, err := val.Accept(context.Background(), original, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("Accept(original): %v", err)
	}

	replacement := spendableTx(parent, 98_000_000) // pays a higher fee
	replacement.TxIn[0].Sequence = 0
	_, entry, err := val.Accept(context.Background(), replacement, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Accept(replacement): %v", err)
	}
	if entry == nil {
		t.Fatal("expected the replacement to be admitted")
	}
	if pool.HaveTransaction(original.ID()) {
		t.Fatal("expected the original to be evicted by its replacement")
	}
	if !pool.HaveTransaction(replacement.ID()) {
		t.Fatal("expected the replacement to be admitted into the pool")
	}
}

func TestAcceptRejectsConflictWhenReplaceByFeeDisabled(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x08}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	val := validator.New(policy(), chain, pool, &fakeVerifier{}) // ReplaceByFee defaults to false

	original := spendableTx(parent, 99_000_000)
	original.TxIn[0].Sequence = 0
	if _, _, err := val.Accept(context.Background(), original, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("Accept(original): %v", err)
	}

	replacement := spendableTx(parent, 98_000_000)
	replacement.TxIn[0].Sequence = 0
	_, _, err := val.Accept(context.Background(), replacement, time.Unix(1700000000, 0))
	if err == nil {
		t.Fatal("expected the conflicting replacement to be rejected with replace-by-fee disabled")
	}
	if !pool.HaveTransaction(original.ID()) {
		t.Fatal("expected the original to remain admitted")
	}
}

func TestAcceptAllowsFreeTransactionOnlyWithSufficientPriority(t *testing.T) {
	db := newFakeDB()
	// A large, old, high-value input gives this transaction a priority far
	// above allowFreeThreshold despite it paying no fee.
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x09}, Index: 0}
	db.put(parent, 1_000_000_000_000, []byte{0x76, 0xa9, 0x14}, false, 1)

	chain := &fakeChain{db: db, height: 100000}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	pol := policy()
	pol.RelayPriority = true
	val := validator.New(pol, chain, pool, &fakeVerifier{})

	tx := spendableTx(parent, 1_000_000_000_000) // zero fee
	_, entry, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("expected a high-priority free transaction to be admitted: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a pool entry for the free transaction")
	}
}

func TestAcceptThrottlesFreeTransactionsViaTokenBucket(t *testing.T) {
	chain := &fakeChain{db: newFakeDB(), height: 100000}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	pol := policy()
	pol.RelayPriority = true
	pol.LimitFree = true
	pol.LimitFreeRelay = 0 // zero capacity: the very first free transaction already exceeds the cap
	val := validator.New(pol, chain, pool, &fakeVerifier{})

	db := chain.db
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x0a}, Index: 0}
	db.put(parent, 1_000_000_000_000, []byte{0x76, 0xa9, 0x14}, false, 1)

	tx := spendableTx(parent, 1_000_000_000_000)
	_, _, err := val.Accept(context.Background(), tx, time.Unix(1700000000, 0))
	if err == nil {
		t.Fatal("expected the free-relay token bucket to reject a transaction over its zero capacity")
	}
}

func TestHandleDisconnectedBlockResubmitsNonCoinbaseTransactions(t *testing.T) {
	db := newFakeDB()
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x0b}, Index: 0}
	db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14}, false, 50)

	chain := &fakeChain{db: db, height: 100}
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000, Limits: mempool.Limits{
		MaxAncestorCount: 25, MaxAncestorSize: 100000, MaxDescendantCount: 25, MaxDescendantSize: 100000,
	}})
	val := validator.New(policy(), chain, pool, &fakeVerifier{})

	coinbase := &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{Index: ^uint32(0)},
		}},
		TxOut: []*wireformat.TxOut{{Value: 5_000_000_000, PkScript: []byte{0x51}}},
	}
	tx := spendableTx(parent, 99_000_000)
	block := &wireformat.Block{Transactions: []*wireformat.Tx{coinbase, tx}}

	val.HandleDisconnectedBlock(context.Background(), block)

	if !pool.HaveTransaction(tx.ID()) {
		t.Fatal("expected the disconnected block's non-coinbase transaction to be re-admitted to the pool")
	}
	if pool.HaveTransaction(coinbase.ID()) {
		t.Fatal("expected the coinbase to be skipped during reorg re-insertion")
	}
}
