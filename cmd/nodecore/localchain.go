// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"sync"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/script"
	"github.com/lcoin/nodecore/wireformat"
)

// localChain is a standalone, in-memory stand-in for chainiface.Chain, used
// only so this binary can run without a full chain database and consensus
// engine attached (both out of scope per spec §1, see domain/chainiface's
// package doc). It tracks nothing beyond a synthetic tip height and an
// operator-supplied coin set, enough to exercise the mempool, validator and
// mining/template pipeline end to end. A production deployment replaces
// this file with a real chainiface.Chain backed by a chain database.
type localChain struct {
	mtx    sync.RWMutex
	height int32
	tip    wireformat.Hash
	db     *localChainDB
}

func newLocalChain(coins map[wireformat.Outpoint]localCoin) *localChain {
	return &localChain{
		height: 0,
		db:     &localChainDB{coins: coins},
	}
}

func (c *localChain) Tip() wireformat.Hash { return c.tip }

func (c *localChain) Height() int32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.height
}

func (c *localChain) Synced() bool { return true }

func (c *localChain) State() chainiface.ChainState { return localChainState{} }

func (c *localChain) GetDeploymentState(wireformat.Hash, chainiface.Deployment) (chainiface.DeploymentState, error) {
	return chainiface.DeploymentActive, nil
}

func (c *localChain) VerifyLocks(context.Context, *wireformat.Tx, chainiface.CoinViewReader) (*chainiface.SequenceLock, error) {
	return &chainiface.SequenceLock{Seconds: -1, BlockHeight: -1}, nil
}

func (c *localChain) VerifyFinal(tx *wireformat.Tx, height int32, medianTimePast time.Time) bool {
	return true
}

func (c *localChain) MedianTimePast() time.Time { return time.Now() }

// SubmitBlock accepts any proof-of-work-valid block and advances the
// synthetic tip to it; a real chainiface.Chain would run full consensus
// validation (difficulty, merkle root, script verification of every
// transaction) before connecting, all out of scope per spec §1.
func (c *localChain) SubmitBlock(block *wireformat.Block) error {
	hash := block.Header.BlockHash()
	c.advance(hash)
	return nil
}

func (c *localChain) DB() chainiface.ChainDB { return c.db }

// advance bumps the synthetic tip, used after a template is declared solved
// by the CPU miner so the next template is built at the next height.
func (c *localChain) advance(newTip wireformat.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.height++
	c.tip = newTip
}

type localChainState struct{}

func (localChainState) HasCSV() bool     { return true }
func (localChainState) HasWitness() bool { return true }
func (localChainState) HasBIP34() bool   { return true }
func (localChainState) HasBIP66() bool   { return true }
func (localChainState) HasCLTV() bool    { return true }

type localCoin struct {
	Value      int64
	PkScript   []byte
	IsCoinbase bool
	Height     int32
}

// localChainDB backs localChain's DB() with a fixed coin set supplied at
// startup; it never learns about new blocks, which is fine for exercising
// the mempool/validator/template pipeline but means previously-mined
// coinbases are never added back as spendable inputs.
type localChainDB struct {
	mtx   sync.RWMutex
	coins map[wireformat.Outpoint]localCoin
}

func (db *localChainDB) GetCoins(op wireformat.Outpoint) (int64, []byte, bool, int32, bool) {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	c, ok := db.coins[op]
	if !ok {
		return 0, nil, false, 0, false
	}
	return c.Value, c.PkScript, c.IsCoinbase, c.Height, true
}

func (db *localChainDB) HasCoins(txID wireformat.Hash) bool {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	for op := range db.coins {
		if op.TxID == txID {
			return true
		}
	}
	return false
}

func (db *localChainDB) GetEntry(wireformat.Hash) (int32, bool)              { return 0, false }
func (db *localChainDB) GetBlock(wireformat.Hash) ([]byte, bool)             { return nil, false }
func (db *localChainDB) GetHash(int32) (wireformat.Hash, bool)               { return wireformat.Hash{}, false }
func (db *localChainDB) GetNextHash(wireformat.Hash) (wireformat.Hash, bool) { return wireformat.Hash{}, false }
func (db *localChainDB) GetTips() []wireformat.Hash                         { return nil }

func (db *localChainDB) StateSizes() (int64, int64, int64) {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	var totalValue int64
	for _, c := range db.coins {
		totalValue += c.Value
	}
	return 0, int64(len(db.coins)), totalValue
}

// acceptVerifier is a script.Verifier that accepts every input, standing in
// for the script interpreter (out of scope per spec §1, see
// domain/script's package doc). It exists so this binary's admission
// pipeline runs end to end without a real signature-checking engine
// attached; a production deployment supplies a real script.Verifier.
type acceptVerifier struct{}

func (acceptVerifier) Verify(*wireformat.Tx, [][]byte, []int64, script.VerifyFlags, *script.SigCache) error {
	return nil
}
