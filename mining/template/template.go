// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package template implements the block template builder (C7): selecting a
// profitable, dependency-respecting subset of the mempool, building the
// coinbase, and assembling an as-yet-unsolved block header for a miner or
// getwork client to fill in. Grounded on the teacher's
// mining.NewBlockTemplate/txPriorityQueue pairing, generalized from
// per-transaction FeePerKB ordering to descendant-package fee-rate ordering
// (Entry.PackageFeeRate) so a low-fee parent propped up by a high-fee child
// is selected early,
// matching spec §4.6/C7's block-template semantics.
package template

import (
	"container/heap"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/wireformat"
)

// CoinbaseFlags is embedded in the coinbase scriptSig to identify this
// software, mirroring the teacher's CoinbaseFlags convention.
const CoinbaseFlags = "/nodecore/"

// maxBlockWeight bounds the total weight (BIP141) of transactions (not
// counting the coinbase) a template may include.
const maxBlockWeight = 4_000_000

// Template is a block that is complete except for its proof of work: a
// coinbase transaction, a selection of mempool transactions, and a header
// with everything but the nonce (and, for legacy getwork clients, with the
// nonce field present but meaningless until filled in) set.
type Template struct {
	Header       wireformat.BlockHeader
	Coinbase     *wireformat.Tx
	Transactions []*wireformat.Tx

	// Fees and SigOpCosts are parallel to Transactions (the coinbase is
	// not included), exactly mirroring the teacher's BlockTemplate shape.
	Fees       []int64
	SigOpCosts []int64

	Height        int32
	CoinbaseValue int64

	// ValidPayAddress records whether Builder was given a concrete payout
	// script for the coinbase, or synthesized a placeholder; RPC callers
	// need to know this to decide whether the template's "coinbasevalue"
	// field or a full "coinbasetxn" must be returned to the client —
	// see DESIGN.md's note on this preserved quirk.
	ValidPayAddress bool
}

// txCandidate adapts a mempool.Entry for the selection queue, tracking how
// many of its in-pool ancestors have not yet been included in the
// in-progress template; it only becomes eligible for selection once that
// count reaches zero.
type txCandidate struct {
	entry         *mempool.Entry
	depsRemaining int
}

// Builder assembles block templates against a mempool snapshot and chain
// state.
type Builder struct {
	Pool  *mempool.Pool
	Chain chainiface.Chain

	// PayScript is the coinbase output's locking script; if empty, the
	// template carries a placeholder and ValidPayAddress is false (used
	// by legacy getwork clients that supply their own payout address out
	// of band).
	PayScript []byte

	// Deployments lists the soft-fork bits whose activation state this
	// builder must consult before deciding whether to signal them in the
	// block's version field, per BIP9.
	Deployments []chainiface.Deployment
}

// Build assembles a new Template atop the current chain tip.
func (b *Builder) Build() (*Template, error) {
	height := b.Chain.Height() + 1

	candidates := make(map[wireformat.Hash]*txCandidate)
	for _, e := range b.Pool.Snapshot() {
		candidates[e.TxID()] = &txCandidate{entry: e}
	}
	for _, c := range candidates {
		for parentID := range c.entry.Parents() {
			if _, inPool := candidates[parentID]; inPool {
				c.depsRemaining++
			}
		}
	}

	q := newQueue(len(candidates))
	for _, c := range candidates {
		if c.depsRemaining == 0 {
			heap.Push(q, &item{entry: c, feeRate: c.entry.PackageFeeRate()})
		}
	}

	var (
		selected   []*wireformat.Tx
		fees       []int64
		sigOps     []int64
		totalFees  int64
		weight     int64
	)
	included := make(map[wireformat.Hash]bool)

	for q.Len() > 0 {
		top := heap.Pop(q).(*item)
		c := top.entry

		if weight+c.entry.Tx.Weight() > maxBlockWeight {
			continue
		}

		selected = append(selected, c.entry.Tx)
		fees = append(fees, c.entry.Fee)
		sigOps = append(sigOps, c.entry.SigOps)
		totalFees += c.entry.Fee
		weight += c.entry.Tx.Weight()
		included[c.entry.TxID()] = true

		for childID, child := range c.entry.Children() {
			cc, ok := candidates[childID]
			if !ok {
				continue
			}
			cc.depsRemaining--
			if cc.depsRemaining == 0 {
				heap.Push(q, &item{entry: cc, feeRate: cc.entry.PackageFeeRate()})
			}
		}
	}

	coinbase, coinbaseValue, validPayAddress := b.buildCoinbase(height, totalFees)

	version := b.computeVersion()
	header := wireformat.BlockHeader{
		Version:    version,
		PrevBlock:  b.Chain.Tip(),
		Timestamp:  timeNow(),
		Bits:       0, // filled in by the caller from the chain's difficulty retarget, out of scope here
	}

	merkleLeaves := make([]wireformat.Hash, 0, len(selected)+1)
	merkleLeaves = append(merkleLeaves, coinbase.ID())
	for _, tx := range selected {
		merkleLeaves = append(merkleLeaves, tx.ID())
	}
	header.MerkleRoot = wireformat.MerkleRoot(merkleLeaves)

	log.Debugf("Built block template at height %d with %d transactions, %d total fees",
		height, len(selected), totalFees)

	return &Template{
		Header:          header,
		Coinbase:        coinbase,
		Transactions:    selected,
		Fees:            fees,
		SigOpCosts:      sigOps,
		Height:          height,
		CoinbaseValue:   coinbaseValue,
		ValidPayAddress: validPayAddress,
	}, nil
}

// buildCoinbase constructs the coinbase transaction paying the block
// subsidy plus collected fees to b.PayScript. When PayScript is empty, the
// coinbase still carries correct value bookkeeping (needed by legacy
// getwork's "coinbasevalue" field) but a placeholder (non-spendable)
// locking script, matching the kept historical quirk described in
// DESIGN.md: some RPC callers only ever consumed the value, never the
// script, so this repository continues to support that split instead of
// forcing every caller onto the newer "coinbasetxn" shape.
func (b *Builder) buildCoinbase(height int32, fees int64) (*wireformat.Tx, int64, bool) {
	subsidy := blockSubsidy(height)
	value := subsidy + fees

	payScript := b.PayScript
	validPayAddress := len(payScript) > 0
	if !validPayAddress {
		payScript = []byte{0x6a} // OP_RETURN placeholder: unspendable, value-only
	}

	coinbase := &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: wireformat.Outpoint{Index: 0xffffffff},
			SignatureScript:  coinbaseScriptSig(height),
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{Value: value, PkScript: payScript}},
	}
	return coinbase, value, validPayAddress
}

// coinbaseScriptSig encodes the BIP34 block-height push followed by the
// software identification flags.
func coinbaseScriptSig(height int32) []byte {
	b := []byte{byte(height), byte(height >> 8), byte(height >> 16)}
	return append(append([]byte{byte(len(b))}, b...), []byte(CoinbaseFlags)...)
}

// blockSubsidy returns the block reward at height under the standard
// 210,000-block halving schedule.
func blockSubsidy(height int32) int64 {
	const initialSubsidy = 50 * 1e8
	halvings := height / 210000
	if halvings >= 64 {
		return 0
	}
	return initialSubsidy >> uint(halvings)
}

// computeVersion sets the version-bits signalling fields for every
// deployment currently in its started or locked-in state, per BIP9.
func (b *Builder) computeVersion() int32 {
	const versionTopBits = 0x20000000
	version := int32(versionTopBits)
	tip := b.Chain.Tip()
	for _, d := range b.Deployments {
		state, err := b.Chain.GetDeploymentState(tip, d)
		if err != nil {
			continue
		}
		if state == chainiface.DeploymentStarted || state == chainiface.DeploymentLockedIn {
			version |= 1 << uint(d.Bit)
		}
	}
	return version
}

// timeNow is a seam so tests can observe a fixed template timestamp; it is
// the only place this package touches wall-clock time directly.
var timeNow = func() time.Time { return time.Now() }
