// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainiface declares the external collaborators the mempool,
// validator and mining packages consume, per spec §6: the chain, its
// database surface, the fee estimator, and the BIP9 deployment state
// machine. None of these are implemented here — the peer-to-peer pool, the
// chain database storage engine and consensus rule authoring are explicitly
// out of scope (spec §1) — but the shapes are pinned down so the core
// packages can be built and unit-tested against fakes.
package chainiface

import (
	"context"
	"time"

	"github.com/lcoin/nodecore/wireformat"
)

// DeploymentState is a BIP9 soft-fork deployment's state machine position.
type DeploymentState int

const (
	// DeploymentDefined is the initial state before the deployment's
	// start time has been reached.
	DeploymentDefined DeploymentState = iota
	// DeploymentStarted means miners may begin signalling readiness.
	DeploymentStarted
	// DeploymentLockedIn means the signalling threshold was met in the
	// current period; activation is now scheduled.
	DeploymentLockedIn
	// DeploymentActive means the deployment's rules are consensus rules.
	DeploymentActive
	// DeploymentFailed means the deployment's signalling window elapsed
	// without reaching the threshold; it will never activate.
	DeploymentFailed
)

// Deployment identifies one BIP9 soft fork by name and version bit.
type Deployment struct {
	Name string
	Bit  uint8
	// ForceActive, when true, is used by regression-test style networks to
	// treat the deployment as unconditionally active.
	ForceActive bool
}

// ChainState exposes the bit predicates the validator and template builder
// need to know which consensus rules are live at the current tip.
type ChainState interface {
	HasCSV() bool
	HasWitness() bool
	HasBIP34() bool
	HasBIP66() bool
	HasCLTV() bool
}

// SequenceLock is the result of evaluating BIP68 relative lock-time rules
// for a transaction against a given UTXO view.
type SequenceLock struct {
	Seconds      int64
	BlockHeight  int32
}

// Chain is the subset of full-node chain state the mempool/validator/mining
// packages need. A real implementation is backed by the chain database and
// consensus engine, both out of scope here.
type Chain interface {
	Tip() wireformat.Hash
	Height() int32
	Synced() bool
	State() ChainState

	// GetDeploymentState returns deployment's current state as observed at
	// the block identified by entryHash.
	GetDeploymentState(entryHash wireformat.Hash, deployment Deployment) (DeploymentState, error)

	// VerifyLocks checks a transaction's BIP68 sequence locks against the
	// chain as it stands at the next block.
	VerifyLocks(ctx context.Context, tx *wireformat.Tx, view CoinViewReader) (*SequenceLock, error)

	// VerifyFinal checks nLockTime finality per STANDARD_LOCKTIME_FLAGS.
	VerifyFinal(tx *wireformat.Tx, height int32, medianTimePast time.Time) bool

	// MedianTimePast returns the median time past of the current tip,
	// used for locktime and deployment-state evaluation.
	MedianTimePast() time.Time

	// SubmitBlock hands a fully assembled, proof-of-work-valid block to the
	// chain for consensus validation, connection and relay — the
	// work/longpoll engine's "add(block)"/"_add(block)" collaborator (spec
	// §6). It returns an error whose message is surfaced to the submitter
	// verbatim (prefixed "rejected: " by the caller) when the chain rejects
	// the block; a nil error means the block connected.
	SubmitBlock(block *wireformat.Block) error

	DB() ChainDB
}

// CoinViewReader is the minimal read surface the coin viewpoint (C1) needs
// from the chain database to resolve outputs not present in the mempool.
type CoinViewReader interface {
	GetCoin(op wireformat.Outpoint) (value int64, pkScript []byte, isCoinbase bool, height int32, ok bool)
}

// ChainDB is the database surface section 6 names: coins, entries, blocks,
// tips, and the three key-space byte-count accessors Bitcoin Core's
// `gettxoutsetinfo`-style RPC reports.
type ChainDB interface {
	GetCoins(op wireformat.Outpoint) (value int64, pkScript []byte, isCoinbase bool, height int32, ok bool)
	HasCoins(txID wireformat.Hash) bool
	GetEntry(hash wireformat.Hash) (height int32, ok bool)
	GetBlock(hash wireformat.Hash) ([]byte, bool)
	GetHash(height int32) (wireformat.Hash, bool)
	GetNextHash(hash wireformat.Hash) (wireformat.Hash, bool)
	GetTips() []wireformat.Hash

	StateSizes() (txCount, coinCount int64, totalValue int64)
}

// FeeEstimator is the mutable fee-rate estimator consulted by RPC methods
// like estimatefee/estimatesmartfee and kept current by the mempool on
// admission and block connect, per spec §6.
type FeeEstimator interface {
	EstimateFee(confirmTarget int32, smart bool) (satPerKB int64, err error)
	EstimatePriority(confirmTarget int32, smart bool) (priority float64, err error)
	ProcessTransaction(txID wireformat.Hash, feeRate int64, height int32)
	ProcessBlock(height int32, confirmedTxIDs []wireformat.Hash)
	RemoveTx(txID wireformat.Hash)
	Reset()
	ToRaw() []byte
	FromRaw(raw []byte) error
}
