// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package validator implements the transaction admission pipeline (C4):
// the sequence of sanity, standardness, double-spend, sequence-lock, fee
// and script checks a transaction must pass before domain/mempool will
// admit it. Grounded on the teacher's TxPool.maybeAcceptTransaction, whose
// step ordering this pipeline follows closely, generalized from kaspad's
// multi-parent DAG/subnetwork/GAS model down to single-parent Bitcoin-style
// validation (sequence locks, witness, standardness) per this repository's
// scope.
package validator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/coinview"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/domain/script"
	"github.com/lcoin/nodecore/wireformat"
)

const (
	// maxStandardTxWeight bounds a relayed transaction's BIP141 weight,
	// matching Bitcoin Core's MAX_STANDARD_TX_WEIGHT.
	maxStandardTxWeight = 400000

	// maxStandardTxSigOpsCost bounds a relayed transaction's sigop cost.
	maxStandardTxSigOpsCost = maxStandardTxWeight / 5

	// maxStandardScriptSigSize bounds an input's scriptSig, guarding
	// against unreasonably large redeem scripts in non-P2SH spends.
	maxStandardScriptSigSize = 1650

	// coinbaseMaturity is the number of confirmations a coinbase output
	// must accumulate before it may be spent.
	coinbaseMaturity = 100

	// absurdFeeMultiplier flags a fee as probably a user mistake (e.g. a
	// misplaced decimal point) when it exceeds the minimum relay fee by
	// more than this factor.
	absurdFeeMultiplier = 10000

	// maxRBFSequence is the BIP125 opt-in replace-by-fee threshold: an
	// input whose sequence number is below this value signals that its
	// transaction may be replaced by a higher-fee conflict.
	maxRBFSequence = 0xfffffffe

	// oneCoin is one bitcoin in satoshis, used only to express
	// allowFreeThreshold in the same units the teacher's priority
	// calculation uses.
	oneCoin = 100000000

	// allowFreeThreshold is the priority (coin-days-destroyed per byte)
	// above which a transaction may be relayed free of charge even though
	// it does not meet the minimum relay fee, mirroring Bitcoin Core's
	// AllowFree threshold of one coin aged one day (144 blocks) per 250 bytes.
	allowFreeThreshold = float64(oneCoin) * 144 / 250

	// freeRelayHalfLife is the decay constant of the free-transaction
	// token bucket: its balance halves every ten minutes of elapsed time.
	freeRelayHalfLife = 600 // seconds
)

// Policy configures the standardness and fee thresholds the validator
// enforces, independent of consensus rules.
type Policy struct {
	AcceptNonStd    bool
	MaxTxVersion    int32
	MinRelayTxFee   int64 // satoshis per thousand bytes
	MaxOrphanTxSize int

	// ReplaceByFee allows a transaction to evict a conflicting,
	// BIP125-opted-in mempool transaction rather than being rejected
	// outright as a double-spend.
	ReplaceByFee bool

	// PrematureWitness, when true, accepts segwit-structured transactions
	// even before the chain has activated witness support. Left false by
	// default so a relay never gets ahead of consensus.
	PrematureWitness bool

	// RelayPriority allows a transaction below the minimum relay fee to be
	// admitted anyway if its priority (coin age destroyed per byte)
	// exceeds allowFreeThreshold.
	RelayPriority bool

	// LimitFree throttles priority-qualified free transactions through a
	// token bucket so a burst of them cannot fill the mempool for free.
	LimitFree bool

	// LimitFreeRelay is the free-relay token bucket's capacity, in the
	// same units as -limitfreerelay: thousand-bytes-per-ten-minutes. The
	// bucket's hard cap is LimitFreeRelay*10000 bytes.
	LimitFreeRelay float64
}

// Validator runs the admission pipeline against a chain, a mempool, and a
// script verifier collaborator.
type Validator struct {
	Policy   Policy
	Chain    chainiface.Chain
	Pool     *mempool.Pool
	Verifier script.Verifier
	SigCache *script.SigCache

	free freeLimiter
}

// New returns a Validator wired to its collaborators.
func New(policy Policy, chain chainiface.Chain, pool *mempool.Pool, verifier script.Verifier) *Validator {
	return &Validator{
		Policy:   policy,
		Chain:    chain,
		Pool:     pool,
		Verifier: verifier,
		SigCache: script.NewSigCache(100000),
	}
}

// freeLimiter throttles admission of fee-exempt "free" transactions with a
// token bucket whose balance decays exponentially with a ten-minute
// half-life, mirroring the teacher's -limitfreerelay accounting.
type freeLimiter struct {
	mu       sync.Mutex
	balance  float64
	lastTime time.Time
}

// allow reports whether size more bytes of free relay fit under capBytes,
// decaying the bucket's balance for elapsed time before checking.
func (f *freeLimiter) allow(now time.Time, size int64, capBytes float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.lastTime.IsZero() {
		elapsed := now.Sub(f.lastTime).Seconds()
		if elapsed > 0 {
			f.balance *= math.Pow(0.5, elapsed/freeRelayHalfLife)
		}
	}
	f.lastTime = now

	if f.balance+float64(size) >= capBytes {
		return false
	}
	f.balance += float64(size)
	return true
}

// signalsReplacement reports whether tx opts in to BIP125 replace-by-fee:
// at least one input's sequence number is below maxRBFSequence.
func signalsReplacement(tx *wireformat.Tx) bool {
	for _, in := range tx.TxIn {
		if in.Sequence < maxRBFSequence {
			return true
		}
	}
	return false
}

// calcPriority computes a transaction's relay priority: the coin-days
// destroyed by its inputs (value times confirmation age) per byte of its
// serialized size, the same "coin age" measure the teacher's free-relay
// exemption is keyed on.
func calcPriority(tx *wireformat.Tx, view *coinview.View, nextHeight int32) float64 {
	var valueIn float64
	for _, in := range tx.TxIn {
		c, ok := view.GetCoin(in.PreviousOutpoint)
		if !ok {
			continue
		}
		age := nextHeight - c.Height
		if age < 0 {
			age = 0
		}
		valueIn += float64(c.Value) * float64(age)
	}
	size := float64(tx.SerializeSize())
	if size == 0 {
		return 0
	}
	return valueIn / size
}

// Accept runs every admission check for tx and, on success, inserts it into
// the mempool. It returns the list of outpoints tx references that are
// missing from both the mempool and the chain — a non-empty list with a
// nil error means tx is an orphan, not invalid, and the caller should queue
// it in the orphan pool instead of reporting a failure.
//
// This mirrors the teacher's maybeAcceptTransaction/ProcessTransaction
// split: the pipeline itself never touches the orphan pool, leaving that
// policy decision to the caller.
func (v *Validator) Accept(ctx context.Context, tx *wireformat.Tx, now time.Time) ([]wireformat.Outpoint, *mempool.Entry, error) {
	return v.run(ctx, tx, now, true)
}

// DryRun executes the same admission pipeline as Accept but never inserts
// the transaction into the pool, mirroring Bitcoin Core's
// testmempoolaccept RPC family: callers learn whether a transaction would
// be accepted, including the fee it would pay, without it occupying a
// mempool slot.
func (v *Validator) DryRun(ctx context.Context, tx *wireformat.Tx, now time.Time) ([]wireformat.Outpoint, *mempool.Entry, error) {
	return v.run(ctx, tx, now, false)
}

// HandleDisconnectedBlock re-submits every non-coinbase transaction in a
// just-disconnected block through the full admission pipeline, the
// counterpart to Pool.HandleNewBlock's removal on connect: a reorg that
// undoes a block must give that block's transactions a chance to return to
// the mempool rather than simply vanish. A transaction that no longer
// validates — one of its inputs was itself undone by the same reorg, or it
// conflicts with something already reinstated — is logged and dropped
// rather than treated as a caller-visible error.
func (v *Validator) HandleDisconnectedBlock(ctx context.Context, block *wireformat.Block) {
	if len(block.Transactions) == 0 {
		return
	}
	for _, tx := range block.Transactions[1:] {
		missing, _, err := v.Accept(ctx, tx, time.Now())
		if err != nil {
			log.Debugf("Dropping disconnected-block transaction %s: %s", tx.ID(), err)
			continue
		}
		if len(missing) > 0 {
			log.Debugf("Disconnected-block transaction %s references inputs no longer available, dropping", tx.ID())
			continue
		}
	}
}

func (v *Validator) run(ctx context.Context, tx *wireformat.Tx, now time.Time, commit bool) ([]wireformat.Outpoint, *mempool.Entry, error) {
	txID := tx.ID()

	// 1. Reject exact duplicates already admitted or already rejected.
	if v.Pool.HaveTransaction(txID) {
		return nil, nil, newError(CategoryDuplicate, 0, "already have transaction %s", txID)
	}
	if v.Pool.IsRejected(txID) {
		return nil, nil, newError(CategoryDuplicate, 0, "transaction %s was recently rejected", txID)
	}

	// 2. A standalone transaction must not be a coinbase.
	if tx.IsCoinBase() {
		return nil, nil, newError(CategoryInvalid, 100, "transaction %s is an individual coinbase", txID)
	}

	// 3. Structural sanity: at least one input and one output, and a
	// version no higher than MaxTxVersion.
	if len(tx.TxIn) == 0 {
		return nil, nil, newError(CategoryInvalid, 100, "transaction %s has no inputs", txID)
	}
	if len(tx.TxOut) == 0 {
		return nil, nil, newError(CategoryInvalid, 100, "transaction %s has no outputs", txID)
	}
	if v.Policy.MaxTxVersion > 0 && tx.Version > v.Policy.MaxTxVersion {
		return nil, nil, newError(CategoryNonStandard, 0, "transaction %s has non-standard version %d", txID, tx.Version)
	}

	// 4. Standardness: version, weight, scriptSig size, dust outputs.
	if !v.Policy.AcceptNonStd {
		if err := v.checkStandard(tx); err != nil {
			return nil, nil, err
		}
	}

	// 5. Premature witness: a segwit-structured transaction relayed before
	// the chain has activated witness support is flagged as malleated
	// (not cached as rejected) rather than banned, since stripping its
	// witness may yield a relay the rest of the network can still accept.
	if !v.Policy.PrematureWitness && tx.HasWitness() && !v.Chain.State().HasWitness() {
		res := newError(CategoryNonStandard, 0, "transaction %s carries witness data before segwit activation", txID)
		res.Malleated = true
		return nil, nil, res
	}

	// 6. Reject if outputs already exist unspent in the chain (this would
	// be a duplicate, already-mined transaction).
	for i := range tx.TxOut {
		if _, _, _, _, ok := v.Chain.DB().GetCoins(wireformat.Outpoint{TxID: txID, Index: uint32(i)}); ok {
			return nil, nil, newError(CategoryDuplicate, 0, "transaction %s already exists", txID)
		}
	}

	// 7. Pool-local double-spend check, honoring opt-in replace-by-fee
	// (BIP125): a conflict is only tolerated when the policy allows
	// replacement and every transaction it would evict signals
	// replaceability. The conflicting entries themselves aren't removed
	// until the transaction has passed every remaining check and commit is
	// requested.
	conflicts, err := v.checkReplaceByFee(tx)
	if err != nil {
		return nil, nil, err
	}

	// 8. Resolve inputs; a missing input (not in mempool, not in the
	// chain) means this is an orphan, not invalid.
	view := coinview.NewView()
	var missing []wireformat.Outpoint
	for _, in := range tx.TxIn {
		if parent, ok := v.Pool.Entry(in.PreviousOutpoint.TxID); ok {
			view.AddTX(parent.Tx, 0)
			continue
		}
		if _, ok := coinview.ReadCoins(ctx, v.Chain.DB(), view, in.PreviousOutpoint.TxID); !ok {
			missing = append(missing, in.PreviousOutpoint)
		}
	}
	if len(missing) > 0 {
		return missing, nil, nil
	}

	// 9. Coinbase maturity: a spent coinbase output must be old enough.
	for _, in := range tx.TxIn {
		coin, ok := view.GetCoin(in.PreviousOutpoint)
		if !ok {
			continue
		}
		if coin.IsCoinbase && v.Chain.Height()+1-coin.Height < coinbaseMaturity {
			return nil, nil, newError(CategoryInvalid, 0,
				"tried to spend coinbase transaction output %s from height %d at height %d",
				in.PreviousOutpoint, coin.Height, v.Chain.Height()+1)
		}
	}

	// 10. BIP68 sequence locks must be satisfied for the next block.
	lock, err := v.Chain.VerifyLocks(ctx, tx, view)
	if err != nil {
		return nil, nil, newError(CategoryInvalid, 0, "error computing sequence locks for %s: %s", txID, err)
	}
	if lock != nil && (lock.Seconds >= 0 || lock.BlockHeight >= v.Chain.Height()+1) {
		return nil, nil, newError(CategoryNonStandard, 0, "transaction %s's sequence locks on inputs not met", txID)
	}

	// 11. nLockTime finality.
	if !v.Chain.VerifyFinal(tx, v.Chain.Height()+1, v.Chain.MedianTimePast()) {
		return nil, nil, newError(CategoryNonStandard, 0, "transaction %s is not finalized", txID)
	}

	// 12. Non-standard inputs: a spent output with an empty locking script.
	if !v.Policy.AcceptNonStd {
		if err := v.checkInputsStandard(tx, view); err != nil {
			return nil, nil, err
		}
	}

	// 13. Fee accounting.
	fee, err := sumFee(tx, view)
	if err != nil {
		return nil, nil, newError(CategoryInvalid, 0, "%s", err)
	}
	if fee < 0 {
		return nil, nil, newError(CategoryInvalid, 100, "transaction %s outputs exceed inputs", txID)
	}

	// 14. Minimum relay fee, with a priority-based free-relay exemption:
	// a transaction that doesn't meet minFee may still be admitted if its
	// priority (coin age destroyed per byte) clears allowFreeThreshold,
	// and if LimitFree is set, the exemption itself is throttled by a
	// decaying token bucket so a burst of high-priority-but-free
	// transactions cannot fill the mempool for nothing.
	minFee := calcMinRequiredTxRelayFee(int64(tx.SerializeSize()), v.Policy.MinRelayTxFee)
	if fee < minFee {
		if !v.Policy.RelayPriority || calcPriority(tx, view, v.Chain.Height()+1) <= allowFreeThreshold {
			return nil, nil, newError(CategoryInsufficientFee, 0,
				"transaction %s has %d fee, under required %d", txID, fee, minFee)
		}
		if v.Policy.LimitFree && !v.free.allow(now, int64(tx.SerializeSize()), v.Policy.LimitFreeRelay*10000) {
			return nil, nil, newError(CategoryInsufficientFee, 0,
				"transaction %s exceeds the free-relay rate limit", txID)
		}
	}

	// 15. Absurdly high fee, usually a user error rather than an attack,
	// but still worth refusing to relay by default.
	if fee > minFee*absurdFeeMultiplier {
		return nil, nil, newError(CategoryInsufficientFee, 0,
			"transaction %s pays an absurdly high fee of %d", txID, fee)
	}

	// 16. Sigop cost bound.
	if tx.SigOpCost() > maxStandardTxSigOpsCost {
		return nil, nil, newError(CategoryNonStandard, 0,
			"transaction %s has too many sigops: %d > max allowed %d", txID, tx.SigOpCost(), maxStandardTxSigOpsCost)
	}

	// 17. Script verification, with a malleation-aware retry: if
	// verification fails only because of witness data, retry without the
	// witness so a malleated (but otherwise valid) relay doesn't get
	// treated as a ban-worthy invalid transaction.
	pkScripts, values, err := gatherPrevOuts(tx, view)
	if err != nil {
		return nil, nil, newError(CategoryInvalid, 0, "%s", err)
	}
	if err := v.Verifier.Verify(tx, pkScripts, values, script.StandardVerifyFlags, v.SigCache); err != nil {
		if tx.HasWitness() {
			stripped := stripWitness(tx)
			if verr := v.Verifier.Verify(stripped, pkScripts, values, script.StandardVerifyFlags&^script.VerifyWitness, v.SigCache); verr == nil {
				res := newError(CategoryInvalid, 0, "transaction %s: witness malleated", txID)
				res.Malleated = true
				return nil, nil, res
			}
		}
		return nil, nil, newError(CategoryInvalid, 100, "transaction %s script verification failed: %s", txID, err)
	}

	// 18. Admission: evict any replaced conflicts, hand off to the pool's
	// bookkeeping (C3), then run the eviction engine (C5) so the pool never
	// grows past policy before the caller sees the result.
	entry := mempool.NewEntry(tx, fee, int64(tx.SerializeSize()), int64(tx.SigOpCost()), v.Chain.Height()+1, now)
	if !commit {
		return nil, entry, nil
	}
	for _, conflict := range conflicts {
		if err := v.Pool.RemoveTransaction(conflict, true); err != nil {
			return nil, nil, newError(CategoryInvalid, 0, "%s", err)
		}
	}
	if err := v.Pool.InsertEntry(entry); err != nil {
		return nil, nil, newError(CategoryInvalid, 0, "%s", err)
	}
	v.Pool.IndexAddresses(entry, pkScripts)
	if v.Pool.LimitMempoolSize(txID) {
		return nil, nil, newError(CategoryInsufficientFee, 0,
			"transaction %s rejected: mempool full after eviction", txID)
	}
	log.Debugf("Accepted %s into mempool (fee %d, %d bytes)", txID, fee, entry.Size)
	return nil, entry, nil
}

// checkReplaceByFee resolves each of tx's inputs against the pool's
// outpoint index (step 7's double-spend check) and decides, per input
// conflict, whether the conflicting entry may be evicted in tx's favor: the
// policy must allow replacement and the conflicting transaction must itself
// have signalled replaceability. It returns the full set of entries tx
// would replace; the caller removes them only once tx has passed every
// later check and the caller has committed to inserting tx.
func (v *Validator) checkReplaceByFee(tx *wireformat.Tx) (map[wireformat.Hash]*wireformat.Tx, error) {
	var conflicts map[wireformat.Hash]*wireformat.Tx
	for _, in := range tx.TxIn {
		conflict, spent := v.Pool.CheckSpend(in.PreviousOutpoint)
		if !spent {
			continue
		}
		if !v.Policy.ReplaceByFee {
			return nil, newError(CategoryInvalid, 0, "output %s already spent in mempool", in.PreviousOutpoint)
		}
		if !signalsReplacement(conflict) {
			return nil, newError(CategoryInvalid, 0,
				"output %s already spent by a non-replaceable transaction in mempool", in.PreviousOutpoint)
		}
		if conflicts == nil {
			conflicts = make(map[wireformat.Hash]*wireformat.Tx)
		}
		conflicts[conflict.ID()] = conflict
	}
	return conflicts, nil
}

func sumFee(tx *wireformat.Tx, view *coinview.View) (int64, error) {
	var in int64
	for _, txin := range tx.TxIn {
		coin, ok := view.GetCoin(txin.PreviousOutpoint)
		if !ok {
			return 0, newError(CategoryInvalid, 0, "missing input %s", txin.PreviousOutpoint)
		}
		in += coin.Value
	}
	var out int64
	for _, txout := range tx.TxOut {
		out += txout.Value
	}
	return in - out, nil
}

func gatherPrevOuts(tx *wireformat.Tx, view *coinview.View) ([][]byte, []int64, error) {
	scripts := make([][]byte, len(tx.TxIn))
	values := make([]int64, len(tx.TxIn))
	for i, txin := range tx.TxIn {
		coin, ok := view.GetCoin(txin.PreviousOutpoint)
		if !ok {
			return nil, nil, newError(CategoryInvalid, 0, "missing input %s", txin.PreviousOutpoint)
		}
		scripts[i] = coin.PkScript
		values[i] = coin.Value
	}
	return scripts, values, nil
}

func stripWitness(tx *wireformat.Tx) *wireformat.Tx {
	stripped := &wireformat.Tx{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		TxOut:    tx.TxOut,
	}
	stripped.TxIn = make([]*wireformat.TxIn, len(tx.TxIn))
	for i, in := range tx.TxIn {
		stripped.TxIn[i] = &wireformat.TxIn{
			PreviousOutpoint: in.PreviousOutpoint,
			SignatureScript:  in.SignatureScript,
			Sequence:         in.Sequence,
		}
	}
	return stripped
}

// calcMinRequiredTxRelayFee scales minRelayTxFee (satoshis per thousand
// bytes) to serializedSize, with a floor of one satoshi whenever
// minRelayTxFee is positive so a tiny transaction is never charged zero. A
// zero minRelayTxFee yields a zero minimum fee.
func calcMinRequiredTxRelayFee(serializedSize, minRelayTxFee int64) int64 {
	fee := serializedSize * minRelayTxFee / 1000
	if fee == 0 && minRelayTxFee > 0 {
		fee = 1
	}
	return fee
}
