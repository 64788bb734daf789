// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool implements the unconfirmed-transaction pool: the orphan
// pool (C2), the ancestor/descendant-aware transaction graph and its
// indexes (C3), and package-fee-rate eviction (C5). Admission policy itself
// (C4) lives in domain/validator and calls into Pool.InsertEntry once a
// transaction has passed every check; this package only owns bookkeeping
// once a transaction is (or might become, as an orphan) admissible.
//
// Locking follows the teacher's convention: every exported method takes
// Pool.mtx itself, and every unexported method assumes it is already held.
// CalculateAncestors, CalculateDescendants and RemoveStaged are exported
// exceptions: they take no lock and assume Pool.mtx is already held.
package mempool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lcoin/nodecore/domain/script"
	"github.com/lcoin/nodecore/wireformat"
)

const (
	// orphanTTL is the maximum amount of time an orphan is allowed to sit
	// in the orphan pool before it expires and is evicted during the next
	// scan.
	orphanTTL = 20 * time.Minute

	// orphanExpireScanInterval is the minimum amount of time between scans
	// of the orphan pool for expired entries.
	orphanExpireScanInterval = 5 * time.Minute
)

// Limits bounds the ancestor/descendant package a single transaction may
// belong to, enforced while computing CalculateAncestors.
type Limits struct {
	MaxAncestorCount    int64
	MaxAncestorSize     int64
	MaxDescendantCount  int64
	MaxDescendantSize   int64
}

// Policy houses the non-consensus configuration knobs the pool enforces.
type Policy struct {
	MaxOrphanTxs    int
	MaxOrphanTxSize int
	MaxMempoolSize  int64
	MempoolExpiry   time.Duration
	Limits          Limits
}

// orphanTx is a transaction referencing an input not yet available,
// together with the time after which it should be evicted as stale and
// the identifier of whoever submitted it. SubmitterID is opaque to this
// package (typically a peer ID); it exists purely so a caller can
// attribute a ban score to the right submitter if the orphan later turns
// out to be invalid once its parents resolve, mirroring the teacher's
// practice of carrying a Result.Score on rejected transactions back to
// the peer that relayed them.
type orphanTx struct {
	tx          *wireformat.Tx
	expiration  time.Time
	submitterID string
}

// Pool is the unconfirmed-transaction pool. It is safe for concurrent use.
type Pool struct {
	lastUpdated int64 // unix nanoseconds, accessed atomically

	mtx    sync.RWMutex
	policy Policy

	entries   map[wireformat.Hash]*Entry
	outpoints map[wireformat.Outpoint]*Entry

	orphans       map[wireformat.Hash]*orphanTx
	orphansByPrev map[wireformat.Outpoint]map[wireformat.Hash]*wireformat.Tx

	rejects *RejectFilter

	addrIndex *AddressIndex
	// spentScripts remembers, per admitted entry, the previous output
	// scripts its inputs spent — needed only to unindex those spends from
	// the address index symmetrically when the entry later leaves the
	// pool, since the coin itself is long gone from any view by then.
	spentScripts map[wireformat.Hash][][]byte

	nextExpireScan time.Time
}

// New returns an empty Pool configured per policy, with the address index
// (spec §3 "coinIndex, txIndex") disabled.
func New(policy Policy) *Pool {
	return NewWithAddressIndex(policy, nil)
}

// NewWithAddressIndex returns an empty Pool configured per policy, with the
// optional address index enabled when hasher is non-nil (spec §4.3
// "address indexes (optional)").
func NewWithAddressIndex(policy Policy, hasher script.AddressHasher) *Pool {
	return &Pool{
		policy:        policy,
		entries:       make(map[wireformat.Hash]*Entry),
		outpoints:     make(map[wireformat.Outpoint]*Entry),
		orphans:       make(map[wireformat.Hash]*orphanTx),
		orphansByPrev: make(map[wireformat.Outpoint]map[wireformat.Hash]*wireformat.Tx),
		rejects:       NewRejectFilter(120000, 1e-6),
		addrIndex:     NewAddressIndex(hasher),
		spentScripts:  make(map[wireformat.Hash][][]byte),
	}
}

// LastUpdated returns the last time the pool's contents changed.
func (p *Pool) LastUpdated() time.Time {
	return time.Unix(0, atomic.LoadInt64(&p.lastUpdated))
}

func (p *Pool) touch() {
	atomic.StoreInt64(&p.lastUpdated, time.Now().UnixNano())
}

// Count returns the number of transactions currently admitted.
func (p *Pool) Count() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return len(p.entries)
}

// Info is the aggregate snapshot backing the getmempoolinfo RPC method
// family: how many transactions are pooled, how much memory they occupy,
// the configured ceiling, and the fee rate currently required to be
// considered for admission.
type Info struct {
	Size          int
	Bytes         int64
	Usage         int64
	MaxMempool    int64
	MempoolMinFee int64
}

// Info returns the pool's current aggregate statistics.
func (p *Pool) Info() Info {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	var bytes int64
	for _, e := range p.entries {
		bytes += e.Size
	}

	// Usage approximates the in-memory footprint of an entry beyond its
	// raw wire size: the per-entry bookkeeping (parent/child maps,
	// ancestor/descendant rollups) this package keeps alongside it.
	const perEntryOverhead = 300
	usage := bytes + int64(len(p.entries))*perEntryOverhead

	var minFeeRate int64
	if p.policy.MaxMempoolSize > 0 && bytes >= p.policy.MaxMempoolSize {
		// Once full, TrimToSize's eviction order means the worst
		// surviving entry's package fee rate is the de facto floor for
		// further admission.
		for _, e := range p.entries {
			if minFeeRate == 0 || e.PackageFeeRate() < minFeeRate {
				minFeeRate = e.PackageFeeRate()
			}
		}
	}

	return Info{
		Size:          len(p.entries),
		Bytes:         bytes,
		Usage:         usage,
		MaxMempool:    p.policy.MaxMempoolSize,
		MempoolMinFee: minFeeRate,
	}
}

// HaveTransaction reports whether txID is admitted or is a known orphan.
func (p *Pool) HaveTransaction(txID wireformat.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	_, inPool := p.entries[txID]
	_, isOrphan := p.orphans[txID]
	return inPool || isOrphan
}

// IsRejected reports whether txID was previously rejected and should not be
// re-validated until a reorg resets the filter.
func (p *Pool) IsRejected(txID wireformat.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.rejects.Contains(txID)
}

// MarkRejected remembers txID as rejected so re-announcements are dropped
// cheaply without re-running validation.
func (p *Pool) MarkRejected(txID wireformat.Hash) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.rejects.Add(txID)
}

// ResetRejects clears the reject filter, used after a reorg since
// previously invalid transactions may now be valid.
func (p *Pool) ResetRejects() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.rejects.Reset()
}

// Entry returns the pool entry for txID, if admitted.
func (p *Pool) Entry(txID wireformat.Hash) (*Entry, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	e, ok := p.entries[txID]
	return e, ok
}

// CheckSpend returns the in-pool transaction that spends op, if any.
func (p *Pool) CheckSpend(op wireformat.Outpoint) (*wireformat.Tx, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	e, ok := p.outpoints[op]
	if !ok {
		return nil, false
	}
	return e.Tx, true
}

// ---- orphan pool (C2) ----

// IsOrphanInPool reports whether txID is a known orphan.
func (p *Pool) IsOrphanInPool(txID wireformat.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	_, ok := p.orphans[txID]
	return ok
}

func (p *Pool) removeOrphan(tx *wireformat.Tx, removeRedeemers bool) {
	txID := tx.ID()
	otx, exists := p.orphans[txID]
	if !exists {
		return
	}

	for _, in := range otx.tx.TxIn {
		orphans, exists := p.orphansByPrev[in.PreviousOutpoint]
		if !exists {
			continue
		}
		delete(orphans, txID)
		if len(orphans) == 0 {
			delete(p.orphansByPrev, in.PreviousOutpoint)
		}
	}

	if removeRedeemers {
		prevOut := wireformat.Outpoint{TxID: txID}
		for i := range tx.TxOut {
			prevOut.Index = uint32(i)
			for _, orphan := range p.orphansByPrev[prevOut] {
				p.removeOrphan(orphan, true)
			}
		}
	}

	delete(p.orphans, txID)
}

// RemoveOrphan removes tx from the orphan pool, without cascading to any
// transaction that might redeem one of its outputs.
func (p *Pool) RemoveOrphan(tx *wireformat.Tx) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.removeOrphan(tx, false)
}

// limitNumOrphans evicts expired orphans, then — if the pool is still full
// — a single randomly chosen orphan, mirroring the teacher's periodic-scan
// policy (scanning on every insert would be wasteful).
func (p *Pool) limitNumOrphans() {
	if now := time.Now(); now.After(p.nextExpireScan) {
		for _, otx := range p.orphans {
			if now.After(otx.expiration) {
				p.removeOrphan(otx.tx, true)
			}
		}
		p.nextExpireScan = now.Add(orphanExpireScanInterval)
	}

	if len(p.orphans)+1 <= p.policy.MaxOrphanTxs {
		return
	}

	for _, otx := range p.orphans {
		p.removeOrphan(otx.tx, false)
		break
	}
}

// AddOrphan stores tx in the orphan pool, evicting as needed to respect
// the configured limits. It is a no-op if orphans are disabled
// (MaxOrphanTxs <= 0), and returns an error without storing tx if tx
// exceeds MaxOrphanTxSize. submitterID identifies
// whoever relayed tx (opaque to this package, typically a peer ID) and is
// recorded so a caller can later attribute a ban score to the right
// submitter via OrphanSubmitter if the orphan turns out to be invalid once
// its parents resolve.
func (p *Pool) AddOrphan(tx *wireformat.Tx, submitterID string) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.policy.MaxOrphanTxs <= 0 {
		return nil
	}
	if tx.SerializeSize() > p.policy.MaxOrphanTxSize {
		return errors.Errorf("orphan transaction size of %d bytes is larger than max allowed size of %d bytes",
			tx.SerializeSize(), p.policy.MaxOrphanTxSize)
	}

	p.limitNumOrphans()

	p.orphans[tx.ID()] = &orphanTx{tx: tx, expiration: time.Now().Add(orphanTTL), submitterID: submitterID}
	for _, in := range tx.TxIn {
		if _, exists := p.orphansByPrev[in.PreviousOutpoint]; !exists {
			p.orphansByPrev[in.PreviousOutpoint] = make(map[wireformat.Hash]*wireformat.Tx)
		}
		p.orphansByPrev[in.PreviousOutpoint][tx.ID()] = tx
	}
	p.touch()
	return nil
}

// OrphanSubmitter returns the submitter ID recorded for the orphan
// identified by txID, and false if no such orphan is known. Callers use
// this after an orphan fails re-validation (in ProcessOrphans' aftermath)
// to decide whose ban score to penalize.
func (p *Pool) OrphanSubmitter(txID wireformat.Hash) (string, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	otx, ok := p.orphans[txID]
	if !ok {
		return "", false
	}
	return otx.submitterID, true
}

// MissingParents returns, in input order, the outpoints of tx's inputs
// that knownMissing marks as missing, and nil when knownMissing is nil. It
// does not consult the pool's own indexes or the chain DB; the caller
// supplies that knowledge through knownMissing.
func (p *Pool) MissingParents(tx *wireformat.Tx, knownMissing map[wireformat.Outpoint]bool) []wireformat.Outpoint {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	var missing []wireformat.Outpoint
	for _, in := range tx.TxIn {
		if knownMissing == nil || !knownMissing[in.PreviousOutpoint] {
			continue
		}
		missing = append(missing, in.PreviousOutpoint)
	}
	return missing
}

// ProcessOrphans returns every orphan that redeems one of acceptedTxID's
// outputs and is now a candidate for re-validation. It does not remove
// them from the orphan pool; the caller must do so (via RemoveOrphan) once
// it decides each candidate's fate, exactly as the teacher's
// ProcessOrphans/maybeAcceptTransaction pairing works.
func (p *Pool) ProcessOrphans(acceptedTxID wireformat.Hash) []*wireformat.Tx {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	var candidates []*wireformat.Tx
	seen := make(map[wireformat.Hash]bool)
	accepted := map[wireformat.Hash]*wireformat.Tx{acceptedTxID: nil}
	for processHash := range accepted {
		for prevOut, orphans := range p.orphansByPrev {
			if prevOut.TxID != processHash {
				continue
			}
			for txID, tx := range orphans {
				if seen[txID] {
					continue
				}
				seen[txID] = true
				candidates = append(candidates, tx)
			}
		}
	}
	return candidates
}

// ---- transaction graph & indexes (C3) ----

func (p *Pool) checkPoolDoubleSpend(tx *wireformat.Tx) error {
	for _, in := range tx.TxIn {
		if conflict, exists := p.outpoints[in.PreviousOutpoint]; exists {
			return errors.Errorf("output %s already spent by transaction %s in the memory pool",
				in.PreviousOutpoint, conflict.TxID())
		}
	}
	return nil
}

// CalculateAncestors walks entry's in-pool ancestry, returning the full
// ancestor set and erroring if it would exceed limits. Grounded on the
// copernicus TxMempool.CalculateMemPoolAncestors walk, generalized to this
// package's Entry.parents/children maps.
func (p *Pool) CalculateAncestors(entry *Entry, limits Limits) (map[wireformat.Hash]*Entry, error) {
	ancestors := make(map[wireformat.Hash]*Entry)
	frontier := make(map[wireformat.Hash]*Entry, len(entry.parents))
	for id, parent := range entry.parents {
		frontier[id] = parent
	}
	if limits.MaxAncestorCount > 0 && int64(len(frontier))+1 > limits.MaxAncestorCount {
		return nil, errors.Errorf("too many unconfirmed parents [limit %d]", limits.MaxAncestorCount)
	}

	totalSize := entry.Size
	for len(frontier) > 0 {
		var id wireformat.Hash
		var cur *Entry
		for k, v := range frontier {
			id, cur = k, v
			break
		}
		delete(frontier, id)
		ancestors[id] = cur
		totalSize += cur.Size

		if limits.MaxDescendantSize > 0 && cur.DescendantSize+entry.Size > limits.MaxDescendantSize {
			return nil, errors.Errorf("exceeds descendant size limit for tx %s", id)
		}
		if limits.MaxDescendantCount > 0 && cur.DescendantCount+1 > limits.MaxDescendantCount {
			return nil, errors.Errorf("too many descendants for tx %s", id)
		}
		if limits.MaxAncestorSize > 0 && totalSize > limits.MaxAncestorSize {
			return nil, errors.Errorf("exceeds ancestor size limit [limit %d]", limits.MaxAncestorSize)
		}

		for gid, g := range cur.parents {
			if _, already := ancestors[gid]; already {
				continue
			}
			frontier[gid] = g
			if limits.MaxAncestorCount > 0 && int64(len(frontier)+len(ancestors)+1) > limits.MaxAncestorCount {
				return nil, errors.Errorf("too many unconfirmed ancestors [limit %d]", limits.MaxAncestorCount)
			}
		}
	}
	return ancestors, nil
}

// CalculateDescendants walks entry's in-pool descendants, adding them
// (and entry itself) to descendants.
func (p *Pool) CalculateDescendants(entry *Entry, descendants map[wireformat.Hash]*Entry) {
	stage := map[wireformat.Hash]*Entry{entry.TxID(): entry}
	for len(stage) > 0 {
		var id wireformat.Hash
		var cur *Entry
		for k, v := range stage {
			id, cur = k, v
			break
		}
		delete(stage, id)
		if _, already := descendants[id]; already && cur != entry {
			continue
		}
		descendants[id] = cur
		for cid, child := range cur.children {
			if _, already := descendants[cid]; !already {
				stage[cid] = child
			}
		}
	}
}

func (p *Pool) updateAncestorsOf(add bool, entry *Entry, ancestors map[wireformat.Hash]*Entry) {
	for _, parent := range entry.parents {
		parent.UpdateChild(entry, add)
	}
	delta := int64(-1)
	if add {
		delta = 1
	}
	for _, ancestor := range ancestors {
		ancestor.UpdateDescendantState(delta, delta*entry.Size, delta*entry.Fee)
	}
}

// UpdateChild links or unlinks child as one of e's direct descendants; the
// inverse of Entry.UpdateParent, kept next to updateAncestorsOf which is
// the only caller.
func (e *Entry) UpdateChild(child *Entry, add bool) {
	if add {
		e.children[child.TxID()] = child
	} else {
		delete(e.children, child.TxID())
	}
}

func (p *Pool) updateEntryForAncestors(entry *Entry, ancestors map[wireformat.Hash]*Entry) {
	var count, size, sigOps, fee int64
	for _, a := range ancestors {
		count++
		size += a.Size
		sigOps += a.SigOps
		fee += a.Fee
	}
	entry.UpdateAncestorState(count, size, sigOps, fee)
}

// Prioritise applies a monotonic fee/priority adjustment to entry, mirroring
// the teacher's prioritisetransaction RPC semantics (spec §4.3): it first
// walks entry's ancestors subtracting the previously applied DeltaFee, then
// adds feeDelta to DeltaFee (successive calls accumulate) and walks
// ancestors again adding the new total, and finally
// folds the delta into entry's own DescendantFee so its package fee rate
// (and hence its eviction/selection ordering) reflects the bonus
// immediately. A call with priDelta==0 and feeDelta==0 is a no-op on every
// counter.
func (p *Pool) Prioritise(entry *Entry, priDelta, feeDelta int64) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.entries[entry.TxID()]; !ok {
		return errors.Errorf("transaction %s is not in the mempool", entry.TxID())
	}

	ancestors, err := p.CalculateAncestors(entry, Limits{})
	if err != nil {
		return err
	}

	for _, ancestor := range ancestors {
		ancestor.UpdateDescendantState(0, 0, -entry.DeltaFee)
	}

	entry.PriorityDelta += priDelta
	entry.DeltaFee += feeDelta

	for _, ancestor := range ancestors {
		ancestor.UpdateDescendantState(0, 0, entry.DeltaFee)
	}
	entry.DescendantFee += feeDelta

	p.touch()
	return nil
}

// InsertEntry admits entry into the pool: it links it against its in-pool
// parents, checks it does not conflict with an existing spend, computes
// and records its ancestor package, and updates the outpoint index. The
// caller (domain/validator) is responsible for every policy and consensus
// check; this is purely the bookkeeping half of admission (spec §4.3/C3).
func (p *Pool) InsertEntry(entry *Entry) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if err := p.checkPoolDoubleSpend(entry.Tx); err != nil {
		return err
	}

	for _, in := range entry.Tx.TxIn {
		if parent, ok := p.entries[in.PreviousOutpoint.TxID]; ok {
			entry.UpdateParent(parent, true)
		}
	}

	ancestors, err := p.CalculateAncestors(entry, p.policy.Limits)
	if err != nil {
		return err
	}

	p.entries[entry.TxID()] = entry
	for _, in := range entry.Tx.TxIn {
		p.outpoints[in.PreviousOutpoint] = entry
	}

	p.updateAncestorsOf(true, entry, ancestors)
	p.updateEntryForAncestors(entry, ancestors)
	p.touch()
	log.Debugf("Accepted transaction %s (pool size %d)", entry.TxID(), len(p.entries))
	return nil
}

// IndexAddresses folds entry's outputs and the scripts its inputs spent
// (spentScripts, indexed the same way as entry.Tx.TxIn) into the optional
// address index. It is a separate call from InsertEntry rather than a
// parameter of it because most callers have no address index enabled and
// no spent-script data handy; the validator
// calls this immediately after a successful InsertEntry when
// NewWithAddressIndex was used to construct the pool. A no-op when the
// address index is disabled.
func (p *Pool) IndexAddresses(entry *Entry, spentScripts [][]byte) {
	if !p.addrIndex.Enabled() {
		return
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.spentScripts[entry.TxID()] = spentScripts
	p.addrIndex.Add(entry, spentScripts)
}

// CoinsByAddress returns every pool-resident outpoint paying addr, in
// ascending order. Always empty when the address index is disabled.
func (p *Pool) CoinsByAddress(addr script.AddressHash) []wireformat.Outpoint {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.addrIndex.CoinsByAddress(addr)
}

// TxByAddress returns every pooled transaction touching addr, in ascending
// txid order. Always empty when the address index is disabled.
func (p *Pool) TxByAddress(addr script.AddressHash) []wireformat.Hash {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.addrIndex.TxByAddress(addr)
}

func (p *Pool) updateForRemoveFromMempool(toRemove map[wireformat.Hash]*Entry, updateDescendants bool) {
	if updateDescendants {
		for _, entry := range toRemove {
			descendants := make(map[wireformat.Hash]*Entry)
			p.CalculateDescendants(entry, descendants)
			delete(descendants, entry.TxID())
			for _, d := range descendants {
				d.UpdateAncestorState(-1, -entry.Size, -entry.SigOps, -entry.Fee)
			}
		}
	}

	for _, entry := range toRemove {
		ancestors, err := p.CalculateAncestors(entry, Limits{})
		if err != nil {
			continue
		}
		p.updateAncestorsOf(false, entry, ancestors)
	}

	for _, entry := range toRemove {
		for _, child := range entry.children {
			child.UpdateParent(entry, false)
		}
	}
}

func (p *Pool) deleteEntry(entry *Entry) {
	for _, in := range entry.Tx.TxIn {
		delete(p.outpoints, in.PreviousOutpoint)
	}
	if p.addrIndex.Enabled() {
		p.addrIndex.Remove(entry, p.spentScripts[entry.TxID()])
		delete(p.spentScripts, entry.TxID())
	}
	delete(p.entries, entry.TxID())
}

// RemoveStaged removes every entry in toRemove from the pool, first
// propagating the removal's effect on descendant ancestor-rollups if
// updateDescendants is set (skip this when the whole package, descendants
// included, is already being removed in the same call — e.g. a block
// confirming a package need not update its own doomed descendants).
func (p *Pool) RemoveStaged(toRemove map[wireformat.Hash]*Entry, updateDescendants bool) {
	p.updateForRemoveFromMempool(toRemove, updateDescendants)
	for _, entry := range toRemove {
		p.deleteEntry(entry)
	}
	if len(toRemove) > 0 {
		p.touch()
	}
}

// RemoveTransaction removes a single transaction, and optionally every
// transaction that (transitively) spends one of its outputs.
func (p *Pool) RemoveTransaction(tx *wireformat.Tx, removeDescendants bool) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	entry, ok := p.entries[tx.ID()]
	if !ok {
		return nil
	}

	toRemove := map[wireformat.Hash]*Entry{entry.TxID(): entry}
	if removeDescendants {
		p.CalculateDescendants(entry, toRemove)
	}
	p.RemoveStaged(toRemove, !removeDescendants)
	return nil
}

// removeConflicts removes, recursively, every in-pool transaction that
// spends one of tx's inputs but is not tx itself — used when tx has just
// been confirmed in a block and anything double-spending it can never be
// mined.
func (p *Pool) removeConflicts(tx *wireformat.Tx) {
	for _, in := range tx.TxIn {
		conflict, ok := p.outpoints[in.PreviousOutpoint]
		if !ok || conflict.TxID() == tx.ID() {
			continue
		}
		toRemove := map[wireformat.Hash]*Entry{conflict.TxID(): conflict}
		p.CalculateDescendants(conflict, toRemove)
		p.RemoveStaged(toRemove, false)
	}
}

// HandleNewBlock removes every transaction in a newly connected block from
// the pool (they are now confirmed, not merely admitted) along with any
// conflicting descendants that attempted to double-spend them, then resets
// the rejects filter since time-gated rules (locktime, sequence locks) may
// have become true at the new height.
func (p *Pool) HandleNewBlock(txs []*wireformat.Tx) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, tx := range txs {
		if entry, ok := p.entries[tx.ID()]; ok {
			p.RemoveStaged(map[wireformat.Hash]*Entry{entry.TxID(): entry}, true)
		}
		p.removeConflicts(tx)
		p.removeOrphan(tx, true)
	}
	p.rejects.Reset()
}

// ---- eviction engine (C5) ----

// TrimToSize evicts whole descendant packages, lowest package fee rate
// first, until the pool's total serialized size is at or below sizeLimit.
// It returns the outpoints of any transactions that, after eviction, no
// longer have an in-pool spender — candidates the caller may want to
// re-announce are not spent elsewhere.
func (p *Pool) TrimToSize(sizeLimit int64) []wireformat.Outpoint {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	var totalSize int64
	for _, e := range p.entries {
		totalSize += e.Size
	}

	var freedOutpoints []wireformat.Outpoint
	for totalSize > sizeLimit && len(p.entries) > 0 {
		var worst *Entry
		for _, e := range p.entries {
			if worst == nil || e.PackageFeeRate() < worst.PackageFeeRate() {
				worst = e
			}
		}
		if worst == nil {
			break
		}

		toRemove := make(map[wireformat.Hash]*Entry)
		p.CalculateDescendants(worst, toRemove)

		for _, e := range toRemove {
			totalSize -= e.Size
			for _, in := range e.Tx.TxIn {
				if _, stillSpent := toRemove[in.PreviousOutpoint.TxID]; stillSpent {
					continue
				}
				freedOutpoints = append(freedOutpoints, in.PreviousOutpoint)
			}
		}
		p.RemoveStaged(toRemove, false)
	}
	if len(freedOutpoints) > 0 {
		log.Debugf("Trimmed mempool to %d bytes, evicting %d outpoints", sizeLimit, len(freedOutpoints))
	}
	return freedOutpoints
}

// Expire removes every transaction (and its descendants) admitted before
// cutoff, returning the number of transactions removed.
func (p *Pool) Expire(cutoff time.Time) int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	stage := make(map[wireformat.Hash]*Entry)
	for _, e := range p.entries {
		if e.Time.Before(cutoff) {
			p.CalculateDescendants(e, stage)
		}
	}
	p.RemoveStaged(stage, false)
	return len(stage)
}

// LimitMempoolSize implements the `limitSize(addedHash) -> shouldReject`
// operation: if the pool's total footprint is within policy.MaxMempoolSize
// it is a no-op. Otherwise it sweeps entries older than policy.MempoolExpiry
// first, then trims by ascending package fee rate down to
// MaxMempoolSize - MaxMempoolSize/10 (headroom so trimming does not
// re-trigger on the very next insertion), and reports whether addedTxID
// itself did not survive — the caller's cue to treat the just-admitted
// transaction as rejected for being the pool's weakest entry.
func (p *Pool) LimitMempoolSize(addedTxID wireformat.Hash) bool {
	p.mtx.RLock()
	sizeLimit := p.policy.MaxMempoolSize
	expiry := p.policy.MempoolExpiry
	var totalSize int64
	for _, e := range p.entries {
		totalSize += e.Size
	}
	over := sizeLimit > 0 && totalSize > sizeLimit
	p.mtx.RUnlock()
	if !over {
		return false
	}

	if expiry > 0 {
		p.Expire(time.Now().Add(-expiry))
	}
	p.TrimToSize(sizeLimit - sizeLimit/10)

	p.mtx.RLock()
	_, stillPresent := p.entries[addedTxID]
	p.mtx.RUnlock()
	return !stillPresent
}

// Snapshot returns every currently admitted entry. Used by the template
// builder (C7) and RPC introspection methods.
func (p *Pool) Snapshot() []*Entry {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	out := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}
