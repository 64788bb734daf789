// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package work implements the legacy getwork/longpoll protocol (C8):
// extranonce allocation over a cached block template, a merkle-root-to-
// nonce map so a submitted header can be re-associated with the exact
// coinbase it was built against, long-poll dispatch when the template
// changes, and padding a block header to the historical 128-byte,
// byte-swapped-word shape early mining software expects. No literal
// teacher precedent survives in the retrieved source for this wire shape
// (kaspad's mining/rpc stack replaced getwork with gRPC-streamed templates
// well before this snapshot); the locking idiom here is grounded on
// domain/mempool.Pool's mutex-guarded critical sections, generalized to
// the request/notify pattern a blocking longpoll handler needs.
package work

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/lcoin/nodecore/mining/template"
	"github.com/lcoin/nodecore/wireformat"
)

// paddedWorkSize is the historical getwork payload size: an 80-byte header
// padded out to 128 bytes (the block size SHA256 operates on internally),
// plus the implicit trailing zero padding and length field most miners'
// code simply ignores but bitwise-reproduces.
const paddedWorkSize = 128

// midstateSize is unused by this implementation (no precomputed SHA256
// midstate optimization) but kept named since several getwork clients
// expect a (possibly all-zero) midstate field of this size in the
// response; see Work.Midstate.
const midstateSize = 32

// longpollIDLen is the fixed length of a longpoll id: a reversed 32-byte
// previous-block hash (64 hex chars) followed by the mempool's total
// transaction count as a 5-byte big-endian-rendered hex field (10 hex
// chars), matching spec §4.8/§GLOSSARY's "reversed(prevHash)||pad32(totalTX)".
const longpollIDLen = wireformat.HashSize*2 + 10

// Nonces identifies one specific coinbase extranonce extension: the fixed
// per-engine nonce1 and the rolling nonce2, the pair a submitted header's
// merkle root is looked up by so the exact coinbase it was built against
// can be reconstructed (spec §3 "Nonces").
type Nonces struct {
	Nonce1 uint32
	Nonce2 uint32
}

// Work is one unit of work handed to a getwork client: the byte-swapped,
// zero-padded header ready for nonce search, plus enough of the template it
// was derived from to reconstruct a full block on submission.
type Work struct {
	Data     [paddedWorkSize]byte
	Midstate [midstateSize]byte
	Target   [32]byte
	Header   wireformat.BlockHeader
	Height   int32
	Nonces   Nonces
}

// Engine dispatches work derived from a template.Builder, and serves
// long-poll requests that block until the underlying template changes (a
// new block connects, or the mempool's content materially changes).
type Engine struct {
	mtx     sync.Mutex
	builder *template.Builder

	tmpl      *template.Template
	txIDs     []wireformat.Hash // selected transactions' ids, fixed per template
	current   *Work
	nonce1    uint32
	nonce2    uint32
	merkleMap map[wireformat.Hash]Nonces

	id      uint64 // bumped every time a new template is generated
	waiters []chan uint64
}

// NewEngine returns an Engine sourcing templates from builder.
func NewEngine(builder *template.Builder) *Engine {
	return &Engine{builder: builder}
}

// CreateWork builds (if none is outstanding) or rolls the extranonce of the
// current unit of work: the first call for a given template builds it from
// scratch; every subsequent call bumps nonce2 (wrapping into nonce1 on
// overflow, spec §4.8's "increment nonce2 ... wrapping into nonce1"),
// re-derives the coinbase and merkle root for the new extranonce, and
// records merkleRoot -> Nonces so a later SubmitWork can recover exactly
// which coinbase produced it.
func (e *Engine) CreateWork() (*Work, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.createWorkLocked()
}

func (e *Engine) createWorkLocked() (*Work, error) {
	if e.tmpl == nil {
		if err := e.buildTemplateLocked(); err != nil {
			return nil, err
		}
	} else {
		e.rollExtranonceLocked()
	}
	return e.current, nil
}

func (e *Engine) buildTemplateLocked() error {
	tmpl, err := e.builder.Build()
	if err != nil {
		return errors.Wrap(err, "building block template")
	}
	e.tmpl = tmpl
	e.txIDs = make([]wireformat.Hash, len(tmpl.Transactions))
	for i, tx := range tmpl.Transactions {
		e.txIDs[i] = tx.ID()
	}
	e.nonce1 = 0
	e.nonce2 = 0
	e.merkleMap = make(map[wireformat.Hash]Nonces)
	e.current = nil
	e.deriveWorkLocked()
	e.dispatchLocked()
	return nil
}

// rollExtranonceLocked advances nonce2 (wrapping into nonce1 on overflow)
// and re-derives the work unit for the new extranonce, without rebuilding
// the underlying template or selected transaction set.
func (e *Engine) rollExtranonceLocked() {
	e.nonce2++
	if e.nonce2 == 0 {
		e.nonce1++
	}
	e.deriveWorkLocked()
}

// deriveWorkLocked builds the coinbase for the engine's current
// (nonce1, nonce2), recomputes the merkle root over it and the template's
// fixed transaction set, records the merkleRoot -> Nonces association, and
// encodes the padded getwork payload.
func (e *Engine) deriveWorkLocked() {
	coinbase := coinbaseWithExtranonce(e.tmpl.Coinbase, e.nonce1, e.nonce2)
	leaves := make([]wireformat.Hash, 0, len(e.txIDs)+1)
	leaves = append(leaves, coinbase.ID())
	leaves = append(leaves, e.txIDs...)
	root := wireformat.MerkleRoot(leaves)

	header := e.tmpl.Header
	header.MerkleRoot = root

	// Target is a function of the template's Bits alone, which never
	// changes between extranonce rolls; compute it fresh only for the
	// first unit of a new template and carry it forward afterward rather
	// than recomputing an identical value on every roll.
	target := bitsToTarget(header.Bits)
	if e.current != nil {
		target = e.current.Target
	}

	w := &Work{
		Header: header,
		Height: e.tmpl.Height,
		Target: target,
		Nonces: Nonces{Nonce1: e.nonce1, Nonce2: e.nonce2},
	}
	encodeGetworkData(&w.Data, &header)

	e.merkleMap[root] = w.Nonces
	e.current = w
}

// coinbaseWithExtranonce returns a clone of base with an 8-byte extranonce
// (nonce1 then nonce2, both little-endian) appended to its signature
// script, the legacy getwork convention for expanding a miner's search
// space beyond the 32-bit header nonce (spec §GLOSSARY "Extranonce").
func coinbaseWithExtranonce(base *wireformat.Tx, nonce1, nonce2 uint32) *wireformat.Tx {
	extra := make([]byte, 8)
	binary.LittleEndian.PutUint32(extra[0:4], nonce1)
	binary.LittleEndian.PutUint32(extra[4:8], nonce2)

	sigScript := make([]byte, 0, len(base.TxIn[0].SignatureScript)+len(extra))
	sigScript = append(sigScript, base.TxIn[0].SignatureScript...)
	sigScript = append(sigScript, extra...)

	return &wireformat.Tx{
		Version: base.Version,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: base.TxIn[0].PreviousOutpoint,
			SignatureScript:  sigScript,
			Sequence:         base.TxIn[0].Sequence,
		}},
		TxOut:    base.TxOut,
		LockTime: base.LockTime,
	}
}

func (e *Engine) dispatchLocked() {
	e.id++
	log.Debugf("Dispatching work for height %d to %d long-poll waiter(s)", e.current.Height, len(e.waiters))
	for _, ch := range e.waiters {
		ch <- e.id
		close(ch)
	}
	e.waiters = nil
}

// RefreshBlock discards the current template (and every extranonce/merkle
// association derived from it) and builds a fresh one, dispatching it to
// any blocked long-poll waiters — called whenever the chain tip changes or
// the mempool's content changes enough to be worth remining over (spec
// §4.8's addBlock/refreshBlock hooks).
func (e *Engine) RefreshBlock() (*Work, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.tmpl = nil
	if err := e.buildTemplateLocked(); err != nil {
		return nil, err
	}
	return e.current, nil
}

// Longpoll blocks until a new unit of work is dispatched (or ctx is
// cancelled), then returns it. A client's longpoll request is itself the
// suspension point spec §4.8 calls out; this is the only method in the
// package that can block for an extended period.
func (e *Engine) Longpoll(ctx context.Context) (*Work, error) {
	e.mtx.Lock()
	ch := make(chan uint64, 1)
	e.waiters = append(e.waiters, ch)
	e.mtx.Unlock()

	select {
	case <-ch:
		e.mtx.Lock()
		defer e.mtx.Unlock()
		return e.current, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LongpollID returns the id a getwork client would use to detect whether
// the chain tip it last saw is still current: reversed(prevHash) ||
// pad32(totalTX), per spec §GLOSSARY. totalTX is the mempool's current
// transaction count, not the template's selection, since the point of the
// id is to notice mempool activity even between template rebuilds.
func (e *Engine) LongpollID() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	prevBlock := e.builder.Chain.Tip()
	return longpollID(prevBlock, e.builder.Pool.Count())
}

func longpollID(prevBlock wireformat.Hash, totalTX int) string {
	reversed := make([]byte, len(prevBlock))
	for i := range prevBlock {
		reversed[i] = prevBlock[len(prevBlock)-1-i]
	}
	return hex.EncodeToString(reversed) + fmt.Sprintf("%010x", totalTX)
}

// ParseLongpollID recovers the previous-block hash a longpoll id encodes.
// It returns an error if lpid is not exactly the expected 74-hex-character
// shape.
func ParseLongpollID(lpid string) (wireformat.Hash, error) {
	if len(lpid) != longpollIDLen {
		return wireformat.Hash{}, errors.Errorf("invalid longpoll id length: got %d, want %d", len(lpid), longpollIDLen)
	}
	raw, err := hex.DecodeString(lpid[:wireformat.HashSize*2])
	if err != nil {
		return wireformat.Hash{}, errors.Wrap(err, "decoding longpoll id prevhash")
	}
	if _, err := strconv.ParseUint(lpid[wireformat.HashSize*2:], 16, 64); err != nil {
		return wireformat.Hash{}, errors.Wrap(err, "decoding longpoll id totaltx")
	}
	var prevBlock wireformat.Hash
	for i, b := range raw {
		prevBlock[len(raw)-1-i] = b
	}
	return prevBlock, nil
}

// HandleLongpoll implements spec §4.8's handleLongpoll: if lpid's encoded
// previous-block hash already differs from the current tip, the client's
// view is already stale and it gets the current work immediately; only a
// client whose view still matches the tip actually blocks.
func (e *Engine) HandleLongpoll(ctx context.Context, lpid string) (*Work, error) {
	prevBlock, err := ParseLongpollID(lpid)
	if err != nil {
		return nil, err
	}
	e.mtx.Lock()
	tip := e.builder.Chain.Tip()
	e.mtx.Unlock()
	if prevBlock != tip {
		return e.CreateWork()
	}
	return e.Longpoll(ctx)
}

// SubmitWork validates a client-returned payload against the work it was
// issued for and, if the proof of work meets the target, returns the
// solved header. It rejects (without touching the chain) if the header's
// prevBlock or bits no longer match the outstanding template, or if its
// merkle root is not one this engine ever handed out — both signal stale
// or forged work rather than a simply-insufficient-difficulty submission.
func (e *Engine) SubmitWork(data [paddedWorkSize]byte) (*wireformat.BlockHeader, error) {
	e.mtx.Lock()
	tmpl := e.tmpl
	cur := e.current
	merkleMap := e.merkleMap
	e.mtx.Unlock()

	if tmpl == nil || cur == nil {
		return nil, errors.New("no outstanding work to submit against")
	}

	header, err := decodeGetworkData(data)
	if err != nil {
		return nil, err
	}

	if header.PrevBlock != tmpl.Header.PrevBlock {
		return nil, errors.New("rejected: bad-prevblk")
	}
	if header.Bits != tmpl.Header.Bits {
		return nil, errors.New("rejected: bad-diffbits")
	}
	if _, ok := merkleMap[header.MerkleRoot]; !ok {
		return nil, errors.New("rejected: unknown-work")
	}

	// Target depends only on the template's Bits, which is fixed for the
	// lifetime of tmpl (every extranonce roll keeps the same difficulty);
	// cur.Target is therefore valid for any work unit this template ever
	// produced, not just the most recently dispatched one.
	hash := header.BlockHash()
	if !hashMeetsTarget(hash, cur.Target) {
		return nil, errors.New("submitted work does not meet the target difficulty")
	}
	log.Infof("Accepted solved block %s at height %d", hash, tmpl.Height)
	return header, nil
}

// AddBlock validates an externally-assembled, fully-serialized candidate
// block (the getblocktemplate-style "submitblock" path, as distinct from
// the legacy getwork header-only SubmitWork) and, if it extends the
// current tip and meets its proof-of-work target, hands it to the chain
// collaborator to connect. It returns nil on success, or an error whose
// message is the bare rejection reason (the caller is expected to render
// it as "rejected: <reason>" per spec §4.8).
//
// Some historic pool software built valid segwit blocks without a witness
// commitment output and without the paired coinbase witness nonce; this is
// tolerated by synthesizing a zero witness nonce when the block carries
// witness data of its own but declares no commitment, rather than
// rejecting an otherwise-valid block over that omission.
func (e *Engine) AddBlock(data []byte) error {
	block, err := wireformat.DeserializeBlock(data)
	if err != nil {
		return errors.Wrap(err, "invalid block")
	}

	e.mtx.Lock()
	tmpl := e.tmpl
	cur := e.current
	e.mtx.Unlock()
	if tmpl == nil || cur == nil {
		return errors.New("no outstanding template to validate against")
	}
	if block.Header.PrevBlock != tmpl.Header.PrevBlock {
		return errors.New("bad-prevblk")
	}
	if block.Header.Bits != tmpl.Header.Bits {
		return errors.New("bad-diffbits")
	}

	// cur.Target, like SubmitWork's, is valid for any work this engine
	// dispatched against tmpl: Bits never changes between extranonce
	// rolls.
	if !hashMeetsTarget(block.Header.BlockHash(), cur.Target) {
		return errors.New("high-hash: proof of work does not meet declared target")
	}

	block.EnsureCoinbaseWitnessNonce()

	if err := e.builder.Chain.SubmitBlock(block); err != nil {
		return err
	}
	log.Infof("Accepted submitted block %s at height %d", block.Header.BlockHash(), tmpl.Height)
	return nil
}

// encodeGetworkData packs h into the legacy 128-byte, per-4-byte
// byte-swapped payload: the 80-byte serialized header, byte-swapped one
// 32-bit word at a time (historical getwork clients hashed the header a
// word at a time in the CPU's native byte order), followed by the fixed
// SHA256 padding block (a single 0x80 byte, zero fill, and the 64-bit
// message length in bits, big-endian, per the SHA256 Merkle-Damgård
// padding rule) the original mining software baked directly into the wire
// payload instead of letting the hash function compute it.
func encodeGetworkData(out *[paddedWorkSize]byte, h *wireformat.BlockHeader) {
	raw := h.Serialize()
	for i := 0; i < len(raw); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	// SHA256 padding for an 80-byte (640-bit) message: 0x80, zero fill,
	// then the 64-bit bit-length big-endian in the final 8 bytes of the
	// 128-byte block.
	out[wireformat.BlockHeaderPayload] = 0x80
	for i := wireformat.BlockHeaderPayload + 1; i < paddedWorkSize-8; i++ {
		out[i] = 0
	}
	binary.BigEndian.PutUint64(out[paddedWorkSize-8:], uint64(wireformat.BlockHeaderPayload)*8)
}

// decodeGetworkData reverses encodeGetworkData's byte-swap to recover the
// 80-byte header a client returned (with its nonce field filled in).
func decodeGetworkData(data [paddedWorkSize]byte) (*wireformat.BlockHeader, error) {
	var raw [wireformat.BlockHeaderPayload]byte
	for i := 0; i < len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = data[i+3], data[i+2], data[i+1], data[i]
	}
	return wireformat.DeserializeBlockHeader(raw[:])
}

// bitsToTarget expands a compact "nBits" difficulty encoding into a full
// 256-bit target stored least-significant byte first like a wireformat.Hash,
// the threshold a candidate block hash must be numerically less than or
// equal to.
func bitsToTarget(bits uint32) [32]byte {
	var target [32]byte
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target[0] = byte(mantissa)
		target[1] = byte(mantissa >> 8)
		target[2] = byte(mantissa >> 16)
		return target
	}
	offset := int(exponent) - 3
	if offset+3 > 32 {
		return target
	}
	target[offset] = byte(mantissa)
	target[offset+1] = byte(mantissa >> 8)
	target[offset+2] = byte(mantissa >> 16)
	return target
}

// hashMeetsTarget reports whether hash is numerically less than or equal to
// target, both holding a 256-bit number least-significant byte first.
func hashMeetsTarget(hash wireformat.Hash, target [32]byte) bool {
	// hash is stored internally little-endian; compare most-significant
	// byte first by walking from the end of the array.
	for i := wireformat.HashSize - 1; i >= 0; i-- {
		if hash[i] < target[i] {
			return true
		}
		if hash[i] > target[i] {
			return false
		}
	}
	return true
}
