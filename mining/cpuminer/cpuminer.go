// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cpuminer implements an in-process CPU miner (C9): a start/stop
// state machine that repeatedly pulls a unit of work from a mining/work
// Engine and searches a slice of the nonce space for a header whose hash
// meets its target. Grounded on the nonce-search loop in the teacher
// corpus's cmd/kaspaminer/mineloop.go (mineNextBlock's "increment nonce,
// rebuild from template, check difficulty" shape), adapted from an
// RPC-polling client driving an external node to an in-process caller of
// mining/work.Engine, and from kaspaminer's per-block goroutine fan-out to
// a single cancellable worker loop plus an atomic hash-rate counter.
package cpuminer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcoin/nodecore/mining/work"
	"github.com/lcoin/nodecore/wireformat"
)

// nonceSliceSize bounds how many nonces the worker tries against one unit
// of work before re-checking whether a fresher template is available,
// mirroring the teacher's practice of never mining stale templates for too
// long once a new one is ready.
const nonceSliceSize = 1 << 22 // ~4.2 million nonces per slice

// hashRateSampleInterval mirrors kaspaminer's logHashRateInterval. Miner
// does not read it: HashesPerSecond measures whatever interval elapsed
// since its previous call.
const hashRateSampleInterval = 10 * time.Second

// Miner searches for valid proof-of-work headers against units of work
// supplied by an Engine, logging accepted blocks through a caller-supplied
// hook rather than an RPC submission: this in-process miner is wired
// directly to the local node's mining/work.Engine, while cmd/cpuminer is
// the separate getwork client that mines over RPC.
type Miner struct {
	engine  *work.Engine
	onSolve func(*wireformat.BlockHeader, int32)

	mtx       sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	destroyed bool

	hashesTried uint64 // atomic
}

// New returns a Miner that pulls work from engine and calls onSolve with
// every header it successfully mines.
func New(engine *work.Engine, onSolve func(*wireformat.BlockHeader, int32)) *Miner {
	return &Miner{engine: engine, onSolve: onSolve}
}

// Start begins the mining loop in a background goroutine. Calling Start on
// an already-running Miner is a no-op.
func (m *Miner) Start() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.running || m.destroyed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.miningLoop(ctx)
	}()
	log.Infof("CPU miner started")
}

// Stop halts the mining loop and blocks until the worker goroutine has
// exited. The Miner may be Start-ed again afterwards.
func (m *Miner) Stop() {
	m.mtx.Lock()
	if !m.running {
		m.mtx.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.mtx.Unlock()

	cancel()
	m.wg.Wait()
	log.Infof("CPU miner stopped")
}

// IsMining reports whether the mining loop is currently running.
func (m *Miner) IsMining() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.running
}

// HashesPerSecond returns the number of hashes computed since the last
// call to HashesPerSecond, divided by the elapsed time — the same
// sample-and-reset convention as the teacher's logHashRate.
func (m *Miner) HashesPerSecond(elapsed time.Duration) float64 {
	tried := atomic.SwapUint64(&m.hashesTried, 0)
	if elapsed <= 0 {
		return 0
	}
	return float64(tried) / elapsed.Seconds()
}

func (m *Miner) miningLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w, err := m.engine.CreateWork()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		header := w.Header
		solved, ok := m.searchSlice(ctx, &header, w.Target)
		if !ok {
			continue
		}
		log.Infof("Solved block at height %d with nonce %d", w.Height, solved.Nonce)
		if m.onSolve != nil {
			m.onSolve(solved, w.Height)
		}
		if _, err := m.engine.RefreshBlock(); err != nil {
			continue
		}
	}
}

// searchSlice tries up to nonceSliceSize nonces against header, returning
// the solved header and true on success, or (nil, false) if the slice was
// exhausted (or ctx cancelled) without finding one — in which case the
// caller re-fetches work, picking up any template change in the meantime.
func (m *Miner) searchSlice(ctx context.Context, header *wireformat.BlockHeader, target [32]byte) (*wireformat.BlockHeader, bool) {
	startNonce := header.Nonce
	for i := uint32(0); i < nonceSliceSize; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		header.Nonce = startNonce + i
		atomic.AddUint64(&m.hashesTried, 1)

		hash := header.BlockHash()
		if hashMeetsTarget(hash, target) {
			solved := *header
			return &solved, true
		}
	}
	return nil, false
}

func hashMeetsTarget(hash wireformat.Hash, target [32]byte) bool {
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
