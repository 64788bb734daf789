// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lcoin/nodecore/wireformat"
)

var hashesTried uint64

const logHashRateInterval = 10 * time.Second

// nonceSliceSize bounds how many nonces mineNextBlock tries against one
// unit of work before re-fetching, mirroring the teacher's "keep looping
// the nonce until a new block template is discovered" comment in
// mineNextBlock — except here the check is a slice bound rather than an
// unbounded loop, since this client has no push notification for "a new
// template exists" outside of its own longpoll round trip.
const nonceSliceSize = 1 << 22

// mineLoop repeatedly fetches work from the node, searches a bounded nonce
// range, and submits any solution found, long-polling for fresh work
// between searches — the same templatesLoop/mineNextBlock split the
// teacher's miner uses, collapsed into one goroutine since this client has
// no separate block-template push channel to multiplex against.
func mineLoop(client *rpcClient) error {
	go logHashRate()

	work, err := client.GetWork()
	if err != nil {
		return errors.Wrap(err, "fetching initial work")
	}

	for {
		header, target, err := decodeWork(work)
		if err != nil {
			return err
		}

		solved, ok, err := searchSlice(header, target)
		if err != nil {
			return err
		}
		if ok {
			if err := submitSolution(client, solved); err != nil {
				log.Warnf("Submitting solved block: %s", err)
			}
		}

		next, err := client.GetWorkLongPoll()
		if err != nil {
			log.Warnf("Long poll failed, falling back to a fresh getwork: %s", err)
			next, err = client.GetWork()
			if err != nil {
				return errors.Wrap(err, "fetching work after failed long poll")
			}
		}
		work = next
	}
}

func logHashRate() {
	lastCheck := time.Now()
	for range time.Tick(logHashRateInterval) {
		current := atomic.LoadUint64(&hashesTried)
		now := time.Now()
		khashes := float64(current) / 1000.0
		log.Infof("Current hash rate is %.2f Khash/s", khashes/now.Sub(lastCheck).Seconds())
		lastCheck = now
		atomic.AddUint64(&hashesTried, -current)
	}
}

// searchSlice tries up to nonceSliceSize consecutive nonces following
// header's current nonce, returning the first header whose hash meets
// target.
func searchSlice(header *wireformat.BlockHeader, target [32]byte) (*wireformat.BlockHeader, bool, error) {
	h := *header
	for i := 0; i < nonceSliceSize; i++ {
		h.Nonce++
		atomic.AddUint64(&hashesTried, 1)
		if hashMeetsTarget(h.BlockHash(), target) {
			return &h, true, nil
		}
	}
	return nil, false, nil
}

func submitSolution(client *rpcClient, header *wireformat.BlockHeader) error {
	var data [128]byte
	encodeGetworkData(&data, header)
	accepted, err := client.SubmitWork(hexEncode(data[:]))
	if err != nil {
		return err
	}
	if !accepted {
		log.Warnf("Solved block %s was rejected", header.BlockHash())
		return nil
	}
	log.Infof("Solved block %s accepted", header.BlockHash())
	return nil
}

// decodeWork reverses the server's getwork byte-swap to recover the plain
// 80-byte header a nonce search can increment directly, and parses the
// hex-encoded target. Duplicated, rather than imported, from
// mining/work's unexported encodeGetworkData/decodeGetworkData/
// hashMeetsTarget: a standalone getwork client has no access to the
// node's internal mining/work package (it talks to it only over RPC), and
// historically every independent getwork miner reimplemented this exact
// byte-swap/padding dance itself.
func decodeWork(w *getWorkResult) (*wireformat.BlockHeader, [32]byte, error) {
	var target [32]byte
	raw, err := hexDecode(w.Target)
	if err != nil {
		return nil, target, errors.Wrap(err, "decoding target")
	}
	if len(raw) != 32 {
		return nil, target, errors.Errorf("target must be 32 bytes, got %d", len(raw))
	}
	copy(target[:], raw)

	data, err := hexDecode(w.Data)
	if err != nil {
		return nil, target, errors.Wrap(err, "decoding work data")
	}
	if len(data) != 128 {
		return nil, target, errors.Errorf("work data must be 128 bytes, got %d", len(data))
	}

	var rawHeader [80]byte
	for i := 0; i < len(rawHeader); i += 4 {
		rawHeader[i], rawHeader[i+1], rawHeader[i+2], rawHeader[i+3] = data[i+3], data[i+2], data[i+1], data[i]
	}
	header, err := wireformat.DeserializeBlockHeader(rawHeader[:])
	if err != nil {
		return nil, target, errors.Wrap(err, "deserializing header")
	}
	return header, target, nil
}

func encodeGetworkData(out *[128]byte, h *wireformat.BlockHeader) {
	raw := h.Serialize()
	for i := 0; i < len(raw); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	out[80] = 0x80
	for i := 81; i < 120; i++ {
		out[i] = 0
	}
	binary.BigEndian.PutUint64(out[120:], 80*8)
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
