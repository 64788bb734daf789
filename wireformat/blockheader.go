// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wireformat

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// BlockHeaderPayload is the fixed 80-byte size of a serialized block header:
// version(4) + prevBlock(32) + merkleRoot(32) + time(4) + bits(4) + nonce(4).
const BlockHeaderPayload = 80

// BlockHeader is a single-parent (non-DAG) block header, the header format
// the work/longpoll engine (C8) and template builder (C7) exchange with
// miners.
type BlockHeader struct {
	Version    int32
	PrevBlock  Hash
	MerkleRoot Hash
	Timestamp  time.Time
	Bits       uint32
	Nonce      uint32
}

// BlockHash computes the block identifier: the double-SHA256 of the
// serialized header.
func (h *BlockHeader) BlockHash() Hash {
	return DoubleHash(h.Serialize())
}

// Serialize encodes the header to its fixed 80-byte wire form.
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, BlockHeaderPayload)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], uint32(h.Timestamp.Unix()))
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// DeserializeBlockHeader parses a fixed 80-byte block header.
func DeserializeBlockHeader(b []byte) (*BlockHeader, error) {
	if len(b) != BlockHeaderPayload {
		return nil, errors.Errorf("invalid block header length: got %d, want %d", len(b), BlockHeaderPayload)
	}
	h := &BlockHeader{}
	h.Version = int32(binary.LittleEndian.Uint32(b[0:4]))
	copy(h.PrevBlock[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(b[68:72])), 0).UTC()
	h.Bits = binary.LittleEndian.Uint32(b[72:76])
	h.Nonce = binary.LittleEndian.Uint32(b[76:80])
	return h, nil
}
