// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/lcoin/nodecore/wireformat"
)

// maxCachedTxSize bounds a single cached transaction's size, matching the
// network's maximum block weight (a transaction can never be legitimately
// larger than the block it might go into).
const maxCachedTxSize = 4_000_000

// serialize encodes an Entry as a varint-length-prefixed transaction
// followed by varint time, height and fee fields, reusing wireformat's
// varint helpers the way every other on-disk record in this repository
// does.
func serialize(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := wireformat.WriteVarBytes(&buf, e.Tx); err != nil {
		return nil, err
	}
	if err := wireformat.WriteVarInt(&buf, uint64(e.Time)); err != nil {
		return nil, err
	}
	if err := wireformat.WriteVarInt(&buf, uint64(e.Height)); err != nil {
		return nil, err
	}
	if err := wireformat.WriteVarInt(&buf, zigzagEncode(e.Fee)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserialize(raw []byte) (Entry, error) {
	r := bytes.NewReader(raw)
	tx, err := wireformat.ReadVarBytes(r, maxCachedTxSize, "cached tx")
	if err != nil {
		return Entry{}, errors.Wrap(err, "reading cached tx bytes")
	}
	t, err := wireformat.ReadVarInt(r)
	if err != nil {
		return Entry{}, errors.Wrap(err, "reading cached time")
	}
	height, err := wireformat.ReadVarInt(r)
	if err != nil {
		return Entry{}, errors.Wrap(err, "reading cached height")
	}
	fee, err := wireformat.ReadVarInt(r)
	if err != nil {
		return Entry{}, errors.Wrap(err, "reading cached fee")
	}
	return Entry{
		Tx:     tx,
		Time:   int64(t),
		Height: int32(height),
		Fee:    zigzagDecode(fee),
	}, nil
}

// zigzagEncode/-Decode map a signed fee (a coinbase-adjacent package could
// in principle be negative-fee in intermediate bookkeeping, though never
// in a stored entry today) onto the unsigned varint wire type without
// sign-extension surprises.
func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
