// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/lcoin/nodecore/wireformat"
)

// Both serialization formats store only which outputs of tx are still
// unspent (a presence bitmap) plus their values; the locking scripts
// themselves are never duplicated on disk because they can always be
// recovered from the companion transaction they belong to. The "full"
// format additionally prefixes the metadata (height, coinbase flag,
// version) that isn't recoverable from the transaction bytes alone; the
// "fast" format omits it for callers (such as the mempool's own in-memory
// bookkeeping) that already track that metadata out of band.

// SerializeFull encodes coins as (height*2+coinbaseFlag) and version,
// variable-length-integer prefixed, followed by the fast-format presence
// bitmap and values.
func SerializeFull(coins *Coins, tx *wireformat.Tx) ([]byte, error) {
	var buf bytes.Buffer
	coinbaseFlag := uint64(0)
	if coins.Coinbase {
		coinbaseFlag = 1
	}
	if err := wireformat.WriteVarInt(&buf, uint64(coins.Height)*2+coinbaseFlag); err != nil {
		return nil, err
	}
	if err := wireformat.WriteVarInt(&buf, uint64(coins.Version)); err != nil {
		return nil, err
	}
	fast, err := SerializeFast(coins, tx)
	if err != nil {
		return nil, err
	}
	buf.Write(fast)
	return buf.Bytes(), nil
}

// DeserializeFull is the companion of SerializeFull: it reads the
// height/coinbase/version prefix, then delegates to DeserializeFast against
// tx to recover the presence bitmap and values.
func DeserializeFull(data []byte, tx *wireformat.Tx) (*Coins, error) {
	r := bytes.NewReader(data)
	meta, err := wireformat.ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading height/coinbase prefix")
	}
	version, err := wireformat.ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading version prefix")
	}

	coins, err := deserializeFastFrom(r, tx)
	if err != nil {
		return nil, err
	}
	coins.Height = int32(meta / 2)
	coins.Coinbase = meta%2 == 1
	coins.Version = int32(version)
	for _, c := range coins.Outputs {
		c.Height = coins.Height
		c.IsCoinbase = coins.Coinbase
	}
	return coins, nil
}

// SerializeFast encodes which of tx's outputs are still unspent in coins as
// a presence bitmap (one bit per output, LSB first, padded with zero bits
// to a byte boundary), followed by the satoshi value of each present
// output in ascending index order. No height, coinbase flag or version is
// stored: the caller is expected to already know it.
func SerializeFast(coins *Coins, tx *wireformat.Tx) ([]byte, error) {
	n := len(tx.TxOut)
	bitmap := make([]byte, (n+7)/8)
	var values bytes.Buffer
	for i := 0; i < n; i++ {
		if coin, ok := coins.Outputs[uint32(i)]; ok {
			bitmap[i/8] |= 1 << uint(i%8)
			if err := wireformat.WriteVarInt(&values, uint64(coin.Value)); err != nil {
				return nil, err
			}
		}
	}
	var buf bytes.Buffer
	buf.Write(bitmap)
	buf.Write(values.Bytes())
	return buf.Bytes(), nil
}

// DeserializeFast is the companion of SerializeFast: given tx, it recovers
// which outputs are unspent and rebuilds their Coin entries using the
// locking scripts from tx itself.
func DeserializeFast(data []byte, tx *wireformat.Tx) (*Coins, error) {
	return deserializeFastFrom(bytes.NewReader(data), tx)
}

func deserializeFastFrom(r io.Reader, tx *wireformat.Tx) (*Coins, error) {
	n := len(tx.TxOut)
	bitmap := make([]byte, (n+7)/8)
	if n > 0 {
		if _, err := io.ReadFull(r, bitmap); err != nil {
			return nil, errors.Wrap(err, "reading presence bitmap")
		}
	}
	coins := &Coins{Outputs: make(map[uint32]*Coin)}
	for i := 0; i < n; i++ {
		if bitmap[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		value, err := wireformat.ReadVarInt(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading value for output %d", i)
		}
		coins.Add(uint32(i), int64(value), tx.TxOut[i].PkScript)
	}
	return coins, nil
}
