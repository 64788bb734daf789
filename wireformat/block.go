// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wireformat

import (
	"bytes"

	"github.com/pkg/errors"
)

// maxBlockTxCount bounds the transaction count a deserialized block may
// declare, derived the same way maxTxInPerMessage/maxTxOutPerMessage are:
// from the smallest possible encoding of a transaction so a tiny payload
// cannot claim an implausible count.
const maxBlockTxCount = (1 << 32) / 60

// witnessCommitmentHeader is the BIP141 marker a coinbase output's script
// carries when it commits to the block's witness root: OP_RETURN (0x6a)
// followed by a 36-byte push (0x24) whose first four bytes are this value.
var witnessCommitmentHeader = [4]byte{0xaa, 0x21, 0xa9, 0xed}

// Block is a full, fully-assembled block: a header plus its ordered
// transaction list (coinbase first), the shape the work/longpoll engine
// (C8) reconstructs from a submitted header plus its own template state,
// and the shape an external miner's "submitblock"-style submission
// deserializes into.
type Block struct {
	Header       BlockHeader
	Transactions []*Tx
}

// Serialize encodes the block: the 80-byte header, a var-int transaction
// count, then each transaction in its own BIP144-aware encoding.
func (b *Block) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(b.Header.Serialize())
	_ = WriteVarInt(&buf, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		buf.Write(tx.Serialize())
	}
	return buf.Bytes()
}

// DeserializeBlock parses a full block from raw bytes.
func DeserializeBlock(raw []byte) (*Block, error) {
	if len(raw) < BlockHeaderPayload {
		return nil, errors.Errorf("block payload too short for a header: got %d bytes", len(raw))
	}
	header, err := DeserializeBlockHeader(raw[:BlockHeaderPayload])
	if err != nil {
		return nil, errors.Wrap(err, "reading block header")
	}

	r := bytes.NewReader(raw[BlockHeaderPayload:])
	txCount, err := ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading transaction count")
	}
	if txCount == 0 {
		return nil, errors.New("block has no transactions")
	}
	if txCount > maxBlockTxCount {
		return nil, errors.Errorf("too many transactions: %d", txCount)
	}

	rest := raw[len(raw)-r.Len():]
	txs := make([]*Tx, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, n, err := deserializeOne(rest)
		if err != nil {
			return nil, errors.Wrapf(err, "reading transaction %d", i)
		}
		txs = append(txs, tx)
		rest = rest[n:]
	}

	return &Block{Header: *header, Transactions: txs}, nil
}

// deserializeOne parses a single transaction from the front of raw and
// reports how many bytes it consumed, since Deserialize has no notion of
// "read one tx and tell me where it ended" on its own.
func deserializeOne(raw []byte) (*Tx, int, error) {
	tx, err := Deserialize(raw)
	if err != nil {
		return nil, 0, err
	}
	return tx, tx.SerializeSize(), nil
}

// HasWitnessCommitment reports whether the coinbase carries a BIP141
// witness-commitment output: an OP_RETURN push whose first four payload
// bytes match witnessCommitmentHeader.
func (b *Block) HasWitnessCommitment() bool {
	if len(b.Transactions) == 0 {
		return false
	}
	for _, out := range b.Transactions[0].TxOut {
		if isWitnessCommitmentScript(out.PkScript) {
			return true
		}
	}
	return false
}

func isWitnessCommitmentScript(pkScript []byte) bool {
	if len(pkScript) < 38 || pkScript[0] != 0x6a || pkScript[1] != 0x24 {
		return false
	}
	return bytes.Equal(pkScript[2:6], witnessCommitmentHeader[:])
}

// HasWitnessData reports whether any non-coinbase transaction in the block
// carries witness data, the condition that makes a missing witness
// commitment on the coinbase worth fixing up rather than ignoring.
func (b *Block) HasWitnessData() bool {
	for _, tx := range b.Transactions[1:] {
		if tx.HasWitness() {
			return true
		}
	}
	return false
}

// defaultWitnessNonceSize is the size of the single witness-stack item a
// coinbase's input carries: a 32-byte nonce, conventionally all zero when
// the producer does not need it to be anything else.
const defaultWitnessNonceSize = 32

// EnsureCoinbaseWitnessNonce appends an all-zero 32-byte witness nonce to
// the coinbase's sole input if it doesn't already carry one. Some historic
// pool software (eloipool among them) omitted the witness commitment
// output and its paired coinbase witness nonce on otherwise-valid segwit
// blocks; this fixup is kept strictly conditional on the block producing no
// witness commitment of its own, per the documented quirk this behavior
// preserves — a block that does commit to its own witness root is never
// touched here.
func (b *Block) EnsureCoinbaseWitnessNonce() {
	if b.HasWitnessCommitment() || !b.HasWitnessData() {
		return
	}
	coinbase := b.Transactions[0]
	if len(coinbase.TxIn) == 0 {
		return
	}
	in := coinbase.TxIn[0]
	if len(in.Witness) > 0 {
		return
	}
	in.Witness = [][]byte{make([]byte, defaultWitnessNonceSize)}
}
