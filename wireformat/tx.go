// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wireformat implements the on-wire transaction and block-header
// encoding shared by the coin viewpoint, mempool, validator and mining
// packages. Signature verification and address/script parsing proper are
// out of scope (see domain/script); this package only needs enough of the
// script bytes to size and hash a transaction.
package wireformat

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// maxScriptSize is the maximum allowed length of a single signature or
	// public key script, matching Bitcoin's MAX_SCRIPT_SIZE.
	maxScriptSize = 10000

	// maxWitnessItemSize bounds a single witness stack item, matching
	// Bitcoin's MAX_SCRIPT_ELEMENT_SIZE-derived witness limit.
	maxWitnessItemSize = 11000

	// maxTxInPerMessage and maxTxOutPerMessage bound the input/output count
	// a single transaction may declare, derived from the smallest possible
	// encoding of an input/output so an attacker cannot claim billions of
	// entries with a tiny payload.
	maxTxInPerMessage  = (1 << 32) / 41
	maxTxOutPerMessage = (1 << 32) / 9

	// witnessMarker and witnessFlag are the sentinel bytes BIP144 inserts
	// between the version and the input count to signal a segwit encoding.
	witnessMarker = 0x00
	witnessFlag   = 0x01

	// MaxTxInSequenceNum is the highest sequence number a TxIn can carry,
	// signalling that neither BIP68 relative-locktime nor nLockTime apply to
	// that input.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// SequenceLockTimeDisabled set on a TxIn's sequence number opts that
	// input out of BIP68 relative-locktime enforcement entirely.
	SequenceLockTimeDisabled uint32 = 1 << 31

	// WitnessScaleFactor is the factor by which the witness-carrying part of
	// a transaction is discounted when computing weight, per BIP141.
	WitnessScaleFactor = 4
)

// Outpoint uniquely identifies a transaction output: the id of the
// transaction that created it and the zero-based output index.
type Outpoint struct {
	TxID  Hash
	Index uint32
}

// NewOutpoint is a convenience constructor mirroring the teacher's
// domainmessage.NewOutpoint.
func NewOutpoint(txID *Hash, index uint32) Outpoint {
	return Outpoint{TxID: *txID, Index: index}
}

// String renders op as "txid:index", the conventional display form used in
// log messages and error strings throughout the codebase.
func (op Outpoint) String() string {
	return op.TxID.String() + ":" + strconv.FormatUint(uint64(op.Index), 10)
}

// TxIn defines a transaction input.
type TxIn struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Sequence         uint32
	Witness          [][]byte
}

// TxOut defines a transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Tx is an immutable, already-parsed transaction. Parsing from a raw byte
// blob happens once, in Deserialize; every other operation in this codebase
// works against this struct and its cached derived values.
type Tx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32

	raw     []byte
	id      *Hash
	wid     *Hash
	baseSz  int
	totalSz int
}

// IsCoinBase reports whether tx is a coinbase transaction: exactly one
// input, referencing a null outpoint.
func (tx *Tx) IsCoinBase() bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prevOut := &tx.TxIn[0].PreviousOutpoint
	return prevOut.Index == ^uint32(0) && prevOut.TxID.IsZero()
}

// HasWitness reports whether any input carries witness data.
func (tx *Tx) HasWitness() bool {
	for _, in := range tx.TxIn {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

// ID returns the legacy transaction id: the double-SHA256 of the
// transaction serialized WITHOUT witness data. It is cached on first call.
func (tx *Tx) ID() Hash {
	if tx.id == nil {
		var buf bytes.Buffer
		_ = tx.encode(&buf, false)
		h := DoubleHash(buf.Bytes())
		tx.id = &h
		tx.baseSz = buf.Len()
	}
	return *tx.id
}

// WTxID returns the witness transaction id: the double-SHA256 of the
// transaction serialized WITH witness data. For a transaction with no
// witness data this equals ID().
func (tx *Tx) WTxID() Hash {
	if !tx.HasWitness() {
		return tx.ID()
	}
	if tx.wid == nil {
		var buf bytes.Buffer
		_ = tx.encode(&buf, true)
		h := DoubleHash(buf.Bytes())
		tx.wid = &h
		tx.totalSz = buf.Len()
	}
	return *tx.wid
}

// BaseSize returns the serialized size of the transaction without witness
// data, as used for legacy size accounting and vsize calculation.
func (tx *Tx) BaseSize() int {
	if tx.baseSz == 0 {
		tx.ID()
	}
	return tx.baseSz
}

// SerializeSize returns the serialized size of the transaction including
// any witness data.
func (tx *Tx) SerializeSize() int {
	if !tx.HasWitness() {
		return tx.BaseSize()
	}
	if tx.totalSz == 0 {
		tx.WTxID()
	}
	return tx.totalSz
}

// Weight returns the BIP141 transaction weight: base size times
// (WitnessScaleFactor-1) plus the full serialized size, which equals base
// size times WitnessScaleFactor plus the witness bytes.
func (tx *Tx) Weight() int {
	base := tx.BaseSize()
	total := tx.SerializeSize()
	return base*(WitnessScaleFactor-1) + total
}

// VirtualSize returns the BIP141 virtual size: weight divided by
// WitnessScaleFactor, rounded up.
func (tx *Tx) VirtualSize() int {
	return (tx.Weight() + WitnessScaleFactor - 1) / WitnessScaleFactor
}

// SigOpCost estimates the transaction's signature operation cost the way
// Bitcoin Core's GetTransactionSigOpCost does for the legacy (non-P2SH,
// non-witness-aware) component: every bare CHECKSIG/CHECKSIGVERIFY counts 4,
// every CHECKMULTISIG/CHECKMULTISIGVERIFY counts 80 (20 sigops scaled by
// WitnessScaleFactor; accurate sig-count
// tracking through P2SH redeem scripts is a script-parsing concern and lives
// behind the domain/script collaborator boundary; this is the cheap bound
// the mempool itself needs for the policy check in spec step 11).
func (tx *Tx) SigOpCost() int {
	cost := 0
	for _, in := range tx.TxIn {
		cost += countSigOps(in.SignatureScript) * WitnessScaleFactor
	}
	for _, out := range tx.TxOut {
		cost += countSigOps(out.PkScript) * WitnessScaleFactor
	}
	return cost
}

const (
	opCheckSig            = 0xac
	opCheckSigVerify      = 0xad
	opCheckMultiSig       = 0xae
	opCheckMultiSigVerify = 0xaf
	opData1               = 0x01
	opData75              = 0x4b
	opPushData1           = 0x4c
	opPushData2           = 0x4d
	opPushData4           = 0x4e
	op1                   = 0x51
	op16                  = 0x60
)

// countSigOps scans script for (multi-)checksig opcodes. It is deliberately
// simple: it does not resolve OP_N before CHECKMULTISIG into the exact key
// count (that requires full script evaluation) and instead charges the
// conservative maximum of 20 per occurrence, matching the "non-last-script"
// accounting path in Bitcoin Core's legacy sigop counter.
func countSigOps(script []byte) int {
	n := 0
	for i := 0; i < len(script); {
		op := script[i]
		switch {
		case op == opCheckSig || op == opCheckSigVerify:
			n++
			i++
		case op == opCheckMultiSig || op == opCheckMultiSigVerify:
			n += 20
			i++
		case op >= opData1 && op <= opData75:
			i += 1 + int(op)
		case op == opPushData1:
			if i+1 >= len(script) {
				return n
			}
			i += 2 + int(script[i+1])
		case op == opPushData2:
			if i+2 >= len(script) {
				return n
			}
			i += 3 + int(binary.LittleEndian.Uint16(script[i+1:i+3]))
		case op == opPushData4:
			if i+4 >= len(script) {
				return n
			}
			i += 5 + int(binary.LittleEndian.Uint32(script[i+1:i+5]))
		default:
			i++
		}
	}
	return n
}

// Deserialize parses a raw transaction, detecting the BIP144 witness
// encoding via the marker/flag bytes.
func Deserialize(raw []byte) (*Tx, error) {
	tx := &Tx{raw: append([]byte(nil), raw...)}
	r := bytes.NewReader(raw)

	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrap(err, "reading version")
	}
	tx.Version = version

	hasWitness := false
	countByte, err := peekByte(r)
	if err != nil {
		return nil, err
	}
	if countByte == witnessMarker {
		var marker, flag byte
		if err := binary.Read(r, binary.LittleEndian, &marker); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &flag); err != nil {
			return nil, err
		}
		if flag != witnessFlag {
			return nil, errors.New("invalid witness flag")
		}
		hasWitness = true
	}

	inCount, err := ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading input count")
	}
	if inCount > maxTxInPerMessage {
		return nil, errors.Errorf("too many inputs: %d", inCount)
	}
	tx.TxIn = make([]*TxIn, inCount)
	for i := range tx.TxIn {
		in, err := readTxIn(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading input %d", i)
		}
		tx.TxIn[i] = in
	}

	outCount, err := ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading output count")
	}
	if outCount > maxTxOutPerMessage {
		return nil, errors.Errorf("too many outputs: %d", outCount)
	}
	tx.TxOut = make([]*TxOut, outCount)
	for i := range tx.TxOut {
		out, err := readTxOut(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading output %d", i)
		}
		tx.TxOut[i] = out
	}

	if hasWitness {
		for _, in := range tx.TxIn {
			itemCount, err := ReadVarInt(r)
			if err != nil {
				return nil, errors.Wrap(err, "reading witness item count")
			}
			witness := make([][]byte, itemCount)
			for i := range witness {
				item, err := ReadVarBytes(r, maxWitnessItemSize, "witness item")
				if err != nil {
					return nil, err
				}
				witness[i] = item
			}
			in.Witness = witness
		}
	}

	var lockTime uint32
	if err := binary.Read(r, binary.LittleEndian, &lockTime); err != nil {
		return nil, errors.Wrap(err, "reading locktime")
	}
	tx.LockTime = lockTime

	return tx, nil
}

func peekByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return b, r.UnreadByte() // restore position; err from UnreadByte is never non-nil right after ReadByte
}

func readTxIn(r io.Reader) (*TxIn, error) {
	in := &TxIn{}
	if err := binary.Read(r, binary.LittleEndian, &in.PreviousOutpoint.TxID); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &in.PreviousOutpoint.Index); err != nil {
		return nil, err
	}
	script, err := ReadVarBytes(r, maxScriptSize, "signature script")
	if err != nil {
		return nil, err
	}
	in.SignatureScript = script
	if err := binary.Read(r, binary.LittleEndian, &in.Sequence); err != nil {
		return nil, err
	}
	return in, nil
}

func readTxOut(r io.Reader) (*TxOut, error) {
	out := &TxOut{}
	if err := binary.Read(r, binary.LittleEndian, &out.Value); err != nil {
		return nil, err
	}
	script, err := ReadVarBytes(r, maxScriptSize, "pk script")
	if err != nil {
		return nil, err
	}
	out.PkScript = script
	return out, nil
}

// Serialize encodes the transaction, including witness data when present.
func (tx *Tx) Serialize() []byte {
	var buf bytes.Buffer
	_ = tx.encode(&buf, tx.HasWitness())
	return buf.Bytes()
}

func (tx *Tx) encode(w io.Writer, withWitness bool) error {
	if err := binary.Write(w, binary.LittleEndian, tx.Version); err != nil {
		return err
	}
	if withWitness {
		if _, err := w.Write([]byte{witnessMarker, witnessFlag}); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(tx.TxIn))); err != nil {
		return err
	}
	for _, in := range tx.TxIn {
		if err := writeTxIn(w, in); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(tx.TxOut))); err != nil {
		return err
	}
	for _, out := range tx.TxOut {
		if err := writeTxOut(w, out); err != nil {
			return err
		}
	}
	if withWitness {
		for _, in := range tx.TxIn {
			if err := WriteVarInt(w, uint64(len(in.Witness))); err != nil {
				return err
			}
			for _, item := range in.Witness {
				if err := WriteVarBytes(w, item); err != nil {
					return err
				}
			}
		}
	}
	return binary.Write(w, binary.LittleEndian, tx.LockTime)
}

func writeTxIn(w io.Writer, in *TxIn) error {
	if err := binary.Write(w, binary.LittleEndian, in.PreviousOutpoint.TxID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, in.PreviousOutpoint.Index); err != nil {
		return err
	}
	if err := WriteVarBytes(w, in.SignatureScript); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, in.Sequence)
}

func writeTxOut(w io.Writer, out *TxOut) error {
	if err := binary.Write(w, binary.LittleEndian, out.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, out.PkScript)
}
