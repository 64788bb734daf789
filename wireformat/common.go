// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wireformat

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxVarIntPayload is the maximum payload size, in bytes, of a variable
// length integer.
const MaxVarIntPayload = 9

// readElement reads exactly len(buf) bytes from r. It stands in for the
// teacher's wire.binarySerializer, without that type's free-list pool
// (the mempool's hot path is admission, not block relay, so the allocation
// savings don't matter here).
func readElement(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64, using the same prefix convention as the Bitcoin wire protocol:
// 0xfd + uint16, 0xfe + uint32, 0xff + uint64, else the single byte itself.
func ReadVarInt(r io.Reader) (uint64, error) {
	var b [9]byte
	if err := readElement(r, b[:1]); err != nil {
		return 0, err
	}
	switch b[0] {
	case 0xff:
		if err := readElement(r, b[:8]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:8]), nil
	case 0xfe:
		if err := readElement(r, b[:4]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b[:4])), nil
	case 0xfd:
		if err := readElement(r, b[:2]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:2])), nil
	default:
		return uint64(b[0]), nil
	}
}

// WriteVarInt writes val to w using the minimal possible number of bytes.
func WriteVarInt(w io.Writer, val uint64) error {
	var b [9]byte
	switch {
	case val < 0xfd:
		b[0] = byte(val)
		_, err := w.Write(b[:1])
		return err
	case val <= 0xffff:
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:3], uint16(val))
		_, err := w.Write(b[:3])
		return err
	case val <= 0xffffffff:
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:5], uint32(val))
		_, err := w.Write(b[:5])
		return err
	default:
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:9], val)
		_, err := w.Write(b[:9])
		return err
	}
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// ReadVarBytes reads a variable length byte array, bounded by maxAllowed to
// guard against a hostile length prefix forcing an oversized allocation.
func ReadVarBytes(r io.Reader, maxAllowed uint64, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxAllowed {
		return nil, errors.Errorf("%s exceeds max allowed size (%d > %d)", fieldName, count, maxAllowed)
	}
	b := make([]byte, count)
	if count == 0 {
		return b, nil
	}
	if err := readElement(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes writes a byte slice preceded by its length as a variable
// length integer.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
