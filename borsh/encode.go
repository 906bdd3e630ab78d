// Copyright 2025 The go-nearledger Authors
// This file is part of the go-nearledger library.
//
// The go-nearledger library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-nearledger library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-nearledger library. If not, see <http://www.gnu.org/licenses/>.

// Package borsh implements the subset of the Borsh binary format used by the
// NEAR protocol for transactions, access keys and signed messages.
//
// The format is deterministic: integers are little-endian and fixed width,
// strings and byte vectors carry a u32 length prefix, sequences a u32 element
// count, options a single tag byte (0x00 absent, 0x01 present) and enums a
// single variant byte followed by the variant payload. There is no framing
// beyond that, so writers must emit fields in exactly the order the schema
// declares them.
package borsh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
)

var (
	errNegativeBigInt = errors.New("borsh: negative big integer")
	errBigIntRange    = errors.New("borsh: big integer exceeds 128 bits")
	errLengthRange    = errors.New("borsh: length exceeds 32 bits")
)

// maxU128 is the largest value representable in a Borsh u128.
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Writer assembles a Borsh message field by field. Write methods never fail
// individually; the first error latches and Finish reports it, so callers can
// emit an entire schema and check once at the end.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a writer with the given initial buffer capacity.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// U8 appends a single byte.
func (w *Writer) U8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// U16 appends a little-endian u16.
func (w *Writer) U16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// U32 appends a little-endian u32.
func (w *Writer) U32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// U64 appends a little-endian u64.
func (w *Writer) U64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// U128 appends a little-endian u128. The value must be non-negative and fit
// in 128 bits; NEAR balances (yoctoNEAR) use this width.
func (w *Writer) U128(v *big.Int) {
	if w.err != nil {
		return
	}
	if v.Sign() < 0 {
		w.err = fmt.Errorf("%w: %s", errNegativeBigInt, v)
		return
	}
	if v.Cmp(maxU128) > 0 {
		w.err = fmt.Errorf("%w: %s", errBigIntRange, v)
		return
	}
	var be [16]byte
	v.FillBytes(be[:])
	for i := 15; i >= 0; i-- {
		w.buf = append(w.buf, be[i])
	}
}

// String appends a u32 length prefix followed by the string bytes.
func (w *Writer) String(s string) {
	if w.err != nil {
		return
	}
	if !w.length(len(s)) {
		return
	}
	w.buf = append(w.buf, s...)
}

// Bytes appends a u32 length prefix followed by the raw bytes (Vec<u8>).
func (w *Writer) Bytes(b []byte) {
	if w.err != nil {
		return
	}
	if !w.length(len(b)) {
		return
	}
	w.buf = append(w.buf, b...)
}

// Raw appends bytes with no prefix, for fixed-size arrays like hashes and
// public keys whose width the schema fixes.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// VecLen appends the u32 element count that precedes a sequence. The caller
// then writes each element in order.
func (w *Writer) VecLen(n int) {
	if w.err != nil {
		return
	}
	w.length(n)
}

// Option appends the presence tag of an Option<T>. When present, the caller
// writes the value immediately after.
func (w *Writer) Option(present bool) {
	if w.err != nil {
		return
	}
	if present {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) length(n int) bool {
	if n < 0 || uint64(n) > math.MaxUint32 {
		w.err = fmt.Errorf("%w: %d", errLengthRange, n)
		return false
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(n))
	return true
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the latched error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Finish returns the assembled message, or the first error encountered.
func (w *Writer) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}
