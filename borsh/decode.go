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

package borsh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrUnexpectedEOF is returned when a message ends before the schema does.
	ErrUnexpectedEOF = errors.New("borsh: unexpected end of input")
	// ErrTrailingBytes is returned by Done when input remains after the schema.
	ErrTrailingBytes = errors.New("borsh: trailing bytes after message")

	errBadOptionTag = errors.New("borsh: invalid option tag")
)

// Reader consumes a Borsh message field by field, mirroring Writer. Read
// methods return zero values once an error has latched; callers check Err or
// Done after walking the schema.
type Reader struct {
	rest []byte
	err  error
}

// NewReader creates a reader over the given message bytes.
func NewReader(data []byte) *Reader {
	return &Reader{rest: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.rest) < n {
		r.err = fmt.Errorf("%w: need %d bytes, have %d", ErrUnexpectedEOF, n, len(r.rest))
		return nil
	}
	b := r.rest[:n]
	r.rest = r.rest[n:]
	return b
}

// U8 consumes a single byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 consumes a little-endian u16.
func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 consumes a little-endian u32.
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 consumes a little-endian u64.
func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// U128 consumes a little-endian u128 into a big integer.
func (r *Reader) U128() *big.Int {
	b := r.take(16)
	if b == nil {
		return new(big.Int)
	}
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[15-i] = b[i]
	}
	return new(big.Int).SetBytes(be[:])
}

// String consumes a u32 length prefix and that many string bytes.
func (r *Reader) String() string {
	n := r.U32()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// Bytes consumes a u32 length prefix and that many raw bytes (Vec<u8>).
// The returned slice is a copy.
func (r *Reader) Bytes() []byte {
	n := r.U32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Raw consumes exactly n bytes with no prefix. The returned slice is a copy.
func (r *Reader) Raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// VecLen consumes the u32 element count preceding a sequence.
func (r *Reader) VecLen() int {
	return int(r.U32())
}

// Option consumes a presence tag. Tags other than 0x00 and 0x01 are invalid.
func (r *Reader) Option() bool {
	b := r.take(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		r.err = fmt.Errorf("%w: 0x%02x", errBadOptionTag, b[0])
		return false
	}
}

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int {
	return len(r.rest)
}

// Err returns the latched error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Done verifies the schema walk consumed the entire message.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.rest) != 0 {
		return fmt.Errorf("%w: %d left", ErrTrailingBytes, len(r.rest))
	}
	return nil
}
