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
	"bytes"
	"errors"
	"math/big"
	"testing"
)

// Tests that each writer primitive emits the exact wire bytes the format
// defines.
func TestWriterPrimitives(t *testing.T) {
	t.Parallel()

	tests := []struct {
		write func(w *Writer)
		want  []byte
	}{
		{func(w *Writer) { w.U8(0x80) }, []byte{0x80}},
		{func(w *Writer) { w.U16(0x0102) }, []byte{0x02, 0x01}},
		{func(w *Writer) { w.U32(1) }, []byte{0x01, 0x00, 0x00, 0x00}},
		{func(w *Writer) { w.U64(96) }, []byte{0x60, 0, 0, 0, 0, 0, 0, 0}},
		{func(w *Writer) { w.U128(big.NewInt(0)) }, make([]byte, 16)},
		{func(w *Writer) { w.U128(big.NewInt(257)) }, []byte{0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
		{func(w *Writer) { w.String("abc") }, []byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'}},
		{func(w *Writer) { w.String("") }, []byte{0x00, 0x00, 0x00, 0x00}},
		{func(w *Writer) { w.Bytes([]byte{0xde, 0xad}) }, []byte{0x02, 0x00, 0x00, 0x00, 0xde, 0xad}},
		{func(w *Writer) { w.Raw([]byte{0xff, 0xee}) }, []byte{0xff, 0xee}},
		{func(w *Writer) { w.VecLen(2) }, []byte{0x02, 0x00, 0x00, 0x00}},
		{func(w *Writer) { w.Option(false) }, []byte{0x00}},
		{func(w *Writer) { w.Option(true) }, []byte{0x01}},
	}
	for i, tt := range tests {
		w := NewWriter(0)
		tt.write(w)
		have, err := w.Finish()
		if err != nil {
			t.Errorf("test %d: unexpected error: %v", i, err)
			continue
		}
		if !bytes.Equal(have, tt.want) {
			t.Errorf("test %d: encoding mismatch: have %x, want %x", i, have, tt.want)
		}
	}
}

// Tests the u128 boundaries: the maximum value round-trips, anything wider or
// negative is rejected.
func TestWriterU128Range(t *testing.T) {
	t.Parallel()

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	w := NewWriter(16)
	w.U128(max)
	have, err := w.Finish()
	if err != nil {
		t.Fatalf("max u128 rejected: %v", err)
	}
	want := bytes.Repeat([]byte{0xff}, 16)
	if !bytes.Equal(have, want) {
		t.Errorf("max u128 mismatch: have %x, want %x", have, want)
	}

	over := new(big.Int).Add(max, big.NewInt(1))
	w = NewWriter(16)
	w.U128(over)
	if _, err := w.Finish(); !errors.Is(err, errBigIntRange) {
		t.Errorf("2^128 accepted: err = %v", err)
	}

	w = NewWriter(16)
	w.U128(big.NewInt(-1))
	if _, err := w.Finish(); !errors.Is(err, errNegativeBigInt) {
		t.Errorf("negative accepted: err = %v", err)
	}
}

// Tests that the first error latches and later writes are no-ops.
func TestWriterErrorLatches(t *testing.T) {
	t.Parallel()

	w := NewWriter(0)
	w.U8(0x01)
	w.U128(big.NewInt(-1))
	w.U8(0x02)
	w.String("ignored")
	if _, err := w.Finish(); err == nil {
		t.Fatal("latched error lost")
	}
	if w.Len() != 1 {
		t.Errorf("writes after error appended: len = %d, want 1", w.Len())
	}
}

func TestReaderRoundTrip(t *testing.T) {
	t.Parallel()

	amount, _ := new(big.Int).SetString("1250000000000000000000000", 10)
	w := NewWriter(64)
	w.U8(3)
	w.U32(397)
	w.U64(1 << 40)
	w.U128(amount)
	w.String("alice.near")
	w.Bytes([]byte{1, 2, 3})
	w.Option(true)
	w.String("cb")
	w.Option(false)
	w.VecLen(2)
	msg, err := w.Finish()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	r := NewReader(msg)
	if have := r.U8(); have != 3 {
		t.Errorf("u8 mismatch: have %d, want 3", have)
	}
	if have := r.U32(); have != 397 {
		t.Errorf("u32 mismatch: have %d, want 397", have)
	}
	if have := r.U64(); have != 1<<40 {
		t.Errorf("u64 mismatch: have %d, want %d", have, uint64(1)<<40)
	}
	if have := r.U128(); have.Cmp(amount) != 0 {
		t.Errorf("u128 mismatch: have %s, want %s", have, amount)
	}
	if have := r.String(); have != "alice.near" {
		t.Errorf("string mismatch: have %q, want %q", have, "alice.near")
	}
	if have := r.Bytes(); !bytes.Equal(have, []byte{1, 2, 3}) {
		t.Errorf("bytes mismatch: have %x", have)
	}
	if !r.Option() {
		t.Error("option mismatch: have absent, want present")
	}
	if have := r.String(); have != "cb" {
		t.Errorf("option value mismatch: have %q, want %q", have, "cb")
	}
	if r.Option() {
		t.Error("option mismatch: have present, want absent")
	}
	if have := r.VecLen(); have != 2 {
		t.Errorf("vec len mismatch: have %d, want 2", have)
	}
	if err := r.Done(); err != nil {
		t.Errorf("done: %v", err)
	}
}

func TestReaderErrors(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0x05, 0x00, 0x00, 0x00, 'a'})
	_ = r.String()
	if !errors.Is(r.Err(), ErrUnexpectedEOF) {
		t.Errorf("truncated string: err = %v, want ErrUnexpectedEOF", r.Err())
	}

	r = NewReader([]byte{0x02})
	r.Option()
	if !errors.Is(r.Err(), errBadOptionTag) {
		t.Errorf("option tag 0x02: err = %v, want errBadOptionTag", r.Err())
	}

	r = NewReader([]byte{0x01, 0x02})
	r.U8()
	if err := r.Done(); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("trailing byte: err = %v, want ErrTrailingBytes", err)
	}
}
