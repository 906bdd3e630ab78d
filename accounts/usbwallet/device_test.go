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

package usbwallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap"
)

// fakeRawDevice records written reports and serves queued reads, standing in
// for an open HID handle.
type fakeRawDevice struct {
	written  [][]byte
	reads    [][]byte
	writeErr error
	readErr  error
	closed   bool
}

func (f *fakeRawDevice) Write(b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	report := make([]byte, len(b))
	copy(report, b)
	f.written = append(f.written, report)
	return len(b), nil
}

func (f *fakeRawDevice) Read(b []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.reads) == 0 {
		return 0, io.EOF
	}
	n := copy(b, f.reads[0])
	f.reads = f.reads[1:]
	return n, nil
}

func (f *fakeRawDevice) Close() error {
	f.closed = true
	return nil
}

// frameReply splits a reply (payload plus status word) into the 64 byte
// transport reports a device would answer with.
func frameReply(reply []byte) [][]byte {
	var (
		reports [][]byte
		seq     uint16
		first   = true
	)
	for first || len(reply) > 0 {
		report := make([]byte, 64)
		report[0], report[1], report[2] = 0x01, 0x01, 0x05
		binary.BigEndian.PutUint16(report[3:], seq)

		var n int
		if first {
			binary.BigEndian.PutUint16(report[5:], uint16(len(reply)))
			n = copy(report[7:], reply)
			first = false
		} else {
			n = copy(report[5:], reply)
		}
		reply = reply[n:]
		reports = append(reports, report)
		seq++
	}
	return reports
}

// okReply appends the success status word to a payload and frames it.
func okReply(payload []byte) [][]byte {
	return frameReply(append(append([]byte{}, payload...), 0x90, 0x00))
}

func newTestDevice(reads [][]byte) (*Device, *fakeRawDevice) {
	fake := &fakeRawDevice{reads: reads}
	return newDevice(nil, "usb-test-path", "Nano Test", fake, zap.NewNop()), fake
}

func TestDeviceExchangeFraming(t *testing.T) {
	t.Parallel()

	device, fake := newTestDevice(okReply([]byte{1, 2, 3}))

	reply, err := device.Exchange(0x80, 0x06, 0x00, 0x00, nil)
	if err != nil {
		t.Fatalf("failed to exchange: %v", err)
	}
	if !bytes.Equal(reply, []byte{1, 2, 3}) {
		t.Errorf("reply mismatch: have %x, want 010203", reply)
	}
	// A dataless command fits one report: transport header, APDU length and
	// the five byte APDU, zero padded to the report size.
	want := make([]byte, 64)
	copy(want, []byte{0x01, 0x01, 0x05, 0x00, 0x00, 0x00, 0x05, 0x80, 0x06, 0x00, 0x00, 0x00})

	if len(fake.written) != 1 {
		t.Fatalf("report count mismatch: have %d, want 1", len(fake.written))
	}
	if !bytes.Equal(fake.written[0], want) {
		t.Errorf("report mismatch:\nhave %x\nwant %x", fake.written[0], want)
	}
}

func TestDeviceExchangeChunkedCommand(t *testing.T) {
	t.Parallel()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	device, fake := newTestDevice(okReply(nil))

	if _, err := device.Exchange(0x80, 0x02, 0x00, 0x57, data); err != nil {
		t.Fatalf("failed to exchange: %v", err)
	}
	// 107 bytes of APDU split across two reports with increasing sequence
	// numbers, 59 payload bytes in the first and the rest in the second
	if len(fake.written) != 2 {
		t.Fatalf("report count mismatch: have %d, want 2", len(fake.written))
	}
	var sent []byte
	for i, report := range fake.written {
		if len(report) != 64 {
			t.Fatalf("report %d size mismatch: have %d, want 64", i, len(report))
		}
		header := []byte{0x01, 0x01, 0x05, 0x00, byte(i)}
		if !bytes.Equal(report[:5], header) {
			t.Fatalf("report %d header mismatch: have %x, want %x", i, report[:5], header)
		}
		sent = append(sent, report[5:]...)
	}
	apdu := []byte{0x00, 0x69, 0x80, 0x02, 0x00, 0x57, 0x64}
	apdu = append(apdu, data...)

	if !bytes.Equal(sent[:len(apdu)], apdu) {
		t.Errorf("apdu mismatch:\nhave %x\nwant %x", sent[:len(apdu)], apdu)
	}
	for _, b := range sent[len(apdu):] {
		if b != 0 {
			t.Errorf("apdu padding not zeroed: %x", sent[len(apdu):])
			break
		}
	}
}

func TestDeviceExchangeChunkedReply(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(0xff - i)
	}
	device, _ := newTestDevice(okReply(payload))

	reply, err := device.Exchange(0x80, 0x04, 0x00, 0x57, nil)
	if err != nil {
		t.Fatalf("failed to exchange: %v", err)
	}
	if !bytes.Equal(reply, payload) {
		t.Errorf("reply mismatch:\nhave %x\nwant %x", reply, payload)
	}
}

func TestDeviceExchangeStatusError(t *testing.T) {
	t.Parallel()

	device, _ := newTestDevice(frameReply([]byte{0x69, 0x85}))

	_, err := device.Exchange(0x80, 0x02, 0x80, 0x57, []byte{0x01})
	if !errors.Is(err, ErrUserDeclinedOnDevice) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrUserDeclinedOnDevice)
	}
	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("error %v is not a status error", err)
	}
	if status.SW != 0x6985 {
		t.Errorf("status word mismatch: have %#x, want 0x6985", status.SW)
	}
	// Status failures are app-level answers, the device stays connected
	if device.isClosed() {
		t.Error("device closed after status error")
	}
}

func TestDeviceExchangeShortReply(t *testing.T) {
	t.Parallel()

	device, _ := newTestDevice(frameReply([]byte{0x90}))

	if _, err := device.Exchange(0x80, 0x06, 0x00, 0x00, nil); !errors.Is(err, errReplyTooShort) {
		t.Fatalf("error mismatch: have %v, want %v", err, errReplyTooShort)
	}
}

func TestDeviceExchangeBadReplyHeader(t *testing.T) {
	t.Parallel()

	reports := frameReply([]byte{0x90, 0x00})
	reports[0][0] = 0x02
	device, _ := newTestDevice(reports)

	// Transport garbage is indistinguishable from a yanked cable, the
	// connection goes down with it
	_, err := device.Exchange(0x80, 0x06, 0x00, 0x00, nil)
	if !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrDeviceNotConnected)
	}
	if !device.isClosed() {
		t.Error("device not closed after transport failure")
	}
}

func TestDeviceExchangeOversizeData(t *testing.T) {
	t.Parallel()

	device, fake := newTestDevice(nil)

	if _, err := device.Exchange(0x80, 0x02, 0x00, 0x57, make([]byte, 256)); err == nil {
		t.Fatal("oversize data accepted")
	}
	if len(fake.written) != 0 {
		t.Errorf("oversize data hit the wire: %d reports", len(fake.written))
	}
}

func TestDeviceDisconnectCallback(t *testing.T) {
	t.Parallel()

	device, fake := newTestDevice(nil)
	fake.readErr = io.ErrUnexpectedEOF

	fired := 0
	device.OnDisconnect(func() { fired++ })

	if _, err := device.Exchange(0x80, 0x06, 0x00, 0x00, nil); !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrDeviceNotConnected)
	}
	if fired != 1 {
		t.Fatalf("callback count mismatch: have %d, want 1", fired)
	}
	if !fake.closed {
		t.Error("handle not closed on disconnect")
	}
	// Later exchanges fail fast without re-firing the callback
	if _, err := device.Exchange(0x80, 0x06, 0x00, 0x00, nil); !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrDeviceNotConnected)
	}
	if fired != 1 {
		t.Errorf("callback count mismatch: have %d, want 1", fired)
	}
}

func TestDeviceCloseSilent(t *testing.T) {
	t.Parallel()

	device, fake := newTestDevice(nil)

	fired := 0
	device.OnDisconnect(func() { fired++ })

	if err := device.Close(); err != nil {
		t.Fatalf("failed to close device: %v", err)
	}
	if fired != 0 {
		t.Errorf("close fired the disconnect callback %d times", fired)
	}
	if !fake.closed {
		t.Error("handle not closed")
	}
	if _, err := device.Exchange(0x80, 0x06, 0x00, 0x00, nil); !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrDeviceNotConnected)
	}
}
