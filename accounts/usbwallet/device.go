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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// monitorCycle sets the frequency with which to check whether an idle device
// is still attached to the bus.
const monitorCycle = time.Second

// rawDevice is the open HID handle. Hidden behind an interface so tests can
// exchange reports with a scripted endpoint.
type rawDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Device is an open connection to one hardware wallet. All APDU exchanges go
// through it, one command in flight at a time.
type Device struct {
	path    string
	product string
	hub     *Hub
	log     *zap.Logger

	device rawDevice // Open HID handle, nil after disconnect

	// commsLock serializes raw device exchanges. The device firmware accepts
	// a single in-flight command; interleaving a second one corrupts the
	// chunk reassembly buffers on both sides.
	commsLock chan struct{}

	stateLock    sync.RWMutex // Protects the handle, flags and callback
	closed       bool
	onDisconnect func()

	quit chan chan error
}

func newDevice(hub *Hub, path, product string, handle rawDevice, log *zap.Logger) *Device {
	d := &Device{
		path:      path,
		product:   product,
		hub:       hub,
		log:       log,
		device:    handle,
		commsLock: make(chan struct{}, 1),
	}
	d.commsLock <- struct{}{}
	return d
}

// start launches the attachment monitor. Only hub-created devices run one;
// tests drive exchanges directly.
func (d *Device) start() {
	d.quit = make(chan chan error)
	go d.monitor()
}

// Path returns the platform specific bus path of the device, stable for the
// duration of the attachment. Hosts persist it to reconnect silently.
func (d *Device) Path() string { return d.path }

// Product returns the product string reported during enumeration.
func (d *Device) Product() string { return d.product }

// OnDisconnect registers a callback fired exactly once when the device drops
// off the bus or an exchange fails mid flight. It is not fired by Close.
func (d *Device) OnDisconnect(fn func()) {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()
	d.onDisconnect = fn
}

// Exchange sends one APDU command to the device and returns the reply
// payload with the status trailer stripped. Non-success status words return
// a *StatusError; transport failures mark the device disconnected.
func (d *Device) Exchange(cla, ins, p1, p2 byte, data []byte) ([]byte, error) {
	if len(data) > 255 {
		return nil, fmt.Errorf("APDU data overflows the length byte: %d bytes", len(data))
	}
	// Serialize the exchanges, the device handles one command at a time
	<-d.commsLock
	defer func() { d.commsLock <- struct{}{} }()

	d.stateLock.RLock()
	device := d.device
	d.stateLock.RUnlock()
	if device == nil {
		return nil, ErrDeviceNotConnected
	}
	// Keep bus enumeration away while the command may sit on user approval
	if d.hub != nil {
		d.hub.enterComms()
		defer d.hub.leaveComms()
	}
	reply, err := d.exchange(device, cla, ins, p1, p2, data)
	if err != nil {
		d.markDisconnected()
		return nil, fmt.Errorf("%w: %v", ErrDeviceNotConnected, err)
	}
	if len(reply) < 2 {
		return nil, errReplyTooShort
	}
	sw := binary.BigEndian.Uint16(reply[len(reply)-2:])
	if sw != swOK {
		return nil, &StatusError{SW: sw}
	}
	return reply[:len(reply)-2], nil
}

// exchange performs a data exchange with the device, sending it a message and
// retrieving the response including the status word.
//
// The common transport header is defined as follows:
//
//	Description                           | Length
//	--------------------------------------+----------
//	Communication channel ID (big endian) | 2 bytes
//	Command tag                           | 1 byte
//	Packet sequence index (big endian)    | 2 bytes
//	Payload                               | arbitrary
//
// The Communication channel ID allows commands multiplexing over the same
// physical link. It is not used for the time being, and should be set to 0101
// to avoid compatibility issues with implementations ignoring a leading 00 byte.
//
// The Command tag describes the message content. Use TAG_APDU (0x05) for
// standard APDU payloads, or TAG_PING (0x02) for a simple link test.
//
// The Packet sequence index describes the current sequence for fragmented
// payloads. The first fragment index is 0x00.
//
// APDU Command payloads are encoded as follows:
//
//	Description              | Length
//	-----------------------------------
//	APDU length (big endian) | 2 bytes
//	APDU CLA                 | 1 byte
//	APDU INS                 | 1 byte
//	APDU P1                  | 1 byte
//	APDU P2                  | 1 byte
//	APDU length              | 1 byte
//	Optional APDU data       | arbitrary
func (d *Device) exchange(device rawDevice, cla, ins, p1, p2 byte, data []byte) ([]byte, error) {
	// Construct the message payload, possibly split into multiple chunks
	apdu := make([]byte, 2, 7+len(data))

	binary.BigEndian.PutUint16(apdu, uint16(5+len(data)))
	apdu = append(apdu, []byte{cla, ins, p1, p2, byte(len(data))}...)
	apdu = append(apdu, data...)

	// Stream all the chunks to the device
	header := []byte{0x01, 0x01, 0x05, 0x00, 0x00} // Channel ID and command tag appended
	chunk := make([]byte, 64)
	space := len(chunk) - len(header)

	for i := 0; len(apdu) > 0; i++ {
		// Construct the new message to stream
		chunk = append(chunk[:0], header...)
		binary.BigEndian.PutUint16(chunk[3:], uint16(i))

		if len(apdu) > space {
			chunk = append(chunk, apdu[:space]...)
			apdu = apdu[space:]
		} else {
			chunk = append(chunk, apdu...)
			apdu = nil
		}
		// Pad with zeroes to the full report size
		for len(chunk) < 64 {
			chunk = append(chunk, 0)
		}
		// Send over to the device
		d.log.Debug("Data chunk sent to the device", zap.String("chunk", hex.EncodeToString(chunk)))
		if _, err := device.Write(chunk); err != nil {
			return nil, err
		}
	}
	// Stream the reply back from the device in 64 byte chunks
	var reply []byte
	chunk = chunk[:64] // Yeah, we surely have enough space
	for {
		// Read the next chunk from the device
		if _, err := io.ReadFull(device, chunk); err != nil {
			return nil, err
		}
		d.log.Debug("Data chunk received from the device", zap.String("chunk", hex.EncodeToString(chunk)))

		// Make sure the transport header matches
		if chunk[0] != 0x01 || chunk[1] != 0x01 || chunk[2] != 0x05 {
			return nil, errReplyInvalidHeader
		}
		// If it's the first chunk, retrieve the total message length
		var payload []byte

		if chunk[3] == 0x00 && chunk[4] == 0x00 {
			reply = make([]byte, 0, int(binary.BigEndian.Uint16(chunk[5:7])))
			payload = chunk[7:]
		} else {
			payload = chunk[5:]
		}
		// Append to the reply and stop when filled up
		if left := cap(reply) - len(reply); left > len(payload) {
			reply = append(reply, payload...)
		} else {
			reply = append(reply, payload[:left]...)
			break
		}
	}
	return reply, nil
}

// markDisconnected tears the connection down and fires the disconnect
// callback. Safe to call multiple times, only the first takes effect.
func (d *Device) markDisconnected() {
	d.stateLock.Lock()
	if d.closed {
		d.stateLock.Unlock()
		return
	}
	d.closed = true
	device := d.device
	d.device = nil
	callback := d.onDisconnect
	d.onDisconnect = nil
	d.stateLock.Unlock()

	d.log.Warn("Device disconnected", zap.String("path", d.path))
	if device != nil {
		device.Close()
	}
	if callback != nil {
		callback()
	}
}

// isClosed reports whether the connection has been torn down.
func (d *Device) isClosed() bool {
	d.stateLock.RLock()
	defer d.stateLock.RUnlock()
	return d.closed
}

// monitor polls the bus and tears the connection down when the device
// disappears. On failure it lingers until Close collects the verdict.
func (d *Device) monitor() {
	quit := d.quit

	var (
		errc chan error
		err  error
	)
	for errc == nil && err == nil {
		select {
		case errc = <-quit:
			// Termination requested
		case <-time.After(monitorCycle):
			if d.isClosed() || (d.hub != nil && !d.hub.alive(d.path)) {
				err = ErrDeviceNotConnected
			}
		}
	}
	if err != nil {
		d.markDisconnected()
		errc = <-quit
	}
	errc <- err
}

// Close releases the device handle and stops the monitor. Unlike a
// disconnect it does not fire the OnDisconnect callback.
func (d *Device) Close() error {
	// Collect the monitor first so it does not race the teardown
	d.stateLock.Lock()
	quit := d.quit
	d.quit = nil
	d.onDisconnect = nil
	d.stateLock.Unlock()

	if quit != nil {
		errc := make(chan error)
		quit <- errc
		<-errc
	}
	d.stateLock.Lock()
	device := d.device
	d.device = nil
	d.closed = true
	d.stateLock.Unlock()

	if device != nil {
		return device.Close()
	}
	return nil
}
