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

// This file contains the implementation for interacting with the NEAR app on
// Ledger hardware wallets. The wire protocol is implemented by the app in the
// Ledger GitHub repo: https://github.com/LedgerHQ/app-near

package usbwallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyfold/go-nearledger/accounts"
	"go.uber.org/zap"
)

// APDU instruction classes. The NEAR app answers claApp, the device OS
// answers claOS and claOpen regardless of which app is in the foreground.
const (
	claApp  = 0x80 // NEAR wallet app commands
	claOS   = 0xB0 // Device OS informational commands
	claOpen = 0xE0 // Device OS app launch command
)

// APDU instruction opcodes.
const (
	insSignTransaction  = 0x02 // Signs a serialized transaction after on-device review
	insGetPublicKey     = 0x04 // Returns the ed25519 public key on a derivation path
	insGetVersion       = 0x06 // Returns the NEAR app version triplet
	insSignMessage      = 0x07 // Signs an off-chain message payload after on-device review
	insGetAppAndVersion = 0x01 // Returns the name and version of the foreground app
	insQuitApp          = 0xA7 // Exits the foreground app back to the dashboard
	insOpenApp          = 0xD8 // Launches an installed app by name
)

// APDU parameter values.
const (
	p1Unused     = 0x00
	p1MoreChunks = 0x00 // Further payload chunks follow
	p1LastChunk  = 0x80 // Final payload chunk, device starts the review
	p2Unused     = 0x00
	p2NetworkID  = 0x57 // ASCII 'W', the network discriminator the NEAR app expects
)

// signChunkSize is the payload capacity of one signing APDU. The full message
// (derivation path plus body) is split into chunks of this size.
const signChunkSize = 250

// App names as reported by the device OS.
const (
	nearAppName   = "NEAR"
	dashboardName = "BOLOS"
)

// App launch polling. A launched app needs a moment before it starts
// answering APDUs, so OpenNEARApp rechecks the foreground app on a cycle
// until it settles or the attempt budget runs out.
const (
	appSettleCycle    = 250 * time.Millisecond
	appSettleAttempts = 20
)

// Reply shape failures, reported when the device answers with a success
// status but a payload the channel cannot interpret.
var (
	errInvalidVersionReply   = errors.New("version reply has wrong length")
	errInvalidAppReply       = errors.New("app identification reply is malformed")
	errInvalidKeyReply       = errors.New("public key reply has wrong length")
	errInvalidSignatureReply = errors.New("signature reply has wrong length")
)

// exchanger is the transport a Ledger channel drives: one APDU out, one reply
// in, status trailer already checked and stripped.
type exchanger interface {
	Exchange(cla, ins, p1, p2 byte, data []byte) ([]byte, error)
}

// AppVersion identifies the NEAR app build running on the device.
type AppVersion struct {
	Major uint8
	Minor uint8
	Patch uint8
}

func (v AppVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Ledger implements the NEAR app command set on top of an open device. All
// methods are blocking; commands that put the device into review mode return
// only after the user approves or declines on the device.
type Ledger struct {
	device *Device
	conn   exchanger
	log    *zap.Logger
}

// NewLedger wraps an open device into a NEAR app command channel.
func NewLedger(device *Device, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{device: device, conn: device, log: log}
}

// Path returns the bus path of the underlying device.
func (l *Ledger) Path() string { return l.device.Path() }

// Product returns the product string of the underlying device.
func (l *Ledger) Product() string { return l.device.Product() }

// OnDisconnect registers a callback fired once when the underlying device
// drops off the bus.
func (l *Ledger) OnDisconnect(fn func()) { l.device.OnDisconnect(fn) }

// Close releases the underlying device handle.
func (l *Ledger) Close() error { return l.device.Close() }

// Version retrieves the version of the NEAR app running on the device.
//
// The version retrieval protocol is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc | Le
//	----+-----+----+----+----+---
//	 80 | 06  | 00 | 00 | 00 | 03
//
// With no input data, and the output data being:
//
//	Description               | Length
//	--------------------------+--------
//	Application major version | 1 byte
//	Application minor version | 1 byte
//	Application patch version | 1 byte
//
// Besides its informational use, the command makes a cheap probe: it fails
// with ErrAppMissing when the NEAR app is not in the foreground, and its
// fixed-size reply flushes any half-read response a previous session left in
// the device's transport buffer.
func (l *Ledger) Version() (AppVersion, error) {
	reply, err := l.conn.Exchange(claApp, insGetVersion, p1Unused, p2Unused, nil)
	if err != nil {
		return AppVersion{}, err
	}
	if len(reply) != 3 {
		return AppVersion{}, errInvalidVersionReply
	}
	return AppVersion{Major: reply[0], Minor: reply[1], Patch: reply[2]}, nil
}

// AppAndVersion asks the device OS which app is in the foreground. It works
// from both the dashboard and a running app.
//
// The app identification protocol is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc | Le
//	----+-----+----+----+----+----
//	 B0 | 01  | 00 | 00 | 00 | var
//
// With no input data, and the output data being:
//
//	Description          | Length
//	---------------------+---------
//	Format identifier 01 | 1 byte
//	App name length      | 1 byte
//	App name             | variable
//	App version length   | 1 byte
//	App version          | variable
func (l *Ledger) AppAndVersion() (name string, version string, err error) {
	reply, err := l.conn.Exchange(claOS, insGetAppAndVersion, p1Unused, p2Unused, nil)
	if err != nil {
		return "", "", err
	}
	if len(reply) < 2 || reply[0] != 0x01 {
		return "", "", errInvalidAppReply
	}
	reply = reply[1:]

	nameLen := int(reply[0])
	if len(reply) < 1+nameLen+1 {
		return "", "", errInvalidAppReply
	}
	name = string(reply[1 : 1+nameLen])
	reply = reply[1+nameLen:]

	versLen := int(reply[0])
	if len(reply) < 1+versLen {
		return "", "", errInvalidAppReply
	}
	version = string(reply[1 : 1+versLen])
	return name, version, nil
}

// QuitApp exits the foreground app back to the dashboard. Quitting the
// dashboard itself is a no-op on the device side.
func (l *Ledger) QuitApp() error {
	_, err := l.conn.Exchange(claOS, insQuitApp, p1Unused, p2Unused, nil)
	return err
}

// OpenApp asks the device OS to launch the named app. The device shows a
// confirmation prompt; a refusal surfaces as ErrUserDeclinedOnDevice and a
// missing app as ErrAppMissing.
func (l *Ledger) OpenApp(name string) error {
	_, err := l.conn.Exchange(claOpen, insOpenApp, p1Unused, p2Unused, []byte(name))
	return err
}

// OpenNEARApp drives the device to a state where the NEAR app is in the
// foreground: it quits whatever other app is running, launches the NEAR app
// and waits for it to start answering. Already running means success without
// any device interaction. The context bounds the overall wait; launch
// approval still happens on the device.
func (l *Ledger) OpenNEARApp(ctx context.Context) error {
	name, version, err := l.AppAndVersion()
	if err != nil {
		return err
	}
	if name == nearAppName {
		return nil
	}
	if name != dashboardName {
		l.log.Debug("Quitting foreground app", zap.String("app", name), zap.String("version", version))
		if err := l.QuitApp(); err != nil {
			return err
		}
		if err := l.awaitApp(ctx, dashboardName); err != nil {
			return err
		}
	}
	l.log.Debug("Launching NEAR app")
	if err := l.OpenApp(nearAppName); err != nil {
		return err
	}
	return l.awaitApp(ctx, nearAppName)
}

// awaitApp polls the foreground app until the wanted one reports in. App
// switches leave the device mute for a moment, so identification failures
// count as not-yet rather than fatal; only a dropped device aborts the wait.
func (l *Ledger) awaitApp(ctx context.Context, want string) error {
	for attempt := 0; attempt < appSettleAttempts; attempt++ {
		name, _, err := l.AppAndVersion()
		if err == nil && name == want {
			return nil
		}
		if errors.Is(err, ErrDeviceNotConnected) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(appSettleCycle):
		}
	}
	return fmt.Errorf("%w: %s did not start", ErrAppMissing, want)
}

// PublicKey retrieves the ed25519 public key on the given derivation path.
// The device displays the key and waits for the user to confirm it.
//
// The key retrieval protocol is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc  | Le
//	----+-----+----+----+-----+---
//	 80 | 04  | 00 | 57 | var | 32
//
// Where the input is the BIP-32 derivation path (4 bytes per component, big
// endian, no count prefix) and the output is the raw key:
//
//	Description        | Length
//	-------------------+---------
//	ed25519 public key | 32 bytes
func (l *Ledger) PublicKey(path accounts.DerivationPath) (accounts.PublicKey, error) {
	reply, err := l.conn.Exchange(claApp, insGetPublicKey, p1Unused, p2NetworkID, path.Encode())
	if err != nil {
		return accounts.PublicKey{}, err
	}
	if len(reply) != 32 {
		return accounts.PublicKey{}, errInvalidKeyReply
	}
	pub := accounts.PublicKey{KeyType: accounts.ED25519}
	copy(pub.Data[:], reply)
	return pub, nil
}

// SignTransaction sends a serialized transaction to the device for review
// and returns the raw ed25519 signature over its SHA-256 digest. The call
// blocks until the user approves or declines on the device.
//
// The signing protocol is defined as follows, with the first chunk carrying
// P1 00 and the final chunk P1 80 (a single chunk is final):
//
//	CLA | INS | P1    | P2 | Lc  | Le
//	----+-----+-------+----+-----+---
//	 80 | 02  | 00/80 | 57 | var | 64
//
// Where the chunked input is the derivation path followed by the payload:
//
//	Description                                          | Length
//	-----------------------------------------------------+---------
//	BIP-32 derivation path (4 bytes/component, no count) | 20 bytes
//	Serialized transaction                               | variable
//
// And the output of the final chunk is the signature:
//
//	Description       | Length
//	------------------+---------
//	ed25519 signature | 64 bytes
func (l *Ledger) SignTransaction(path accounts.DerivationPath, tx []byte) ([]byte, error) {
	return l.sign(insSignTransaction, path, tx)
}

// SignMessage sends a serialized off-chain message payload to the device for
// review and returns the raw ed25519 signature over its tagged SHA-256
// digest. The wire format matches SignTransaction with INS 07.
func (l *Ledger) SignMessage(path accounts.DerivationPath, payload []byte) ([]byte, error) {
	return l.sign(insSignMessage, path, payload)
}

// sign runs one chunked signing exchange. A stale, half-drained reply in the
// device transport desynchronizes the chunk protocol, so a version probe is
// issued first to flush the buffer; it doubles as the app presence check.
func (l *Ledger) sign(ins byte, path accounts.DerivationPath, body []byte) ([]byte, error) {
	if _, err := l.Version(); err != nil {
		return nil, err
	}
	payload := append(path.Encode(), body...)

	var reply []byte
	for len(payload) > 0 {
		chunk := signChunkSize
		if chunk > len(payload) {
			chunk = len(payload)
		}
		p1 := byte(p1MoreChunks)
		if chunk == len(payload) {
			p1 = p1LastChunk
		}
		var err error
		reply, err = l.conn.Exchange(claApp, ins, p1, p2NetworkID, payload[:chunk])
		if err != nil {
			return nil, err
		}
		payload = payload[chunk:]
	}
	if len(reply) != 64 {
		return nil, errInvalidSignatureReply
	}
	return reply, nil
}
