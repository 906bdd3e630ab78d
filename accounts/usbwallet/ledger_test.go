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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/keyfold/go-nearledger/accounts"
	"go.uber.org/zap"
)

// apduStep scripts one expected exchange and its canned outcome. A nil data
// field skips the payload check.
type apduStep struct {
	cla, ins, p1, p2 byte
	data             []byte
	reply            []byte
	err              error
}

// scriptedAPDU replays a fixed exchange sequence, failing the test on any
// deviation from the script.
type scriptedAPDU struct {
	t     *testing.T
	steps []apduStep
	calls int
}

func (s *scriptedAPDU) Exchange(cla, ins, p1, p2 byte, data []byte) ([]byte, error) {
	s.t.Helper()
	if s.calls >= len(s.steps) {
		s.t.Fatalf("unexpected exchange %d: cla %#x, ins %#x", s.calls, cla, ins)
	}
	step := s.steps[s.calls]
	s.calls++

	if cla != step.cla || ins != step.ins || p1 != step.p1 || p2 != step.p2 {
		s.t.Fatalf("exchange %d header mismatch: have %#x/%#x/%#x/%#x, want %#x/%#x/%#x/%#x",
			s.calls-1, cla, ins, p1, p2, step.cla, step.ins, step.p1, step.p2)
	}
	if step.data != nil && !bytes.Equal(data, step.data) {
		s.t.Fatalf("exchange %d data mismatch: have %x, want %x", s.calls-1, data, step.data)
	}
	return step.reply, step.err
}

// drained errors the test if scripted exchanges were left unconsumed.
func (s *scriptedAPDU) drained() {
	s.t.Helper()
	if s.calls != len(s.steps) {
		s.t.Errorf("exchange count mismatch: have %d, want %d", s.calls, len(s.steps))
	}
}

func newTestLedger(t *testing.T, steps ...apduStep) (*Ledger, *scriptedAPDU) {
	conn := &scriptedAPDU{t: t, steps: steps}
	return &Ledger{conn: conn, log: zap.NewNop()}, conn
}

// appReply assembles a foreground app identification reply.
func appReply(name, version string) []byte {
	reply := []byte{0x01, byte(len(name))}
	reply = append(reply, name...)
	reply = append(reply, byte(len(version)))
	return append(reply, version...)
}

func TestLedgerVersion(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t, apduStep{
		cla: claApp, ins: insGetVersion, reply: []byte{1, 2, 3},
	})
	version, err := ledger.Version()
	if err != nil {
		t.Fatalf("failed to retrieve version: %v", err)
	}
	if have, want := version, (AppVersion{Major: 1, Minor: 2, Patch: 3}); have != want {
		t.Errorf("version mismatch: have %v, want %v", have, want)
	}
	if have, want := version.String(), "1.2.3"; have != want {
		t.Errorf("version string mismatch: have %q, want %q", have, want)
	}
	conn.drained()
}

func TestLedgerVersionInvalidReply(t *testing.T) {
	t.Parallel()

	for _, reply := range [][]byte{nil, {1, 2}, {1, 2, 3, 4}} {
		ledger, _ := newTestLedger(t, apduStep{
			cla: claApp, ins: insGetVersion, reply: reply,
		})
		if _, err := ledger.Version(); !errors.Is(err, errInvalidVersionReply) {
			t.Errorf("reply %x: error mismatch: have %v, want %v", reply, err, errInvalidVersionReply)
		}
	}
}

func TestLedgerAppAndVersion(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t, apduStep{
		cla: claOS, ins: insGetAppAndVersion, reply: appReply("NEAR", "2.3.1"),
	})
	name, version, err := ledger.AppAndVersion()
	if err != nil {
		t.Fatalf("failed to identify app: %v", err)
	}
	if name != "NEAR" || version != "2.3.1" {
		t.Errorf("identification mismatch: have %q/%q, want %q/%q", name, version, "NEAR", "2.3.1")
	}
	conn.drained()
}

func TestLedgerAppAndVersionMalformed(t *testing.T) {
	t.Parallel()

	tests := [][]byte{
		nil,    // Empty reply
		{0x01}, // Name length missing
		{0x02, 0x04, 'N', 'E', 'A', 'R', 0x03, '1', '.', '0'}, // Unknown format
		{0x01, 0x05, 'N', 'E', 'A', 'R'},                      // Name truncated
		{0x01, 0x04, 'N', 'E', 'A', 'R'},                      // Version length missing
		{0x01, 0x04, 'N', 'E', 'A', 'R', 0x03, '1', '.'},      // Version truncated
	}
	for _, reply := range tests {
		ledger, _ := newTestLedger(t, apduStep{
			cla: claOS, ins: insGetAppAndVersion, reply: reply,
		})
		if _, _, err := ledger.AppAndVersion(); !errors.Is(err, errInvalidAppReply) {
			t.Errorf("reply %x: error mismatch: have %v, want %v", reply, err, errInvalidAppReply)
		}
	}
}

func TestOpenNEARAppAlreadyForeground(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t, apduStep{
		cla: claOS, ins: insGetAppAndVersion, reply: appReply("NEAR", "2.3.1"),
	})
	if err := ledger.OpenNEARApp(context.Background()); err != nil {
		t.Fatalf("failed to settle on running app: %v", err)
	}
	conn.drained()
}

func TestOpenNEARAppFromDashboard(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t,
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("BOLOS", "1.6.0")},
		apduStep{cla: claOpen, ins: insOpenApp, data: []byte("NEAR")},
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("NEAR", "2.3.1")},
	)
	if err := ledger.OpenNEARApp(context.Background()); err != nil {
		t.Fatalf("failed to launch app: %v", err)
	}
	conn.drained()
}

func TestOpenNEARAppSwitchesForegroundApp(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t,
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("Bitcoin", "2.1.0")},
		apduStep{cla: claOS, ins: insQuitApp},
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("BOLOS", "1.6.0")},
		apduStep{cla: claOpen, ins: insOpenApp, data: []byte("NEAR")},
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("NEAR", "2.3.1")},
	)
	if err := ledger.OpenNEARApp(context.Background()); err != nil {
		t.Fatalf("failed to switch apps: %v", err)
	}
	conn.drained()
}

func TestOpenNEARAppLaunchDeclined(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t,
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("BOLOS", "1.6.0")},
		apduStep{cla: claOpen, ins: insOpenApp, err: &StatusError{SW: swUserRefusedOpenApp}},
	)
	err := ledger.OpenNEARApp(context.Background())
	if !errors.Is(err, ErrUserDeclinedOnDevice) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrUserDeclinedOnDevice)
	}
	conn.drained()
}

func TestOpenNEARAppUnplugMidSwitch(t *testing.T) {
	t.Parallel()

	unplugged := fmt.Errorf("%w: hidapi: device closed", ErrDeviceNotConnected)
	ledger, conn := newTestLedger(t,
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("Bitcoin", "2.1.0")},
		apduStep{cla: claOS, ins: insQuitApp},
		apduStep{cla: claOS, ins: insGetAppAndVersion, err: unplugged},
	)
	err := ledger.OpenNEARApp(context.Background())
	if !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrDeviceNotConnected)
	}
	conn.drained()
}

func TestOpenNEARAppCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The launched app never settles, the cancelled context must end the wait
	// on the first poll instead of draining the attempt budget.
	ledger, conn := newTestLedger(t,
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("BOLOS", "1.6.0")},
		apduStep{cla: claOpen, ins: insOpenApp, data: []byte("NEAR")},
		apduStep{cla: claOS, ins: insGetAppAndVersion, reply: appReply("BOLOS", "1.6.0")},
	)
	if err := ledger.OpenNEARApp(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error mismatch: have %v, want %v", err, context.Canceled)
	}
	conn.drained()
}

func TestLedgerPublicKey(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0xab}, 32)
	ledger, conn := newTestLedger(t, apduStep{
		cla: claApp, ins: insGetPublicKey, p2: p2NetworkID,
		data:  accounts.DefaultDerivationPath.Encode(),
		reply: key,
	})
	pub, err := ledger.PublicKey(accounts.DefaultDerivationPath)
	if err != nil {
		t.Fatalf("failed to retrieve public key: %v", err)
	}
	if pub.KeyType != accounts.ED25519 {
		t.Errorf("key type mismatch: have %d, want %d", pub.KeyType, accounts.ED25519)
	}
	if !bytes.Equal(pub.Data[:], key) {
		t.Errorf("key mismatch: have %x, want %x", pub.Data, key)
	}
	conn.drained()
}

func TestLedgerPublicKeyInvalidReply(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, apduStep{
		cla: claApp, ins: insGetPublicKey, p2: p2NetworkID,
		reply: bytes.Repeat([]byte{0xab}, 31),
	})
	if _, err := ledger.PublicKey(accounts.DefaultDerivationPath); !errors.Is(err, errInvalidKeyReply) {
		t.Fatalf("error mismatch: have %v, want %v", err, errInvalidKeyReply)
	}
}

func TestLedgerSignTransactionChunks(t *testing.T) {
	t.Parallel()

	// A 500 byte transaction plus the 20 byte path splits into 250/250/20,
	// with only the final chunk flagged as last.
	body := make([]byte, 500)
	for i := range body {
		body[i] = byte(i)
	}
	payload := append(accounts.DefaultDerivationPath.Encode(), body...)
	signature := bytes.Repeat([]byte{0xcd}, 64)

	ledger, conn := newTestLedger(t,
		apduStep{cla: claApp, ins: insGetVersion, reply: []byte{2, 3, 1}},
		apduStep{cla: claApp, ins: insSignTransaction, p1: p1MoreChunks, p2: p2NetworkID, data: payload[:250]},
		apduStep{cla: claApp, ins: insSignTransaction, p1: p1MoreChunks, p2: p2NetworkID, data: payload[250:500]},
		apduStep{cla: claApp, ins: insSignTransaction, p1: p1LastChunk, p2: p2NetworkID, data: payload[500:], reply: signature},
	)
	sig, err := ledger.SignTransaction(accounts.DefaultDerivationPath, body)
	if err != nil {
		t.Fatalf("failed to sign transaction: %v", err)
	}
	if !bytes.Equal(sig, signature) {
		t.Errorf("signature mismatch: have %x, want %x", sig, signature)
	}
	conn.drained()
}

func TestLedgerSignChunkCounts(t *testing.T) {
	t.Parallel()

	pathLen := len(accounts.DefaultDerivationPath.Encode())
	tests := []struct {
		bodyLen int
		chunks  int
	}{
		{bodyLen: 1, chunks: 1},
		{bodyLen: signChunkSize - pathLen, chunks: 1},     // Exactly one full chunk
		{bodyLen: signChunkSize - pathLen + 1, chunks: 2}, // One byte spills over
		{bodyLen: 2*signChunkSize - pathLen, chunks: 2},
		{bodyLen: 2*signChunkSize - pathLen + 1, chunks: 3},
	}
	for _, tt := range tests {
		steps := []apduStep{{cla: claApp, ins: insGetVersion, reply: []byte{2, 3, 1}}}
		for i := 0; i < tt.chunks; i++ {
			step := apduStep{cla: claApp, ins: insSignTransaction, p1: p1MoreChunks, p2: p2NetworkID}
			if i == tt.chunks-1 {
				step.p1 = p1LastChunk
				step.reply = make([]byte, 64)
			}
			steps = append(steps, step)
		}
		ledger, conn := newTestLedger(t, steps...)
		if _, err := ledger.SignTransaction(accounts.DefaultDerivationPath, make([]byte, tt.bodyLen)); err != nil {
			t.Fatalf("body %d: failed to sign: %v", tt.bodyLen, err)
		}
		conn.drained()
	}
}

func TestLedgerSignMessageOpcode(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t,
		apduStep{cla: claApp, ins: insGetVersion, reply: []byte{2, 3, 1}},
		apduStep{cla: claApp, ins: insSignMessage, p1: p1LastChunk, p2: p2NetworkID, reply: make([]byte, 64)},
	)
	if _, err := ledger.SignMessage(accounts.DefaultDerivationPath, []byte("hello")); err != nil {
		t.Fatalf("failed to sign message: %v", err)
	}
	conn.drained()
}

func TestLedgerSignDeclined(t *testing.T) {
	t.Parallel()

	ledger, conn := newTestLedger(t,
		apduStep{cla: claApp, ins: insGetVersion, reply: []byte{2, 3, 1}},
		apduStep{cla: claApp, ins: insSignTransaction, p1: p1LastChunk, p2: p2NetworkID, err: &StatusError{SW: swTransactionRejected}},
	)
	_, err := ledger.SignTransaction(accounts.DefaultDerivationPath, []byte{0x01})
	if !errors.Is(err, ErrUserDeclinedOnDevice) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrUserDeclinedOnDevice)
	}
	conn.drained()
}

func TestLedgerSignAppMissing(t *testing.T) {
	t.Parallel()

	// The version probe preceding the payload upload catches a missing app
	// before any transaction bytes hit the wire.
	ledger, conn := newTestLedger(t, apduStep{
		cla: claApp, ins: insGetVersion, err: &StatusError{SW: swClaNotSupported},
	})
	_, err := ledger.SignTransaction(accounts.DefaultDerivationPath, []byte{0x01})
	if !errors.Is(err, ErrAppMissing) {
		t.Fatalf("error mismatch: have %v, want %v", err, ErrAppMissing)
	}
	conn.drained()
}

func TestLedgerSignInvalidReply(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t,
		apduStep{cla: claApp, ins: insGetVersion, reply: []byte{2, 3, 1}},
		apduStep{cla: claApp, ins: insSignTransaction, p1: p1LastChunk, p2: p2NetworkID, reply: make([]byte, 32)},
	)
	if _, err := ledger.SignTransaction(accounts.DefaultDerivationPath, []byte{0x01}); !errors.Is(err, errInvalidSignatureReply) {
		t.Fatalf("error mismatch: have %v, want %v", err, errInvalidSignatureReply)
	}
}
