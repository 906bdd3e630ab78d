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

package nep413

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"testing"
)

// Tests the serialized layout: 4 byte message length, message bytes, 32 byte
// nonce, 4 byte recipient length, recipient bytes, one option tag byte that is
// zero without a callback.
func TestPayloadLayout(t *testing.T) {
	t.Parallel()

	p := &Payload{Message: "hello", Recipient: "app.example.com"}
	for i := range p.Nonce {
		p.Nonce[i] = byte(i)
	}
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("failed to serialize payload: %v", err)
	}
	wantLen := 4 + len(p.Message) + 32 + 4 + len(p.Recipient) + 1
	if len(data) != wantLen {
		t.Fatalf("length mismatch: have %d, want %d", len(data), wantLen)
	}
	if have := binary.LittleEndian.Uint32(data); have != uint32(len(p.Message)) {
		t.Errorf("message length mismatch: have %d, want %d", have, len(p.Message))
	}
	if have := string(data[4 : 4+len(p.Message)]); have != p.Message {
		t.Errorf("message mismatch: have %q", have)
	}
	nonceStart := 4 + len(p.Message)
	if !bytes.Equal(data[nonceStart:nonceStart+32], p.Nonce[:]) {
		t.Error("nonce bytes mismatch")
	}
	if data[len(data)-1] != 0 {
		t.Errorf("callback tag mismatch: have 0x%02x, want 0x00", data[len(data)-1])
	}
}

func TestPayloadCallback(t *testing.T) {
	t.Parallel()

	cb := "https://app.example.com/auth"
	p := &Payload{Message: "m", Recipient: "r", CallbackURL: &cb}
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("failed to serialize payload: %v", err)
	}
	wantLen := 4 + 1 + 32 + 4 + 1 + 1 + 4 + len(cb)
	if len(data) != wantLen {
		t.Fatalf("length mismatch: have %d, want %d", len(data), wantLen)
	}
	tagAt := 4 + 1 + 32 + 4 + 1
	if data[tagAt] != 1 {
		t.Errorf("callback tag mismatch: have 0x%02x, want 0x01", data[tagAt])
	}
}

// Tests that the signing digest covers the 2^31+413 prefix and verifies
// against a local ed25519 key, the same construction the device applies.
func TestSigningDigestVerifies(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	p := &Payload{Message: "log me in", Recipient: "app.example.com"}
	p.Nonce[0] = 0x01

	digest, err := p.SigningDigest()
	if err != nil {
		t.Fatalf("failed to compute digest: %v", err)
	}
	sig := ed25519.Sign(priv, digest[:])

	var rawPub [32]byte
	copy(rawPub[:], pub)
	if !VerifySignature(p, rawPub, sig) {
		t.Error("valid signature rejected")
	}

	tampered := *p
	tampered.Message = "log me in!"
	if VerifySignature(&tampered, rawPub, sig) {
		t.Error("signature accepted for tampered message")
	}
}
