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

// Package nep413 implements the NEP-413 off-chain message payload.
//
// NEP-413 messages are signed by accounts without touching the chain: the
// payload is Borsh-serialized, prefixed with a tag that no transaction
// serialization can start with, hashed with sha256 and signed with the
// account's ed25519 key. Hardware devices receive the serialized payload and
// apply the prefix and hash on-device.
package nep413

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/keyfold/go-nearledger/borsh"
)

// prefixTag is the u32 every NEP-413 signing preimage starts with, 2^31+413.
// The offset past 2^31 guarantees the preimage can never collide with a
// serialized transaction, whose leading bytes are a string length.
const prefixTag uint32 = 1<<31 + 413

// Payload is the message structure whose serialization the device signs.
type Payload struct {
	// Message is the human readable text shown on the device screen.
	Message string

	// Nonce is the caller's 32 byte replay challenge, passed through verbatim.
	Nonce [32]byte

	// Recipient names the intended consumer of the signature, typically the
	// dapp domain.
	Recipient string

	// CallbackURL, when set, binds the signature to a redirect target.
	CallbackURL *string
}

// Serialize returns the canonical byte form streamed to the device: a length
// prefixed message, the raw nonce, a length prefixed recipient and the
// callback option tag.
func (p *Payload) Serialize() ([]byte, error) {
	size := 4 + len(p.Message) + 32 + 4 + len(p.Recipient) + 1
	if p.CallbackURL != nil {
		size += 4 + len(*p.CallbackURL)
	}
	w := borsh.NewWriter(size)
	w.String(p.Message)
	w.Raw(p.Nonce[:])
	w.String(p.Recipient)
	w.Option(p.CallbackURL != nil)
	if p.CallbackURL != nil {
		w.String(*p.CallbackURL)
	}
	return w.Finish()
}

// SigningDigest returns the sha256 digest the signature covers: the prefix
// tag as a little-endian u32 followed by the serialized payload.
func (p *Payload) SigningDigest() ([32]byte, error) {
	data, err := p.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	tag := borsh.NewWriter(4)
	tag.U32(prefixTag)
	prefix, _ := tag.Finish()
	h.Write(prefix)
	h.Write(data)
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// VerifySignature reports whether sig is a valid device signature over the
// payload for the given raw ed25519 public key.
func VerifySignature(p *Payload, publicKey [32]byte, sig []byte) bool {
	digest, err := p.SigningDigest()
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey[:], digest[:], sig)
}
