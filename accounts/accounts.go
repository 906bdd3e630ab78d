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

// Package accounts implements NEAR account and derivation path handling.
package accounts

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// KeyType identifies the signature scheme of a public key. NEAR assigns
// ed25519 the discriminant 0 in its binary serialization; it is the only
// scheme hardware devices expose.
type KeyType uint8

const (
	// ED25519 is the key type of all device-derived NEAR keys.
	ED25519 KeyType = 0
)

// ed25519Prefix is the textual prefix of an ed25519 key: ed25519:<base58 data>.
const ed25519Prefix = "ed25519"

// PublicKey is a NEAR public key: a one byte key type discriminant followed
// by the raw curve point.
type PublicKey struct {
	KeyType KeyType
	Data    [32]byte
}

// ParsePublicKey converts the textual `ed25519:<base58>` form of a key to its
// binary representation.
func ParsePublicKey(s string) (PublicKey, error) {
	prefix, encoded, found := strings.Cut(s, ":")
	if !found {
		return PublicKey{}, fmt.Errorf("invalid public key %q: missing curve prefix", s)
	}
	if prefix != ed25519Prefix {
		return PublicKey{}, fmt.Errorf("unsupported curve %q", prefix)
	}
	raw := base58.Decode(encoded)
	if len(raw) != 32 {
		return PublicKey{}, fmt.Errorf("invalid public key %q: %d key bytes, want 32", s, len(raw))
	}
	var key PublicKey
	key.KeyType = ED25519
	copy(key.Data[:], raw)
	return key, nil
}

// String returns the canonical textual form, ed25519:<base58 data>.
func (pub PublicKey) String() string {
	return ed25519Prefix + ":" + base58.Encode(pub.Data[:])
}

// MarshalJSON turns a public key into its json-serialized string.
func (pub PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pub.String())
}

// UnmarshalJSON parses a json-serialized string back into a public key.
func (pub *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*pub = parsed
	return nil
}

// ImplicitAccountID derives the implicit NEAR account id of a public key: the
// lowercase hex encoding of the raw key bytes. It is a suggestion only; any
// named account holding the key is just as valid, so callers must never treat
// the result as authoritative.
func ImplicitAccountID(pub PublicKey) string {
	return hex.EncodeToString(pub.Data[:])
}

// Account ties a NEAR account id to the device key that controls it and the
// derivation path the key lives at.
type Account struct {
	AccountID string         `json:"accountId"`
	PublicKey PublicKey      `json:"publicKey"`
	Path      DerivationPath `json:"path,omitempty"`
}
