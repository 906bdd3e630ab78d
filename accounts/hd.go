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

package accounts

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// DefaultDerivationPath is the derivation path of the first NEAR account on a
// hardware device. Additional accounts increment the last component:
// 44'/397'/0'/0'/1', 44'/397'/0'/0'/2', etc.
var DefaultDerivationPath = DerivationPath{0x80000000 + 44, 0x80000000 + 397, 0x80000000, 0x80000000, 0x80000000 + 1}

// DerivationPath represents the computer friendly version of a hierarchical
// deterministic wallet account derivation path.
//
// The BIP-32 spec https://github.com/bitcoin/bips/blob/master/bip-0032.mediawiki
// defines derivation paths to be of the form:
//
//	m / purpose' / coin_type' / account' / change / address_index
//
// The BIP-44 spec https://github.com/bitcoin/bips/blob/master/bip-0044.mediawiki
// defines that the `purpose` be 44' (or 0x8000002C) for crypto currencies, and
// SLIP-44 https://github.com/satoshilabs/slips/blob/master/slip-0044.md assigns
// the `coin_type` 397' (or 0x8000018D) to NEAR.
//
// NEAR uses ed25519 keys, whose BIP-32 derivation is defined for hardened
// components only, so every component of a usable path carries the 0x80000000
// bit. The canonical textual form omits the `m/` prefix: 44'/397'/0'/0'/1'.
type DerivationPath []uint32

// ParseDerivationPath converts a user specified derivation path string to the
// internal binary representation.
//
// An optional leading `m` segment is accepted and ignored, so both
// `44'/397'/0'/0'/1'` and `m/44'/397'/0'/0'/1'` parse to the same path.
// Whitespace around components is ignored.
func ParseDerivationPath(path string) (DerivationPath, error) {
	var result DerivationPath

	components := strings.Split(path, "/")
	if strings.TrimSpace(components[0]) == "m" {
		components = components[1:]
	}
	if len(components) == 0 || (len(components) == 1 && strings.TrimSpace(components[0]) == "") {
		return nil, errors.New("empty derivation path")
	}
	for _, component := range components {
		// Ignore any user added whitespace
		component = strings.TrimSpace(component)
		var value uint32

		// Handle hardened paths
		if strings.HasSuffix(component, "'") {
			value = 0x80000000
			component = strings.TrimSpace(strings.TrimSuffix(component, "'"))
		}
		// Handle the non hardened component
		bigval, ok := new(big.Int).SetString(component, 0)
		if !ok {
			return nil, fmt.Errorf("invalid component: %s", component)
		}
		max := math.MaxUint32 - value
		if bigval.Sign() < 0 || bigval.Cmp(big.NewInt(int64(max))) > 0 {
			if value == 0 {
				return nil, fmt.Errorf("component %v out of allowed range [0, %d]", bigval, max)
			}
			return nil, fmt.Errorf("component %v out of allowed hardened range [0, %d]", bigval, max)
		}
		value += uint32(bigval.Uint64())

		// Append and repeat
		result = append(result, value)
	}
	return result, nil
}

// String implements the stringer interface, converting a binary derivation
// path to its canonical representation.
func (path DerivationPath) String() string {
	components := make([]string, 0, len(path))
	for _, component := range path {
		var hardened bool
		if component >= 0x80000000 {
			component -= 0x80000000
			hardened = true
		}
		if hardened {
			components = append(components, fmt.Sprintf("%d'", component))
		} else {
			components = append(components, fmt.Sprintf("%d", component))
		}
	}
	return strings.Join(components, "/")
}

// Encode converts the path to the binary form sent to the device: each
// component as a big-endian uint32, concatenated in order, with no count
// prefix. A five component path therefore encodes to exactly 20 bytes.
func (path DerivationPath) Encode() []byte {
	encoded := make([]byte, 0, 4*len(path))
	for _, component := range path {
		encoded = binary.BigEndian.AppendUint32(encoded, component)
	}
	return encoded
}

// MarshalJSON turns a derivation path into its json-serialized string.
func (path DerivationPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(path.String())
}

// UnmarshalJSON a json-serialized string back into a derivation path.
func (path *DerivationPath) UnmarshalJSON(b []byte) error {
	var dp string
	var err error
	if err = json.Unmarshal(b, &dp); err != nil {
		return err
	}
	*path, err = ParseDerivationPath(dp)
	return err
}

// AccountIterator creates a path iterator that progresses by increasing the
// last component: 44'/397'/0'/0'/1', 44'/397'/0'/0'/2', ... 44'/397'/0'/0'/N'.
// The hardened bit of the last component is preserved across increments.
func AccountIterator(base DerivationPath) func() DerivationPath {
	path := make(DerivationPath, len(base))
	copy(path[:], base[:])
	// Set it back by one, so the first call gives the first result
	path[len(path)-1]--
	return func() DerivationPath {
		path[len(path)-1]++
		return path
	}
}
