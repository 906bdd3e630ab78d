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
	"errors"
	"fmt"
)

// Account ID length bounds enforced by the protocol.
const (
	MinAccountIDLen = 2
	MaxAccountIDLen = 64
)

// ErrInvalidAccountID is returned when a string does not satisfy the protocol
// rules for account identifiers. Returned errors wrap it and name the exact
// rule violated.
var ErrInvalidAccountID = errors.New("invalid account ID")

// ValidateAccountID checks a string against the protocol rules for account
// identifiers: 2 to 64 characters drawn from lowercase letters, digits and
// the separators '.', '-' and '_', where separators must not lead, trail or
// touch each other.
func ValidateAccountID(id string) error {
	if len(id) < MinAccountIDLen {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidAccountID, id, MinAccountIDLen)
	}
	if len(id) > MaxAccountIDLen {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidAccountID, id, MaxAccountIDLen)
	}
	lastSeparator := true // Forbids a leading separator
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			lastSeparator = false
		case c == '.' || c == '-' || c == '_':
			if lastSeparator {
				return fmt.Errorf("%w: separator %q at position %d follows no character", ErrInvalidAccountID, c, i)
			}
			lastSeparator = true
		default:
			return fmt.Errorf("%w: character %q at position %d", ErrInvalidAccountID, c, i)
		}
	}
	if lastSeparator {
		return fmt.Errorf("%w: %q ends with a separator", ErrInvalidAccountID, id)
	}
	return nil
}

// IsImplicitAccountID reports whether an account ID is implicit, i.e. the
// lowercase hex form of an ed25519 public key rather than a registered name.
func IsImplicitAccountID(id string) bool {
	if len(id) != 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; (c < 'a' || c > 'f') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
