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

package wallet

import (
	"errors"
	"fmt"
)

// ErrUserCancelledPrompt is returned when the user dismisses a prompt instead
// of completing it. The device session, if any, stays connected.
var ErrUserCancelledPrompt = errors.New("prompt cancelled")

// ErrNotSignedIn is returned by operations that need a persisted account
// before any sign-in completed.
var ErrNotSignedIn = errors.New("not signed in")

// ErrAccessKeyNotFullAccess is the sentinel wrapped by NotFullAccessError,
// for callers that match on the class rather than the account.
var ErrAccessKeyNotFullAccess = errors.New("access key is not full access")

// NotFullAccessError is returned during sign-in when the account holds the
// device key only with a function-call scoped permission.
type NotFullAccessError struct {
	AccountID string
	PublicKey string
}

func (e *NotFullAccessError) Error() string {
	return fmt.Sprintf("the key %s on account %q is restricted to function calls, sign-in needs a full access key", e.PublicKey, e.AccountID)
}

func (e *NotFullAccessError) Unwrap() error { return ErrAccessKeyNotFullAccess }

// KeyNotFoundError is returned during sign-in when the account does not hold
// the device key at all, usually because a different account id was meant.
type KeyNotFoundError struct {
	AccountID string
	PublicKey string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("account %q does not hold the key %s, try a different account id", e.AccountID, e.PublicKey)
}
