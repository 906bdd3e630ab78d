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
	"context"
	"errors"
	"strings"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/rpc"
)

// verifyFullAccess checks that the account holds the device key with full
// access permission, the requirement for signing in. Nonexistence answers
// become a *KeyNotFoundError so the sign-in form can offer a retry; any
// other node failure propagates unchanged.
func (w *Wallet) verifyFullAccess(ctx context.Context, accountID string, pub accounts.PublicKey) error {
	view, err := w.node.ViewAccessKey(ctx, accountID, pub.String())
	if err != nil {
		var query *rpc.QueryError
		if errors.As(err, &query) && isUnknownKey(query.Message) {
			return &KeyNotFoundError{AccountID: accountID, PublicKey: pub.String()}
		}
		return err
	}
	if !view.IsFullAccess() {
		return &NotFullAccessError{AccountID: accountID, PublicKey: pub.String()}
	}
	return nil
}

// isUnknownKey matches the phrasings nodes use for a key or account that is
// not on chain.
func isUnknownKey(message string) bool {
	return strings.Contains(message, "does not exist") ||
		strings.Contains(message, "UNKNOWN_ACCESS_KEY") ||
		strings.Contains(message, "UNKNOWN_ACCOUNT")
}
