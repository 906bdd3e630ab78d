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
	"encoding/json"
	"errors"
	"strings"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/accounts/usbwallet"
	"go.uber.org/zap"
)

// SignInParams configures a sign-in. An empty DerivationPath selects the
// wallet's default key slot.
type SignInParams struct {
	DerivationPath string
}

// SignIn walks the full association flow: device session, on-device public
// key confirmation, account id entry with on-chain full-access verification,
// and finally the persisted commit. The returned slice holds the single
// signed-in account.
//
// The device key is read exactly once per sign-in. A declined confirmation
// offers a retry; a failed account verification loops back to the form with
// the failure shown. Only after verification succeeds is the session pair
// written, path first, account last.
func (w *Wallet) SignIn(ctx context.Context, params SignInParams) ([]accounts.Account, error) {
	if err := w.acquire(ctx); err != nil {
		return nil, err
	}
	defer w.release()
	defer w.surface.Hide()

	path := w.defaultPath
	if params.DerivationPath != "" {
		parsed, err := accounts.ParseDerivationPath(params.DerivationPath)
		if err != nil {
			return nil, err
		}
		path = parsed
	}
	account, err := w.signIn(ctx, path)
	if err := w.finish(err); err != nil {
		return nil, err
	}
	return []accounts.Account{account}, nil
}

func (w *Wallet) signIn(ctx context.Context, path accounts.DerivationPath) (accounts.Account, error) {
	ch, err := w.ensureSession(ctx)
	if err != nil {
		return accounts.Account{}, err
	}
	pub, err := w.confirmPublicKey(ctx, ch, path)
	if err != nil {
		return accounts.Account{}, err
	}
	accountID, err := w.resolveAccountID(ctx, pub)
	if err != nil {
		return accounts.Account{}, err
	}
	account := accounts.Account{AccountID: accountID, PublicKey: pub, Path: path}

	// Path first, account last: the account entry is the commit point
	if err := w.store.Set(ctx, keyPath, []byte(path.String())); err != nil {
		return accounts.Account{}, err
	}
	blob, err := json.Marshal(account)
	if err != nil {
		return accounts.Account{}, err
	}
	if err := w.store.Set(ctx, keyAccount, blob); err != nil {
		return accounts.Account{}, err
	}
	w.log.Info("Signed in",
		zap.String("account", account.AccountID),
		zap.String("key", pub.String()))
	return account, nil
}

// confirmPublicKey reads the key for the slot behind the approval overlay.
// A decline on the device loops through the retry prompt instead of failing
// the sign-in outright.
func (w *Wallet) confirmPublicKey(ctx context.Context, ch Channel, path accounts.DerivationPath) (accounts.PublicKey, error) {
	for {
		var pub accounts.PublicKey
		err := w.approve("Confirm the public key on the device", func() error {
			var err error
			pub, err = ch.PublicKey(path)
			return err
		})
		if err == nil {
			return pub, nil
		}
		if !errors.Is(err, usbwallet.ErrUserDeclinedOnDevice) {
			return accounts.PublicKey{}, err
		}
		if err := w.retryPrompt(ctx, "The request was declined on the device."); err != nil {
			return accounts.PublicKey{}, err
		}
	}
}

// retryPrompt shows the decline notice and waits for the user to either try
// again or abandon the flow.
func (w *Wallet) retryPrompt(ctx context.Context, failure string) error {
	if err := w.surface.Show(retryMarkup(failure)); err != nil {
		return err
	}
	for {
		click, err := w.surface.Await(ctx)
		if err != nil {
			return err
		}
		switch click.Control {
		case ControlRetry:
			return nil
		case ControlCancel:
			return ErrUserCancelledPrompt
		}
	}
}

// resolveAccountID runs the account entry loop: prefill with the implicit
// account id of the confirmed key, validate the submission locally, then
// verify on chain that the account holds the key with full access. Failures
// redisplay the form with the reason; each submitted id is verified exactly
// once.
func (w *Wallet) resolveAccountID(ctx context.Context, pub accounts.PublicKey) (string, error) {
	candidate := accounts.ImplicitAccountID(pub)
	failure := ""
	for {
		if err := w.surface.Show(accountFormMarkup(candidate, failure)); err != nil {
			return "", err
		}
		click, err := w.surface.Await(ctx)
		if err != nil {
			return "", err
		}
		if click.Control == ControlCancel {
			return "", ErrUserCancelledPrompt
		}
		if click.Control != ControlSubmit {
			continue
		}
		candidate = strings.TrimSpace(click.Inputs[inputAccountID])
		if err := accounts.ValidateAccountID(candidate); err != nil {
			failure = err.Error()
			continue
		}
		err = w.verifyFullAccess(ctx, candidate, pub)
		if err == nil {
			return candidate, nil
		}
		var notFull *NotFullAccessError
		var notFound *KeyNotFoundError
		if errors.As(err, &notFull) || errors.As(err, &notFound) {
			failure = err.Error()
			continue
		}
		return "", err
	}
}
