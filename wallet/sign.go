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
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/nep413"
	"github.com/keyfold/go-nearledger/rpc"
	"github.com/keyfold/go-nearledger/types"
	"go.uber.org/zap"
)

// TransactionParams describes one transaction to sign and send. SignerID is
// optional; when set it must match the signed-in account.
type TransactionParams struct {
	SignerID   string
	ReceiverID string
	Actions    []types.ActionDescriptor
}

// SignMessageParams describes an off-chain message signing request. The
// nonce is the caller's 32-byte challenge, echoed into the signed payload.
type SignMessageParams struct {
	Message   string
	Recipient string
	Nonce     [32]byte
}

// SignedMessage is the result of an off-chain signing: the signing account,
// its key and the base64 signature over the tagged payload.
type SignedMessage struct {
	AccountID string `json:"accountId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// SignAndSendTransaction builds the transaction against live chain state,
// has the device sign it after physical approval and broadcasts it, waiting
// for the final outcome.
func (w *Wallet) SignAndSendTransaction(ctx context.Context, params TransactionParams) (*rpc.TxOutcome, error) {
	account, err := w.signedInAccount(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkParams(account, params); err != nil {
		return nil, err
	}
	actions, err := types.ConvertActions(params.Actions)
	if err != nil {
		return nil, err
	}

	if err := w.acquire(ctx); err != nil {
		return nil, err
	}
	defer w.release()
	defer w.surface.Hide()

	outcome, err := w.signAndSend(ctx, account, params.ReceiverID, actions)
	if err := w.finish(err); err != nil {
		return nil, err
	}
	return outcome, nil
}

// SignAndSendTransactions signs and sends a batch strictly in order, each
// transaction completing its full cycle before the next starts. The first
// failure aborts the rest; outcomes of already committed transactions are
// returned alongside the error so their hashes are not lost.
func (w *Wallet) SignAndSendTransactions(ctx context.Context, batch []TransactionParams) ([]*rpc.TxOutcome, error) {
	account, err := w.signedInAccount(ctx)
	if err != nil {
		return nil, err
	}
	// Validate the whole batch before the device sees any of it
	actions := make([][]types.Action, len(batch))
	for i, params := range batch {
		if err := checkParams(account, params); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		converted, err := types.ConvertActions(params.Actions)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		actions[i] = converted
	}

	if err := w.acquire(ctx); err != nil {
		return nil, err
	}
	defer w.release()
	defer w.surface.Hide()

	outcomes := make([]*rpc.TxOutcome, 0, len(batch))
	var opErr error
	for i, params := range batch {
		outcome, err := w.signAndSend(ctx, account, params.ReceiverID, actions[i])
		if err != nil {
			opErr = fmt.Errorf("transaction %d: %w", i, err)
			break
		}
		outcomes = append(outcomes, outcome)
	}
	if err := w.finish(opErr); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// signAndSend runs one full transaction cycle: nonce and block hash from the
// node, device signature behind the approval overlay, broadcast.
func (w *Wallet) signAndSend(ctx context.Context, account accounts.Account, receiverID string, actions []types.Action) (*rpc.TxOutcome, error) {
	ch, err := w.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	view, err := w.node.ViewAccessKey(ctx, account.AccountID, account.PublicKey.String())
	if err != nil {
		return nil, err
	}
	blockHash, err := w.node.FinalBlockHash(ctx)
	if err != nil {
		return nil, err
	}
	tx := types.NewTransaction(account.AccountID, account.PublicKey, view.Nonce+1, receiverID, blockHash, actions)
	txBytes, err := tx.Serialize()
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = w.approve("Review the transaction on the device", func() error {
		var err error
		raw, err = ch.SignTransaction(account.Path, txBytes)
		return err
	})
	if err != nil {
		return nil, err
	}
	sig, err := types.NewSignature(raw)
	if err != nil {
		return nil, err
	}
	signed := &types.SignedTransaction{Transaction: *tx, Signature: sig}
	encoded, err := signed.EncodeBase64()
	if err != nil {
		return nil, err
	}
	outcome, err := w.node.BroadcastTxCommit(ctx, encoded)
	if err != nil {
		return nil, err
	}
	w.log.Info("Transaction sent",
		zap.String("receiver", receiverID),
		zap.String("hash", outcome.Transaction.Hash))
	return outcome, nil
}

// SignMessage signs an off-chain message per the tagged payload scheme. The
// signature never validates as a transaction, so holding it proves key
// ownership without spend risk.
func (w *Wallet) SignMessage(ctx context.Context, params SignMessageParams) (*SignedMessage, error) {
	account, err := w.signedInAccount(ctx)
	if err != nil {
		return nil, err
	}
	if params.Recipient == "" {
		return nil, errors.New("message recipient is required")
	}

	if err := w.acquire(ctx); err != nil {
		return nil, err
	}
	defer w.release()
	defer w.surface.Hide()

	signed, err := w.signMessage(ctx, account, params)
	if err := w.finish(err); err != nil {
		return nil, err
	}
	return signed, nil
}

func (w *Wallet) signMessage(ctx context.Context, account accounts.Account, params SignMessageParams) (*SignedMessage, error) {
	ch, err := w.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	payload := &nep413.Payload{
		Message:   params.Message,
		Nonce:     params.Nonce,
		Recipient: params.Recipient,
	}
	blob, err := payload.Serialize()
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = w.approve("Review the message on the device", func() error {
		var err error
		raw, err = ch.SignMessage(account.Path, blob)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.log.Info("Message signed", zap.String("recipient", params.Recipient))
	return &SignedMessage{
		AccountID: account.AccountID,
		PublicKey: account.PublicKey.String(),
		Signature: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// checkParams vets a transaction request against the signed-in account
// before any session or chain work happens.
func checkParams(account accounts.Account, params TransactionParams) error {
	if params.SignerID != "" && params.SignerID != account.AccountID {
		return fmt.Errorf("signer %q does not match the signed-in account %q", params.SignerID, account.AccountID)
	}
	if err := accounts.ValidateAccountID(params.ReceiverID); err != nil {
		return fmt.Errorf("invalid receiver: %w", err)
	}
	if len(params.Actions) == 0 {
		return errors.New("transaction needs at least one action")
	}
	return nil
}
