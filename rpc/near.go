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

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// QueryError is an application level error the node embeds in an otherwise
// successful query result, such as viewing an access key that does not exist.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// queryRequest is the parameter object of the `query` method.
type queryRequest struct {
	RequestType string `json:"request_type"`
	Finality    string `json:"finality"`
	AccountID   string `json:"account_id,omitempty"`
	PublicKey   string `json:"public_key,omitempty"`
}

// AccessKeyView is the state of one access key as reported by the node.
type AccessKeyView struct {
	Nonce      uint64          `json:"nonce"`
	Permission json.RawMessage `json:"permission"`
}

// fullAccessLiteral is how the node encodes an unrestricted permission; scoped
// permissions arrive as an object keyed by "FunctionCall".
var fullAccessLiteral = []byte(`"FullAccess"`)

// IsFullAccess reports whether the key carries unrestricted permissions.
func (v *AccessKeyView) IsFullAccess() bool {
	return bytes.Equal(bytes.TrimSpace(v.Permission), fullAccessLiteral)
}

// ViewAccessKey queries the current state of one access key. Keys and
// accounts that do not exist surface as a *QueryError.
func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKeyView, error) {
	var result struct {
		AccessKeyView
		Error string `json:"error"`
	}
	req := queryRequest{
		RequestType: "view_access_key",
		Finality:    "optimistic",
		AccountID:   accountID,
		PublicKey:   publicKey,
	}
	if err := c.Call(ctx, "query", req, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, &QueryError{Message: result.Error}
	}
	view := result.AccessKeyView
	return &view, nil
}

// blockRequest is the parameter object of the `block` method.
type blockRequest struct {
	Finality string `json:"finality"`
}

// BlockHeaderView is the header subset a signing client consumes.
type BlockHeaderView struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// BlockView is a block as reported by the node.
type BlockView struct {
	Header BlockHeaderView `json:"header"`
}

// FinalBlockHash fetches the latest final block and returns its hash bytes.
// Transactions must reference a recent block hash to prove freshness.
func (c *Client) FinalBlockHash(ctx context.Context) ([32]byte, error) {
	var block BlockView
	if err := c.Call(ctx, "block", blockRequest{Finality: "final"}, &block); err != nil {
		return [32]byte{}, err
	}
	raw := base58.Decode(block.Header.Hash)
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid block hash %q", block.Header.Hash)
	}
	var hash [32]byte
	copy(hash[:], raw)
	return hash, nil
}

// TransactionView is the transaction echo inside a broadcast outcome.
type TransactionView struct {
	Hash       string `json:"hash"`
	SignerID   string `json:"signer_id"`
	ReceiverID string `json:"receiver_id"`
	Nonce      uint64 `json:"nonce"`
}

// TxOutcome is the result of a committed transaction broadcast.
type TxOutcome struct {
	Status      json.RawMessage `json:"status"`
	Transaction TransactionView `json:"transaction"`
}

// BroadcastTxCommit submits a base64 encoded signed transaction and waits for
// it to be executed.
func (c *Client) BroadcastTxCommit(ctx context.Context, signedTx string) (*TxOutcome, error) {
	var outcome TxOutcome
	if err := c.Call(ctx, "broadcast_tx_commit", []string{signedTx}, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}
