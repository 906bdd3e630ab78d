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

// Package types contains the NEAR transaction model and its canonical binary
// serialization.
//
// The byte form produced here is the protocol's signing preimage: the device
// hashes it with sha256 and signs the digest, and validators re-serialize the
// same fields to verify. Field order therefore follows the protocol schema
// exactly and the encoding has no self-describing framing.
package types

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/borsh"
)

// Transaction is an unsigned NEAR transaction.
type Transaction struct {
	SignerID   string
	PublicKey  accounts.PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// NewTransaction assembles an unsigned transaction. Nonce must already be the
// value to use, callers bump the access key nonce before calling.
func NewTransaction(signerID string, publicKey accounts.PublicKey, nonce uint64, receiverID string, blockHash [32]byte, actions []Action) *Transaction {
	return &Transaction{
		SignerID:   signerID,
		PublicKey:  publicKey,
		Nonce:      nonce,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}
}

func (tx *Transaction) encode(w *borsh.Writer) {
	w.String(tx.SignerID)
	writePublicKey(w, tx.PublicKey)
	w.U64(tx.Nonce)
	w.String(tx.ReceiverID)
	w.Raw(tx.BlockHash[:])
	w.VecLen(len(tx.Actions))
	for _, a := range tx.Actions {
		encodeAction(w, a)
	}
}

// Serialize returns the canonical byte form of the transaction, the exact
// signing preimage. Two calls on an unchanged transaction return identical
// bytes.
func (tx *Transaction) Serialize() ([]byte, error) {
	w := borsh.NewWriter(256)
	tx.encode(w)
	return w.Finish()
}

// Hash returns sha256 of the serialized transaction. The device signs this
// digest; its base58 form is the transaction id the network reports.
func (tx *Transaction) Hash() ([32]byte, error) {
	data, err := tx.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// DecodeTransaction parses a serialized unsigned transaction.
func DecodeTransaction(data []byte) (*Transaction, error) {
	r := borsh.NewReader(data)
	tx, err := decodeTransactionBody(r)
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return tx, nil
}

func decodeTransactionBody(r *borsh.Reader) (*Transaction, error) {
	tx := &Transaction{
		SignerID:  r.String(),
		PublicKey: readPublicKey(r),
	}
	tx.Nonce = r.U64()
	tx.ReceiverID = r.String()
	copy(tx.BlockHash[:], r.Raw(32))
	n := r.VecLen()
	if r.Err() != nil {
		return nil, r.Err()
	}
	for i := 0; i < n; i++ {
		action, err := decodeAction(r)
		if err != nil {
			return nil, err
		}
		tx.Actions = append(tx.Actions, action)
	}
	return tx, r.Err()
}

// Signature is a NEAR signature: a one byte key type discriminant followed by
// the raw signature bytes.
type Signature struct {
	KeyType accounts.KeyType
	Data    [64]byte
}

// NewSignature wraps raw device output into a typed ed25519 signature.
func NewSignature(raw []byte) (Signature, error) {
	var sig Signature
	if len(raw) != 64 {
		return sig, fmt.Errorf("invalid signature length %d, want 64", len(raw))
	}
	sig.KeyType = accounts.ED25519
	copy(sig.Data[:], raw)
	return sig, nil
}

// SignedTransaction pairs a transaction with the signature over its hash.
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}

// Serialize returns the canonical byte form of the signed transaction.
func (stx *SignedTransaction) Serialize() ([]byte, error) {
	w := borsh.NewWriter(512)
	stx.Transaction.encode(w)
	w.U8(uint8(stx.Signature.KeyType))
	w.Raw(stx.Signature.Data[:])
	return w.Finish()
}

// EncodeBase64 returns the broadcast wire form, the base64 encoding of the
// serialized signed transaction.
func (stx *SignedTransaction) EncodeBase64() (string, error) {
	data, err := stx.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSignedTransaction parses a serialized signed transaction.
func DecodeSignedTransaction(data []byte) (*SignedTransaction, error) {
	r := borsh.NewReader(data)
	tx, err := decodeTransactionBody(r)
	if err != nil {
		return nil, err
	}
	stx := &SignedTransaction{Transaction: *tx}
	stx.Signature.KeyType = accounts.KeyType(r.U8())
	copy(stx.Signature.Data[:], r.Raw(64))
	if err := r.Done(); err != nil {
		return nil, err
	}
	return stx, nil
}
