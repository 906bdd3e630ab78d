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

package types

import (
	"fmt"
	"math/big"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/borsh"
)

// Action enum discriminants, in protocol declaration order. The order is part
// of the serialization format and must never change.
const (
	ActionCreateAccount uint8 = iota
	ActionDeployContract
	ActionFunctionCall
	ActionTransfer
	ActionStake
	ActionAddKey
	ActionDeleteKey
	ActionDeleteAccount
)

// DefaultFunctionCallGas is the gas attached to function calls that do not
// specify a budget, 30 TGas.
const DefaultFunctionCallGas uint64 = 30_000_000_000_000

// Action is one operation of a NEAR transaction. Implementations are the
// closed set of protocol action variants.
type Action interface {
	// Tag returns the enum discriminant the action serializes under.
	Tag() uint8

	// encode writes the variant payload, without the leading tag byte.
	encode(w *borsh.Writer)
}

// CreateAccount creates the receiver account. It carries no payload.
type CreateAccount struct{}

func (a *CreateAccount) Tag() uint8 { return ActionCreateAccount }

func (a *CreateAccount) encode(w *borsh.Writer) {}

// DeployContract deploys WASM code to the receiver account.
type DeployContract struct {
	Code []byte
}

func (a *DeployContract) Tag() uint8 { return ActionDeployContract }

func (a *DeployContract) encode(w *borsh.Writer) {
	w.Bytes(a.Code)
}

// FunctionCall invokes a method on the receiver contract. Args carry the
// already serialized argument blob, JSON for ordinary contracts.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

func (a *FunctionCall) Tag() uint8 { return ActionFunctionCall }

func (a *FunctionCall) encode(w *borsh.Writer) {
	w.String(a.MethodName)
	w.Bytes(a.Args)
	w.U64(a.Gas)
	w.U128(a.Deposit)
}

// Transfer moves Deposit yoctoNEAR to the receiver account.
type Transfer struct {
	Deposit *big.Int
}

func (a *Transfer) Tag() uint8 { return ActionTransfer }

func (a *Transfer) encode(w *borsh.Writer) {
	w.U128(a.Deposit)
}

// Stake locks an amount with the given validator key.
type Stake struct {
	Stake     *big.Int
	PublicKey accounts.PublicKey
}

func (a *Stake) Tag() uint8 { return ActionStake }

func (a *Stake) encode(w *borsh.Writer) {
	w.U128(a.Stake)
	writePublicKey(w, a.PublicKey)
}

// AddKey attaches an access key to the signer account.
type AddKey struct {
	PublicKey accounts.PublicKey
	AccessKey AccessKey
}

func (a *AddKey) Tag() uint8 { return ActionAddKey }

func (a *AddKey) encode(w *borsh.Writer) {
	writePublicKey(w, a.PublicKey)
	a.AccessKey.encode(w)
}

// DeleteKey removes an access key from the signer account.
type DeleteKey struct {
	PublicKey accounts.PublicKey
}

func (a *DeleteKey) Tag() uint8 { return ActionDeleteKey }

func (a *DeleteKey) encode(w *borsh.Writer) {
	writePublicKey(w, a.PublicKey)
}

// DeleteAccount deletes the receiver account, sending its remaining balance
// to the beneficiary.
type DeleteAccount struct {
	BeneficiaryID string
}

func (a *DeleteAccount) Tag() uint8 { return ActionDeleteAccount }

func (a *DeleteAccount) encode(w *borsh.Writer) {
	w.String(a.BeneficiaryID)
}

// encodeAction writes the tag byte followed by the variant payload.
func encodeAction(w *borsh.Writer, a Action) {
	w.U8(a.Tag())
	a.encode(w)
}

// decodeAction consumes one tagged action variant.
func decodeAction(r *borsh.Reader) (Action, error) {
	tag := r.U8()
	if r.Err() != nil {
		return nil, r.Err()
	}
	switch tag {
	case ActionCreateAccount:
		return &CreateAccount{}, nil
	case ActionDeployContract:
		return &DeployContract{Code: r.Bytes()}, nil
	case ActionFunctionCall:
		return &FunctionCall{
			MethodName: r.String(),
			Args:       r.Bytes(),
			Gas:        r.U64(),
			Deposit:    r.U128(),
		}, nil
	case ActionTransfer:
		return &Transfer{Deposit: r.U128()}, nil
	case ActionStake:
		a := &Stake{Stake: r.U128()}
		a.PublicKey = readPublicKey(r)
		return a, nil
	case ActionAddKey:
		a := &AddKey{PublicKey: readPublicKey(r)}
		key, err := decodeAccessKey(r)
		if err != nil {
			return nil, err
		}
		a.AccessKey = key
		return a, nil
	case ActionDeleteKey:
		return &DeleteKey{PublicKey: readPublicKey(r)}, nil
	case ActionDeleteAccount:
		return &DeleteAccount{BeneficiaryID: r.String()}, nil
	default:
		return nil, fmt.Errorf("unknown action tag 0x%02x", tag)
	}
}

func writePublicKey(w *borsh.Writer, pub accounts.PublicKey) {
	w.U8(uint8(pub.KeyType))
	w.Raw(pub.Data[:])
}

func readPublicKey(r *borsh.Reader) accounts.PublicKey {
	var pub accounts.PublicKey
	pub.KeyType = accounts.KeyType(r.U8())
	copy(pub.Data[:], r.Raw(32))
	return pub
}
