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
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/keyfold/go-nearledger/accounts"
)

// ActionDescriptor is the caller-facing description of an action, shaped like
// the JSON dapps submit: a type name plus a parameter bag. Balance fields are
// decimal yoctoNEAR strings since they exceed every native integer width.
type ActionDescriptor struct {
	Type   string       `json:"type"`
	Params ActionParams `json:"params,omitempty"`
}

// ActionParams holds the union of all per-type parameters; which fields are
// read depends on the descriptor type. Zero fields take protocol defaults.
type ActionParams struct {
	// FunctionCall
	MethodName string          `json:"methodName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Gas        string          `json:"gas,omitempty"`

	// FunctionCall, Transfer
	Deposit string `json:"deposit,omitempty"`

	// Stake, AddKey, DeleteKey
	PublicKey string `json:"publicKey,omitempty"`

	// Stake
	Stake string `json:"stake,omitempty"`

	// AddKey
	AccessKey *AccessKeyDescriptor `json:"accessKey,omitempty"`

	// DeleteAccount
	BeneficiaryID string `json:"beneficiaryId,omitempty"`

	// DeployContract
	Code []byte `json:"code,omitempty"`
}

// AccessKeyDescriptor describes the key added by an AddKey action. A nil
// Permission grants full access; a non-nil one scopes the key to a contract.
type AccessKeyDescriptor struct {
	Nonce      uint64                `json:"nonce,omitempty"`
	Permission *PermissionDescriptor `json:"permission,omitempty"`
}

// PermissionDescriptor scopes a key to methods of one receiver contract.
// An empty MethodNames list allows every method; an empty Allowance defaults
// to "0".
type PermissionDescriptor struct {
	ReceiverID  string   `json:"receiverId"`
	MethodNames []string `json:"methodNames,omitempty"`
	Allowance   string   `json:"allowance,omitempty"`
}

// UnsupportedActionError is returned when a descriptor names an action type
// outside the protocol set. Unknown actions fail the whole conversion, they
// are never silently dropped.
type UnsupportedActionError struct {
	Type string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action type %q", e.Type)
}

// ConvertActions resolves descriptors into typed actions, applying protocol
// defaults for omitted gas, deposit and allowance fields.
func ConvertActions(descriptors []ActionDescriptor) ([]Action, error) {
	actions := make([]Action, 0, len(descriptors))
	for i, d := range descriptors {
		action, err := convertAction(d)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func convertAction(d ActionDescriptor) (Action, error) {
	switch d.Type {
	case "CreateAccount":
		return &CreateAccount{}, nil

	case "DeployContract":
		return &DeployContract{Code: d.Params.Code}, nil

	case "FunctionCall":
		gas, err := parseGas(d.Params.Gas)
		if err != nil {
			return nil, err
		}
		deposit, err := parseBalance("deposit", d.Params.Deposit)
		if err != nil {
			return nil, err
		}
		return &FunctionCall{
			MethodName: d.Params.MethodName,
			Args:       []byte(d.Params.Args),
			Gas:        gas,
			Deposit:    deposit,
		}, nil

	case "Transfer":
		deposit, err := parseBalance("deposit", d.Params.Deposit)
		if err != nil {
			return nil, err
		}
		return &Transfer{Deposit: deposit}, nil

	case "Stake":
		stake, err := parseBalance("stake", d.Params.Stake)
		if err != nil {
			return nil, err
		}
		pub, err := accounts.ParsePublicKey(d.Params.PublicKey)
		if err != nil {
			return nil, err
		}
		return &Stake{Stake: stake, PublicKey: pub}, nil

	case "AddKey":
		pub, err := accounts.ParsePublicKey(d.Params.PublicKey)
		if err != nil {
			return nil, err
		}
		key, err := convertAccessKey(d.Params.AccessKey)
		if err != nil {
			return nil, err
		}
		return &AddKey{PublicKey: pub, AccessKey: key}, nil

	case "DeleteKey":
		pub, err := accounts.ParsePublicKey(d.Params.PublicKey)
		if err != nil {
			return nil, err
		}
		return &DeleteKey{PublicKey: pub}, nil

	case "DeleteAccount":
		return &DeleteAccount{BeneficiaryID: d.Params.BeneficiaryID}, nil

	default:
		return nil, &UnsupportedActionError{Type: d.Type}
	}
}

func convertAccessKey(d *AccessKeyDescriptor) (AccessKey, error) {
	if d == nil || d.Permission == nil {
		var key AccessKey
		if d != nil {
			key.Nonce = d.Nonce
		}
		key.Permission = &FullAccessPermission{}
		return key, nil
	}
	allowance, err := parseBalance("allowance", d.Permission.Allowance)
	if err != nil {
		return AccessKey{}, err
	}
	return AccessKey{
		Nonce: d.Nonce,
		Permission: &FunctionCallPermission{
			Allowance:   allowance,
			ReceiverID:  d.Permission.ReceiverID,
			MethodNames: d.Permission.MethodNames,
		},
	}, nil
}

// parseGas resolves a decimal gas string, defaulting to DefaultFunctionCallGas
// when empty.
func parseGas(s string) (uint64, error) {
	if s == "" {
		return DefaultFunctionCallGas, nil
	}
	gas, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gas %q: %v", s, err)
	}
	return gas, nil
}

// parseBalance resolves a decimal yoctoNEAR string, defaulting to zero when
// empty.
func parseBalance(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return value, nil
}
