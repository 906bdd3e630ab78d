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

	"github.com/keyfold/go-nearledger/borsh"
)

// Access key permission discriminants, in protocol declaration order.
const (
	PermissionFunctionCall uint8 = iota
	PermissionFullAccess
)

// AccessKey describes what a key attached to an account may do. Nonce is the
// key's own transaction counter; new keys start it at zero.
type AccessKey struct {
	Nonce      uint64
	Permission AccessKeyPermission
}

// FullAccessKey returns an access key with unrestricted permissions.
func FullAccessKey() AccessKey {
	return AccessKey{Permission: &FullAccessPermission{}}
}

func (k *AccessKey) encode(w *borsh.Writer) {
	w.U64(k.Nonce)
	w.U8(k.Permission.Tag())
	k.Permission.encode(w)
}

func decodeAccessKey(r *borsh.Reader) (AccessKey, error) {
	var key AccessKey
	key.Nonce = r.U64()
	tag := r.U8()
	if r.Err() != nil {
		return AccessKey{}, r.Err()
	}
	switch tag {
	case PermissionFunctionCall:
		p := &FunctionCallPermission{}
		if r.Option() {
			p.Allowance = r.U128()
		}
		p.ReceiverID = r.String()
		n := r.VecLen()
		if r.Err() != nil {
			return AccessKey{}, r.Err()
		}
		for i := 0; i < n; i++ {
			p.MethodNames = append(p.MethodNames, r.String())
		}
		key.Permission = p
	case PermissionFullAccess:
		key.Permission = &FullAccessPermission{}
	default:
		return AccessKey{}, fmt.Errorf("unknown access key permission tag 0x%02x", tag)
	}
	return key, r.Err()
}

// AccessKeyPermission is either full access or a function call scope.
type AccessKeyPermission interface {
	// Tag returns the enum discriminant the permission serializes under.
	Tag() uint8

	encode(w *borsh.Writer)
}

// FunctionCallPermission limits a key to calling the named methods on one
// receiver contract. A nil Allowance means the key may burn gas without
// limit; an empty MethodNames list allows every method.
type FunctionCallPermission struct {
	Allowance   *big.Int
	ReceiverID  string
	MethodNames []string
}

func (p *FunctionCallPermission) Tag() uint8 { return PermissionFunctionCall }

func (p *FunctionCallPermission) encode(w *borsh.Writer) {
	w.Option(p.Allowance != nil)
	if p.Allowance != nil {
		w.U128(p.Allowance)
	}
	w.String(p.ReceiverID)
	w.VecLen(len(p.MethodNames))
	for _, m := range p.MethodNames {
		w.String(m)
	}
}

// FullAccessPermission marks a key that can sign any action for the account.
type FullAccessPermission struct{}

func (p *FullAccessPermission) Tag() uint8 { return PermissionFullAccess }

func (p *FullAccessPermission) encode(w *borsh.Writer) {}
