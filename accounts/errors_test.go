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
	"strings"
	"testing"
)

func TestValidateAccountID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id    string
		valid bool
	}{
		{"alice.near", true},
		{"ok", true},
		{"bowen", true},
		{"ek-2", true},
		{"ek.near", true},
		{"com", true},
		{"google.com", true},
		{"bowen.google.com", true},
		{"illia.cheap-accounts.near", true},
		{"max_99.near", true},
		{"100", true},
		{"near", true},
		{"over.9000", true},
		{"a.bro", true},
		{"bro.a", true},
		{strings.Repeat("a", 64), true},
		{"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", true},

		{"", false},
		{"a", false},
		{strings.Repeat("a", 65), false},
		{"not ok", false},
		{"a.near ", false},
		{"Alice.near", false},
		{"alice@near", false},
		{"$$$", false},
		{"aliceè.near", false},
		{".alice", false},
		{"alice.", false},
		{"-alice", false},
		{"alice-", false},
		{"_alice", false},
		{"alice_", false},
		{"alice..near", false},
		{"alice.-near", false},
		{"alice__near", false},
		{"alice--near", false},
		{"alice._near", false},
	}
	for _, tt := range tests {
		err := ValidateAccountID(tt.id)
		if tt.valid && err != nil {
			t.Errorf("id %q: unexpected error: %v", tt.id, err)
		}
		if !tt.valid {
			if err == nil {
				t.Errorf("id %q: validation accepted", tt.id)
			} else if !errors.Is(err, ErrInvalidAccountID) {
				t.Errorf("id %q: error does not wrap ErrInvalidAccountID: %v", tt.id, err)
			}
		}
	}
}

func TestIsImplicitAccountID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", true},
		{strings.Repeat("0", 64), true},
		{strings.Repeat("f", 64), true},
		{strings.Repeat("f", 63), false},
		{strings.Repeat("f", 65), false},
		{strings.Repeat("g", 64), false},
		{strings.Repeat("F", 64), false},
		{"alice.near", false},
		{"", false},
	}
	for _, tt := range tests {
		if have := IsImplicitAccountID(tt.id); have != tt.want {
			t.Errorf("id %q: have %v, want %v", tt.id, have, tt.want)
		}
	}
}
