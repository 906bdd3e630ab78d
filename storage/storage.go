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

// Package storage defines the persistence contract for wallet session state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the requested
// key.
var ErrNotFound = errors.New("not found")

// Store persists small session state blobs under string keys. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the value stored under key. Removing an absent key is
	// not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the store. Accesses after Close fail.
	Close() error
}
