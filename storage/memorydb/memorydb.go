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

// Package memorydb implements the storage interface on a memory map. State
// kept here lasts for the process lifetime, which makes it the backend for
// ephemeral sessions and tests.
package memorydb

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/keyfold/go-nearledger/storage"
)

// errMemorydbClosed is returned if a memory database was already closed at
// the invocation of a data access operation.
var errMemorydbClosed = errors.New("database closed")

// Database is an ephemeral key-value store implementing storage.Store.
type Database struct {
	db   map[string][]byte
	lock sync.RWMutex
}

// New returns a wrapped map with all the required store interface methods
// implemented.
func New() *Database {
	return &Database{
		db: make(map[string][]byte),
	}
}

// Close deallocates the internal map and ensures any consecutive data access
// op fails with an error.
func (db *Database) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.db = nil
	return nil
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(_ context.Context, key string) ([]byte, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.db == nil {
		return nil, errMemorydbClosed
	}
	if entry, ok := db.db[key]; ok {
		return bytes.Clone(entry), nil
	}
	return nil, storage.ErrNotFound
}

// Set inserts the given value into the key-value store.
func (db *Database) Set(_ context.Context, key string, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.db == nil {
		return errMemorydbClosed
	}
	db.db[key] = bytes.Clone(value)
	return nil
}

// Remove removes the key from the key-value store.
func (db *Database) Remove(_ context.Context, key string) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.db == nil {
		return errMemorydbClosed
	}
	delete(db.db, key)
	return nil
}

// Len returns the number of entries currently present in the memory database.
//
// Note, this method is only used for testing (i.e. not public in general) and
// does not have explicit checks for closed-ness to allow simpler testing code.
func (db *Database) Len() int {
	db.lock.RLock()
	defer db.lock.RUnlock()

	return len(db.db)
}
