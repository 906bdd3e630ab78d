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

// Package ldb implements the storage interface on a leveldb database, giving
// wallet sessions a persistent home across process restarts.
package ldb

import (
	"context"

	"github.com/keyfold/go-nearledger/storage"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to
	// leveldb read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the
	// open database files.
	minHandles = 16
)

// Database is a persistent key-value store implementing storage.Store.
type Database struct {
	fn  string      // filename for reporting
	db  *leveldb.DB // LevelDB instance
	log *zap.Logger
}

// New returns a wrapped LevelDB object opened (or created) at the given file
// path, recovering from a corrupted state if needed.
func New(file string, cache int, handles int, log *zap.Logger) (*Database, error) {
	if log == nil {
		log = zap.NewNop()
	}
	// Ensure we have some minimal caching and file guarantees
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	log.Info("Allocated cache and file handles", zap.String("database", file),
		zap.Int("cache", cache), zap.Int("handles", handles))

	// Open the db and recover any potential corruptions
	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	return &Database{fn: file, db: db, log: log}, nil
}

// Close flushes any pending data to disk and closes all io accesses to the
// underlying database.
func (db *Database) Close() error {
	return db.db.Close()
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := db.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Set inserts the given value into the key-value store.
func (db *Database) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.db.Put([]byte(key), value, nil)
}

// Remove removes the key from the key-value store.
func (db *Database) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.db.Delete([]byte(key), nil)
}
