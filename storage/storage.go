/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage implements the key-value storage used by the persisted tables of the
// store (identifier table, stamp table, meta content) on top of goleveldb.
//
// Single key operations are safe for any number of concurrent callers. Multi key writes
// (SetValues, DelValues) are applied as one leveldb batch, so either every pair is
// written or none is.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// ErrStorageClosed indicates the storage is already closed.
	ErrStorageClosed = errors.New("storage is closed")
	// ErrStopIteration may be returned by an iterate callback to stop early without error.
	ErrStopIteration = errors.New("stop iteration")

	index = struct {
		mu *sync.Mutex
		db map[string]*Storage
	}{
		&sync.Mutex{},
		make(map[string]*Storage),
	}
)

// Storage represents a key-value storage.
type Storage struct {
	path   string
	db     *leveldb.DB
	closed uint32
	refs   int
}

// KV represents a key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// OpenStorage opens the leveldb database at path. Opening the same path twice in one
// process returns the same instance; each open must be paired with a Close.
func OpenStorage(path string) (st *Storage, err error) {
	index.mu.Lock()
	defer index.mu.Unlock()

	if st = index.db[path]; st != nil {
		st.refs++
		return
	}

	var db *leveldb.DB
	if db, err = leveldb.OpenFile(path, nil); err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s failed", path)
	}

	st = &Storage{path: path, db: db, refs: 1}
	index.db[path] = st
	return
}

// OpenMemStorage opens a storage held in memory only.
func OpenMemStorage() (st *Storage, err error) {
	var db *leveldb.DB
	if db, err = leveldb.Open(lstorage.NewMemStorage(), nil); err != nil {
		return nil, errors.Wrap(err, "open memory leveldb failed")
	}
	return &Storage{db: db, refs: 1}, nil
}

// Path returns the database directory, empty for memory storages.
func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) check() error {
	if atomic.LoadUint32(&s.closed) == 1 {
		return ErrStorageClosed
	}
	return nil
}

// SetValue sets or replace the value to key.
func (s *Storage) SetValue(key, value []byte) (err error) {
	if err = s.check(); err != nil {
		return
	}
	if err = s.db.Put(key, value, nil); err != nil {
		err = errors.Wrap(err, "put value failed")
	}
	return
}

// GetValue fetches the value of key, returning nil without error when the key is absent.
func (s *Storage) GetValue(key []byte) (value []byte, err error) {
	if err = s.check(); err != nil {
		return
	}
	if value, err = s.db.Get(key, nil); err == leveldb.ErrNotFound {
		value, err = nil, nil
	} else if err != nil {
		err = errors.Wrap(err, "get value failed")
	}
	return
}

// DelValue deletes the value of key.
func (s *Storage) DelValue(key []byte) (err error) {
	if err = s.check(); err != nil {
		return
	}
	if err = s.db.Delete(key, nil); err != nil {
		err = errors.Wrap(err, "delete value failed")
	}
	return
}

// SetValues sets or replaces the key-value pairs in kvs atomically.
func (s *Storage) SetValues(kvs []KV) (err error) {
	if err = s.check(); err != nil {
		return
	}
	batch := new(leveldb.Batch)
	for _, kv := range kvs {
		batch.Put(kv.Key, kv.Value)
	}
	if err = s.db.Write(batch, nil); err != nil {
		err = errors.Wrap(err, "write batch failed")
	}
	return
}

// DelValues deletes the values of the keys atomically.
func (s *Storage) DelValues(keys [][]byte) (err error) {
	if err = s.check(); err != nil {
		return
	}
	batch := new(leveldb.Batch)
	for _, key := range keys {
		batch.Delete(key)
	}
	if err = s.db.Write(batch, nil); err != nil {
		err = errors.Wrap(err, "delete batch failed")
	}
	return
}

// Iterate calls fn for every pair whose key starts with prefix, in key order. The slices
// passed to fn are only valid during the call.
func (s *Storage) Iterate(prefix []byte, fn func(key, value []byte) error) (err error) {
	if err = s.check(); err != nil {
		return
	}
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if err = fn(it.Key(), it.Value()); err != nil {
			if err == ErrStopIteration {
				err = nil
			}
			return
		}
	}
	if err = it.Error(); err != nil {
		err = errors.Wrap(err, "iterate failed")
	}
	return
}

// DeletePrefix removes every key starting with prefix.
func (s *Storage) DeletePrefix(prefix []byte) (err error) {
	var keys [][]byte
	if err = s.Iterate(prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return
	}
	return s.DelValues(keys)
}

// Size returns the approximate bytes on disk used by keys starting with prefix.
func (s *Storage) Size(prefix []byte) (size int64, err error) {
	if err = s.check(); err != nil {
		return
	}
	var sizes leveldb.Sizes
	if sizes, err = s.db.SizeOf([]util.Range{*util.BytesPrefix(prefix)}); err != nil {
		err = errors.Wrap(err, "size of range failed")
		return
	}
	return sizes.Sum(), nil
}

// Close releases one reference and closes the database when none remain.
func (s *Storage) Close() (err error) {
	index.mu.Lock()
	defer index.mu.Unlock()

	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if s.refs--; s.refs > 0 {
		return
	}
	atomic.StoreUint32(&s.closed, 1)
	if s.path != "" {
		delete(index.db, s.path)
	}
	if err = s.db.Close(); err != nil {
		err = errors.Wrap(err, "close leveldb failed")
	}
	return
}
