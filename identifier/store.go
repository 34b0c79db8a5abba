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

package identifier

import (
	"encoding/binary"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/storage"
)

var (
	uuidKeyPrefix = []byte("U")
	nidKeyPrefix  = []byte("N")
)

// ErrCorruptedTable indicates the persisted identifier table could not be decoded.
var ErrCorruptedTable = errors.New("corrupted identifier table")

// Store persists the uuid to nid table.
type Store interface {
	// Load calls fn for every persisted mapping. primordial marks the uuid first assigned
	// to the nid.
	Load(fn func(u uuid.UUID, nid int32, primordial bool) error) error
	// Put persists a mapping before it is published.
	Put(u uuid.UUID, nid int32, primordial bool) error
}

// LevelDBStore keeps the identifier table in a storage with two key spaces:
// U<uuid> -> nid and N<nid> -> primordial uuid.
type LevelDBStore struct {
	st *storage.Storage
}

// NewLevelDBStore returns the identifier store backed by st.
func NewLevelDBStore(st *storage.Storage) *LevelDBStore {
	return &LevelDBStore{st: st}
}

func uuidKey(u uuid.UUID) []byte {
	return append(append([]byte(nil), uuidKeyPrefix...), u.Bytes()...)
}

func nidKey(nid int32) []byte {
	key := make([]byte, len(nidKeyPrefix)+4)
	copy(key, nidKeyPrefix)
	binary.BigEndian.PutUint32(key[len(nidKeyPrefix):], uint32(nid))
	return key
}

func encodeNid(nid int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(nid))
	return b
}

// Put implements Store.Put.
func (s *LevelDBStore) Put(u uuid.UUID, nid int32, primordial bool) (err error) {
	kvs := []storage.KV{{Key: uuidKey(u), Value: encodeNid(nid)}}
	if primordial {
		kvs = append(kvs, storage.KV{Key: nidKey(nid), Value: u.Bytes()})
	}
	if err = s.st.SetValues(kvs); err != nil {
		err = errors.Wrapf(err, "persist identifier %s -> %d failed", u, nid)
	}
	return
}

// Load implements Store.Load. Primordial entries are reported after every uuid entry.
func (s *LevelDBStore) Load(fn func(u uuid.UUID, nid int32, primordial bool) error) (err error) {
	if err = s.st.Iterate(uuidKeyPrefix, func(key, value []byte) (err error) {
		if len(key) != len(uuidKeyPrefix)+uuid.Size || len(value) != 4 {
			return errors.Wrapf(ErrCorruptedTable, "uuid entry %x", key)
		}
		var u uuid.UUID
		copy(u[:], key[len(uuidKeyPrefix):])
		return fn(u, int32(binary.BigEndian.Uint32(value)), false)
	}); err != nil {
		return
	}
	return s.st.Iterate(nidKeyPrefix, func(key, value []byte) (err error) {
		if len(key) != len(nidKeyPrefix)+4 || len(value) != uuid.Size {
			return errors.Wrapf(ErrCorruptedTable, "nid entry %x", key)
		}
		var u uuid.UUID
		copy(u[:], value)
		return fn(u, int32(binary.BigEndian.Uint32(key[len(nidKeyPrefix):])), true)
	})
}
