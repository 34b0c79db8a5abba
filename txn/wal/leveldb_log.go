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

package wal

import (
	"encoding/binary"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/logicahealth/komet-sub049/utils"
)

var (
	// recordKeyPrefix defines the leveldb record key prefix.
	recordKeyPrefix = []byte{'L', 'R'}
	// baseIndexKey defines the base sequence key.
	baseIndexKey = []byte{'B', 'I'}
)

// LevelDBLog implements Log on a leveldb database.
type LevelDBLog struct {
	db          *leveldb.DB
	it          iterator.Iterator
	base        uint64
	closed      uint32
	readLock    sync.Mutex
	pending     []uint64
	pendingLock sync.Mutex
}

// NewLevelDBLog opens the commit log at filename.
func NewLevelDBLog(filename string) (p *LevelDBLog, err error) {
	p = &LevelDBLog{base: 1}
	if p.db, err = leveldb.OpenFile(filename, nil); err != nil {
		err = errors.Wrap(err, "open database failed")
		return
	}

	// load current base
	var baseValue []byte
	if baseValue, err = p.db.Get(baseIndexKey, nil); err == nil {
		p.base = bytesToUint64(baseValue)
	} else if err == leveldb.ErrNotFound {
		err = nil
	} else {
		p.db.Close()
		err = errors.Wrap(err, "load base sequence failed")
	}

	return
}

func recordKey(seq uint64) []byte {
	return append(append([]byte(nil), recordKeyPrefix...), uint64ToBytes(seq)...)
}

// Write implements Log.Write.
func (p *LevelDBLog) Write(r *Record) (err error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		err = ErrLogClosed
		return
	}

	if r == nil || r.Sequence == 0 {
		err = ErrInvalidRecord
		return
	}

	if r.Sequence < atomic.LoadUint64(&p.base) {
		err = ErrAlreadyExists
		return
	}

	key := recordKey(r.Sequence)
	if _, err = p.db.Get(key, nil); err != nil && err != leveldb.ErrNotFound {
		err = errors.Wrap(err, "access leveldb failed")
		return
	} else if err == nil {
		err = ErrAlreadyExists
		return
	}

	enc, err := utils.EncodeMsgPack(r)
	if err != nil {
		err = errors.Wrap(err, "encode commit record failed")
		return
	}
	if err = p.db.Put(key, enc.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		err = errors.Wrap(err, "write commit record failed")
		return
	}

	p.updatePending(r.Sequence)
	return
}

// Read implements Log.Read.
func (p *LevelDBLog) Read() (r *Record, err error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		err = ErrLogClosed
		return
	}

	p.readLock.Lock()
	defer p.readLock.Unlock()

	if p.it == nil {
		p.it = p.db.NewIterator(util.BytesPrefix(recordKeyPrefix), nil)
	}

	if p.it.Next() {
		return p.load(p.it.Value())
	}

	p.it.Release()
	if err = p.it.Error(); err == nil {
		err = io.EOF
	}
	p.it = nil
	return
}

// Get implements Log.Get.
func (p *LevelDBLog) Get(seq uint64) (r *Record, err error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		err = ErrLogClosed
		return
	}

	var data []byte
	if data, err = p.db.Get(recordKey(seq), nil); err == leveldb.ErrNotFound {
		err = ErrNotExists
		return
	} else if err != nil {
		err = errors.Wrap(err, "get commit record failed")
		return
	}

	return p.load(data)
}

// Base implements Log.Base.
func (p *LevelDBLog) Base() uint64 {
	return atomic.LoadUint64(&p.base)
}

// Close implements Log.Close.
func (p *LevelDBLog) Close() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}

	p.readLock.Lock()
	if p.it != nil {
		p.it.Release()
		p.it = nil
	}
	p.readLock.Unlock()

	if p.db != nil {
		p.db.Close()
	}
}

func (p *LevelDBLog) updatePending(seq uint64) {
	p.pendingLock.Lock()
	defer p.pendingLock.Unlock()

	if atomic.CompareAndSwapUint64(&p.base, seq, seq+1) {
		// process pending
		for len(p.pending) > 0 {
			if !atomic.CompareAndSwapUint64(&p.base, p.pending[0], p.pending[0]+1) {
				break
			}
			p.pending = p.pending[1:]
		}

		// commit base sequence to database
		_ = p.db.Put(baseIndexKey, uint64ToBytes(atomic.LoadUint64(&p.base)), nil)
	} else {
		i := sort.Search(len(p.pending), func(i int) bool {
			return p.pending[i] >= seq
		})

		if len(p.pending) == i || p.pending[i] != seq {
			p.pending = append(p.pending, 0)
			copy(p.pending[i+1:], p.pending[i:])
			p.pending[i] = seq
		}
	}
}

func (p *LevelDBLog) load(data []byte) (r *Record, err error) {
	r = new(Record)
	if err = utils.DecodeMsgPack(data, r); err != nil {
		err = errors.Wrap(err, "decode commit record failed")
	}
	return
}

func uint64ToBytes(o uint64) (res []byte) {
	res = make([]byte, 8)
	binary.BigEndian.PutUint64(res, o)
	return
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
