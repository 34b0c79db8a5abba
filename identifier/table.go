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
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
)

const minTableSize = 1 << 10

// slot is one open-addressed entry. nid is stored last and read first, zero marks an
// empty slot.
type slot struct {
	hi  atomic.Uint64
	lo  atomic.Uint64
	nid atomic.Int32
}

type table struct {
	slots []slot
	mask  uint64
	used  int
}

func newTable(size int) *table {
	n := minTableSize
	for n < size {
		n <<= 1
	}
	return &table{slots: make([]slot, n), mask: uint64(n - 1)}
}

func split(u uuid.UUID) (hi, lo uint64) {
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(u[i])
		lo = lo<<8 | uint64(u[8+i])
	}
	return
}

// mix is the murmur3 64 bit finalizer; version 3 and 5 uuids are not uniformly spread.
func mix(hi, lo uint64) uint64 {
	h := hi ^ (lo * 0x9e3779b97f4a7c15)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// lookup probes for u. It may run concurrently with insert, the caller validates the
// result through the registry sequence counter.
func (t *table) lookup(hi, lo uint64) int32 {
	for i, n := mix(hi, lo)&t.mask, uint64(0); n <= t.mask; i, n = (i+1)&t.mask, n+1 {
		s := &t.slots[i]
		nid := s.nid.Load()
		if nid == 0 {
			return 0
		}
		if s.hi.Load() == hi && s.lo.Load() == lo {
			return nid
		}
	}
	return 0
}

// insert adds a mapping, the caller holds the registry write lock.
func (t *table) insert(hi, lo uint64, nid int32) {
	for i := mix(hi, lo) & t.mask; ; i = (i + 1) & t.mask {
		s := &t.slots[i]
		if s.nid.Load() == 0 {
			s.hi.Store(hi)
			s.lo.Store(lo)
			s.nid.Store(nid)
			t.used++
			return
		}
	}
}

func (t *table) full() bool {
	return t.used*2 >= len(t.slots)
}

func (t *table) grow() (g *table) {
	g = newTable(len(t.slots) * 2)
	for i := range t.slots {
		s := &t.slots[i]
		if nid := s.nid.Load(); nid != 0 {
			g.insert(s.hi.Load(), s.lo.Load(), nid)
		}
	}
	return
}

const (
	reverseChunkBits = 16
	reverseChunkSize = 1 << reverseChunkBits
	reverseChunks    = 1 << (31 - reverseChunkBits)
)

type reverseChunk [reverseChunkSize]atomic.Pointer[uuid.UUID]

// reverse maps a non negative index to the primordial uuid. Chunks are created on demand
// and never freed, so readers need no lock.
type reverse struct {
	chunks [reverseChunks]atomic.Pointer[reverseChunk]
}

func (r *reverse) get(idx int32) *uuid.UUID {
	c := r.chunks[idx>>reverseChunkBits].Load()
	if c == nil {
		return nil
	}
	return c[idx&(reverseChunkSize-1)].Load()
}

func (r *reverse) set(idx int32, u uuid.UUID) {
	cp := &r.chunks[idx>>reverseChunkBits]
	c := cp.Load()
	if c == nil {
		cp.CompareAndSwap(nil, new(reverseChunk))
		c = cp.Load()
	}
	c[idx&(reverseChunkSize-1)].Store(&u)
}
