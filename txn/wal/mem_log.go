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
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// MemLog implements Log in memory.
type MemLog struct {
	sync.RWMutex
	records map[uint64]*Record
	order   []uint64
	cursor  int
	base    uint64
	pending map[uint64]bool
	closed  uint32
}

// NewMemLog returns an empty memory log.
func NewMemLog() (p *MemLog) {
	return &MemLog{
		records: make(map[uint64]*Record),
		pending: make(map[uint64]bool),
		base:    1,
	}
}

// Write implements Log.Write.
func (p *MemLog) Write(r *Record) (err error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		err = ErrLogClosed
		return
	}

	if r == nil || r.Sequence == 0 {
		err = ErrInvalidRecord
		return
	}

	p.Lock()
	defer p.Unlock()

	if _, exists := p.records[r.Sequence]; exists || r.Sequence < p.base {
		err = ErrAlreadyExists
		return
	}

	p.records[r.Sequence] = r
	i := sort.Search(len(p.order), func(i int) bool { return p.order[i] >= r.Sequence })
	p.order = append(p.order, 0)
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = r.Sequence

	p.pending[r.Sequence] = true
	for p.pending[p.base] {
		delete(p.pending, p.base)
		p.base++
	}
	return
}

// Read implements Log.Read.
func (p *MemLog) Read() (r *Record, err error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		err = ErrLogClosed
		return
	}

	p.Lock()
	defer p.Unlock()

	if p.cursor >= len(p.order) {
		p.cursor = 0
		err = io.EOF
		return
	}
	r = p.records[p.order[p.cursor]]
	p.cursor++
	return
}

// Get implements Log.Get.
func (p *MemLog) Get(seq uint64) (r *Record, err error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		err = ErrLogClosed
		return
	}

	p.RLock()
	defer p.RUnlock()

	var exists bool
	if r, exists = p.records[seq]; !exists {
		err = ErrNotExists
	}
	return
}

// Base implements Log.Base.
func (p *MemLog) Base() uint64 {
	p.RLock()
	defer p.RUnlock()
	return p.base
}

// Close implements Log.Close.
func (p *MemLog) Close() {
	atomic.CompareAndSwapUint32(&p.closed, 0, 1)
}
