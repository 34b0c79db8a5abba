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

package spine

import (
	"sync"
	"sync/atomic"
)

// records is the immutable record list of one slot. An append swaps in a new list.
type records struct {
	list [][]byte
}

// Spine is a fixed size block of slots. The spine object lives as long as the store,
// eviction only drops its slot data, which is read back from the backend on the next
// access.
type Spine struct {
	key Key

	// pin is read locked by every slot access and write locked by hydration and
	// eviction, which replace data.
	pin  sync.RWMutex
	data []atomic.Pointer[records]

	dirty   atomic.Bool
	flushMu sync.Mutex
}

func newSpine(key Key) *Spine {
	return &Spine{key: key}
}

// Key returns the spine key.
func (s *Spine) Key() Key {
	return s.key
}

// Dirty reports whether the spine holds appends not yet written to the backend.
func (s *Spine) Dirty() bool {
	return s.dirty.Load()
}

// acquire read locks the spine with its data resident, hydrating it from the backend
// when needed. hydrated reports whether this call loaded the data.
func (s *Spine) acquire(b Backend, blockSize int) (hydrated bool, err error) {
	for {
		s.pin.RLock()
		if s.data != nil {
			return
		}
		s.pin.RUnlock()

		s.pin.Lock()
		if s.data == nil {
			var slots Slots
			if slots, err = b.Read(s.key); err != nil {
				s.pin.Unlock()
				return
			}
			if slots != nil && len(slots) != blockSize {
				s.pin.Unlock()
				err = errCorruptedSize(s.key, len(slots), blockSize)
				return
			}
			data := make([]atomic.Pointer[records], blockSize)
			for i, list := range slots {
				if len(list) > 0 {
					data[i].Store(&records{list: list})
				}
			}
			s.data = data
			hydrated = true
		}
		s.pin.Unlock()
	}
}

func (s *Spine) release() {
	s.pin.RUnlock()
}

// get returns the record list of a slot, the caller holds the pin.
func (s *Spine) get(offset int) [][]byte {
	if r := s.data[offset].Load(); r != nil {
		return r.list
	}
	return nil
}

// append adds record to a slot, the caller holds the pin. Concurrent appends to one slot
// retry until their swap lands, none is lost and each reader sees a prefix of the
// final list.
func (s *Spine) append(offset int, record []byte) {
	slot := &s.data[offset]
	for {
		old := slot.Load()
		var list [][]byte
		if old != nil {
			list = make([][]byte, len(old.list), len(old.list)+1)
			copy(list, old.list)
		}
		list = append(list, record)
		if slot.CompareAndSwap(old, &records{list: list}) {
			break
		}
	}
	s.dirty.Store(true)
}

// snapshot returns the current slots, nil when the spine is not resident. The dirty
// flag is cleared first, so an append racing with the snapshot marks it dirty again.
func (s *Spine) snapshot() (slots Slots) {
	s.pin.RLock()
	defer s.pin.RUnlock()
	if s.data == nil {
		return
	}
	s.dirty.Store(false)
	slots = make(Slots, len(s.data))
	for i := range s.data {
		slots[i] = s.get(i)
	}
	return
}

// flush writes the spine through b when dirty. A failed write leaves it dirty.
func (s *Spine) flush(b Backend) (written bool, err error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if !s.dirty.Load() {
		return
	}
	slots := s.snapshot()
	if slots == nil {
		return
	}
	if err = b.Write(s.key, slots); err != nil {
		s.dirty.Store(true)
		return
	}
	return true, nil
}

// evict writes the spine when dirty and drops its data. cleared reports whether
// resident data was dropped.
func (s *Spine) evict(b Backend) (cleared bool, err error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.pin.Lock()
	defer s.pin.Unlock()

	if s.data == nil {
		return
	}
	if s.dirty.Load() {
		slots := make(Slots, len(s.data))
		for i := range s.data {
			slots[i] = s.get(i)
		}
		if err = b.Write(s.key, slots); err != nil {
			return
		}
		s.dirty.Store(false)
	}
	s.data = nil
	return true, nil
}
