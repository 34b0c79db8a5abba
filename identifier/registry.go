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

// Package identifier assigns the dense native identifiers (nids) of components.
//
// A component is named by one or more uuids. The first uuid registered for a nid is its
// primordial uuid, later ones are aliases added by Merge. Positive nids are assigned
// from 1 upward, bootstrap concepts take negative nids from -1 downward and 0 is never
// a valid nid. A nid is never reassigned.
//
// Lookups are lock free in the common case: the uuid table is an open addressed array
// of atomic slots guarded by a sequence counter. A reader snapshots the counter, probes,
// and retries under the read lock when a writer ran meanwhile. Writers are serialized by
// the lock and persist a mapping before publishing it.
package identifier

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/types"
	"github.com/logicahealth/komet-sub049/utils/log"
)

var (
	// ErrNilUUID indicates the nil uuid was used as a component identifier.
	ErrNilUUID = errors.New("nil uuid is not a component identifier")
	// ErrAlreadyMapped indicates the uuid already names another nid.
	ErrAlreadyMapped = errors.New("uuid already mapped to another nid")
	// ErrNidExhausted indicates the nid range is used up.
	ErrNidExhausted = errors.New("nid range exhausted")
)

// Registry is the process wide uuid <-> nid table.
type Registry struct {
	mu    sync.RWMutex
	seq   atomic.Uint64
	tab   atomic.Pointer[table]
	store Store

	positive reverse
	negative reverse
	aliases  map[int32][]uuid.UUID

	nextNid       int32
	nextBootstrap int32
	count         atomic.Int64
	maxNid        atomic.Int32
}

// NewRegistry loads the persisted table of store into a new registry. Any decode
// failure fails the whole registry.
func NewRegistry(store Store) (r *Registry, err error) {
	r = &Registry{
		store:         store,
		aliases:       make(map[int32][]uuid.UUID),
		nextNid:       1,
		nextBootstrap: -1,
	}
	r.tab.Store(newTable(minTableSize))

	mapped := make(map[uuid.UUID]int32)
	if err = store.Load(func(u uuid.UUID, nid int32, primordial bool) error {
		if nid == 0 {
			return errors.Wrapf(ErrCorruptedTable, "zero nid for %s", u)
		}
		if !primordial {
			mapped[u] = nid
			r.insert(u, nid)
			r.track(nid)
			return nil
		}
		if mapped[u] != nid {
			return errors.Wrapf(ErrCorruptedTable, "primordial %s of nid %d has no uuid entry", u, nid)
		}
		r.reverseOf(nid).set(index(nid), u)
		r.count.Add(1)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "load identifier table failed")
	}

	for u, nid := range mapped {
		p := r.reverseOf(nid).get(index(nid))
		if p == nil {
			return nil, errors.Wrapf(ErrCorruptedTable, "nid %d has no primordial uuid", nid)
		}
		if !uuid.Equal(*p, u) {
			r.aliases[nid] = append(r.aliases[nid], u)
		}
	}

	log.WithFields(log.Fields{
		"nids":      r.count.Load(),
		"max_nid":   r.maxNid.Load(),
		"bootstrap": -r.nextBootstrap - 1,
	}).Info("identifier table loaded")
	return
}

func index(nid int32) int32 {
	if nid < 0 {
		return -nid - 1
	}
	return nid
}

func (r *Registry) reverseOf(nid int32) *reverse {
	if nid < 0 {
		return &r.negative
	}
	return &r.positive
}

func (r *Registry) track(nid int32) {
	if nid > 0 && nid >= r.nextNid {
		r.nextNid = nid + 1
		r.maxNid.Store(nid)
	} else if nid < 0 && nid <= r.nextBootstrap {
		r.nextBootstrap = nid - 1
	}
}

// insert publishes a mapping, the caller holds the write lock.
func (r *Registry) insert(u uuid.UUID, nid int32) {
	r.seq.Add(1)
	t := r.tab.Load()
	if t.full() {
		t = t.grow()
		r.tab.Store(t)
	}
	hi, lo := split(u)
	t.insert(hi, lo, nid)
	r.seq.Add(1)
}

func (r *Registry) lookup(u uuid.UUID) (nid int32) {
	hi, lo := split(u)
	if v := r.seq.Load(); v&1 == 0 {
		nid = r.tab.Load().lookup(hi, lo)
		if r.seq.Load() == v {
			return
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tab.Load().lookup(hi, lo)
}

// GetNid returns the nid of u.
func (r *Registry) GetNid(u uuid.UUID) (nid int32, err error) {
	if nid = r.lookup(u); nid == 0 {
		err = errors.Wrapf(types.ErrUnknownIdentifier, "uuid %s", u)
	}
	return
}

// GetOrCreateNid returns the nid of u, assigning the next positive nid when u is new.
func (r *Registry) GetOrCreateNid(u uuid.UUID) (nid int32, err error) {
	return r.getOrCreate(u, false)
}

// RegisterBootstrap returns the nid of u, assigning the next negative nid when u is new.
func (r *Registry) RegisterBootstrap(u uuid.UUID) (nid int32, err error) {
	return r.getOrCreate(u, true)
}

func (r *Registry) getOrCreate(u uuid.UUID, bootstrap bool) (nid int32, err error) {
	if uuid.Equal(u, uuid.Nil) {
		return 0, ErrNilUUID
	}
	if nid = r.lookup(u); nid != 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hi, lo := split(u)
	if nid = r.tab.Load().lookup(hi, lo); nid != 0 {
		return
	}

	if bootstrap {
		if r.nextBootstrap == math.MinInt32 {
			return 0, ErrNidExhausted
		}
		nid = r.nextBootstrap
	} else {
		if r.nextNid == math.MaxInt32 {
			return 0, ErrNidExhausted
		}
		nid = r.nextNid
	}

	if err = r.store.Put(u, nid, true); err != nil {
		return 0, err
	}

	r.reverseOf(nid).set(index(nid), u)
	r.insert(u, nid)
	r.track(nid)
	r.count.Add(1)
	return
}

// GetUUID returns the primordial uuid of nid.
func (r *Registry) GetUUID(nid int32) (u uuid.UUID, err error) {
	if nid == 0 || nid == math.MinInt32 {
		err = errors.Wrapf(types.ErrUnknownIdentifier, "nid %d", nid)
		return
	}
	p := r.reverseOf(nid).get(index(nid))
	if p == nil {
		err = errors.Wrapf(types.ErrUnknownIdentifier, "nid %d", nid)
		return
	}
	return *p, nil
}

// UUIDs returns the primordial uuid of nid followed by its aliases.
func (r *Registry) UUIDs(nid int32) (uuids []uuid.UUID, err error) {
	var primordial uuid.UUID
	if primordial, err = r.GetUUID(nid); err != nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	uuids = append([]uuid.UUID{primordial}, r.aliases[nid]...)
	return
}

// Merge adds u as an alias of the existing nid. Merging a uuid onto the nid it already
// names is a no-op.
func (r *Registry) Merge(u uuid.UUID, nid int32) (err error) {
	if uuid.Equal(u, uuid.Nil) {
		return ErrNilUUID
	}
	if _, err = r.GetUUID(nid); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hi, lo := split(u)
	if existing := r.tab.Load().lookup(hi, lo); existing == nid {
		return nil
	} else if existing != 0 {
		return errors.Wrapf(ErrAlreadyMapped, "uuid %s is nid %d, not %d", u, existing, nid)
	}

	if err = r.store.Put(u, nid, false); err != nil {
		return
	}
	r.insert(u, nid)
	r.aliases[nid] = append(r.aliases[nid], u)
	return
}

// Count returns the number of assigned nids, bootstrap ones included.
func (r *Registry) Count() int64 {
	return r.count.Load()
}

// MaxNid returns the largest assigned positive nid, 0 when none is assigned.
func (r *Registry) MaxNid() int32 {
	return r.maxNid.Load()
}
