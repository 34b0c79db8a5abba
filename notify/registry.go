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

// Package notify delivers commit change notifications to registered listeners.
//
// A listener is registered with AddListener and unregistered by closing the returned
// subscription. A subscription dropped without Close is cleaned up once the garbage
// collector finalizes it, so a consumer that goes away without unregistering stops
// receiving notifications and is pruned on a later pass.
package notify

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/logicahealth/komet-sub049/utils/log"
)

// Listener receives the nids changed by a commit.
type Listener interface {
	Changed(sequence uint64, nids []int32)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(sequence uint64, nids []int32)

// Changed implements Listener.
func (f ListenerFunc) Changed(sequence uint64, nids []int32) {
	f(sequence, nids)
}

type entry struct {
	id       uint64
	listener Listener
	dead     atomic.Bool
}

// Subscription is the registration handle of a listener.
type Subscription struct {
	registry *Registry
	entry    *entry
	once     sync.Once
}

// Close unregisters the listener. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.entry.dead.Store(true)
		s.registry.remove(s.entry)
		runtime.SetFinalizer(s, nil)
	})
}

// Registry is the listener registry.
type Registry struct {
	lock    sync.Mutex
	entries []*entry
	nextID  uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddListener registers l until the returned subscription is closed or collected.
func (r *Registry) AddListener(l Listener) (s *Subscription) {
	r.lock.Lock()
	r.nextID++
	e := &entry{id: r.nextID, listener: l}
	r.entries = append(r.entries, e)
	r.lock.Unlock()

	s = &Subscription{registry: r, entry: e}
	runtime.SetFinalizer(s, func(s *Subscription) {
		// only mark, the registry lock may be held by the goroutine the collector stopped
		s.entry.dead.Store(true)
	})
	return
}

func (r *Registry) remove(e *entry) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of live listeners.
func (r *Registry) Len() (n int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, e := range r.entries {
		if !e.dead.Load() {
			n++
		}
	}
	return
}

// FireChanged calls every live listener on the calling goroutine. Entries found dead are
// pruned; a listener closed during the pass is skipped, a panicking listener is logged
// and does not stop the pass.
func (r *Registry) FireChanged(sequence uint64, nids []int32) {
	r.lock.Lock()
	live := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.dead.Load() {
			live = append(live, e)
		}
	}
	pruned := len(r.entries) - len(live)
	r.entries = live
	// listeners may add or close subscriptions, iterate a copy outside the lock
	snapshot := append([]*entry(nil), live...)
	r.lock.Unlock()

	if pruned > 0 {
		log.WithField("count", pruned).Debug("pruned collected listeners")
	}

	for _, e := range snapshot {
		if e.dead.Load() {
			continue
		}
		r.deliver(e, sequence, nids)
	}
}

func (r *Registry) deliver(e *entry, sequence uint64, nids []int32) {
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{
				"listener": e.id,
				"sequence": sequence,
				"panic":    p,
			}).Error("change listener panicked")
		}
	}()
	e.listener.Changed(sequence, nids)
}

// Indexer is a full text indexer kept current by commits.
type Indexer interface {
	IndexNow(nid int32)
}

// IndexerListener feeds every changed nid to an indexer.
type IndexerListener struct {
	Indexer Indexer
}

// Changed implements Listener.
func (l IndexerListener) Changed(_ uint64, nids []int32) {
	for _, nid := range nids {
		l.Indexer.IndexNow(nid)
	}
}
