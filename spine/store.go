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

// Package spine implements the sparse nid indexed record store.
//
// Nids map to fixed size spines: nid n lives in spine n/BlockSize at offset
// n%BlockSize, negative nids live in a separate directory with -n-1 as index. Every slot
// holds the append only record list of one chronology. Spines are created lazily in a
// concurrently growing directory and hydrated from the backend on first access.
//
// Under the FlushAndClear memory policy the number of resident spines is bounded by an
// LRU; the background flusher writes and clears spines that fall out of it.
package spine

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ivpusic/grpool"
	"github.com/pkg/errors"

	"github.com/logicahealth/komet-sub049/utils/log"
)

var (
	// ErrInvalidNid indicates nid 0, which never names a component.
	ErrInvalidNid = errors.New("invalid nid")
	// ErrCorruptedSpine indicates a persisted spine could not be decoded.
	ErrCorruptedSpine = errors.New("corrupted spine")
	// ErrStoreClosed indicates the store was closed.
	ErrStoreClosed = errors.New("spine store is closed")
)

func errCorruptedSize(key Key, got, want int) error {
	return errors.Wrapf(ErrCorruptedSpine, "spine %s has %d slots, block size is %d", key, got, want)
}

// MemoryPolicy selects what happens to spines once written.
type MemoryPolicy int

const (
	// HoldInMemory keeps every hydrated spine resident and flushes periodically.
	HoldInMemory MemoryPolicy = iota
	// FlushAndClear bounds the resident spines, the least recently used ones are
	// written and cleared. Used for bulk imports.
	FlushAndClear
)

func (p MemoryPolicy) String() string {
	if p == FlushAndClear {
		return "flush_and_clear"
	}
	return "hold_in_memory"
}

// ParseMemoryPolicy parses the configuration name of a policy.
func ParseMemoryPolicy(name string) (p MemoryPolicy, err error) {
	switch strings.ToLower(name) {
	case "", "hold", "hold_in_memory":
		return HoldInMemory, nil
	case "flush_and_clear", "flush":
		return FlushAndClear, nil
	default:
		return HoldInMemory, errors.Errorf("unknown memory policy %q", name)
	}
}

const (
	// DefaultBlockSize is the number of slots per spine.
	DefaultBlockSize = 1024
	// DefaultFlushInterval is the period of the background flusher.
	DefaultFlushInterval = 10 * time.Second
	// DefaultMaxResidentSpines bounds resident spines under FlushAndClear.
	DefaultMaxResidentSpines = 256
	// DefaultFlushWorkers is the number of parallel spine writers.
	DefaultFlushWorkers = 4

	dirChunkSize = 1 << 10
)

// Options configures a store.
type Options struct {
	BlockSize         int
	Policy            MemoryPolicy
	FlushInterval     time.Duration
	MaxResidentSpines int
	FlushWorkers      int
}

func (o *Options) normalize() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.MaxResidentSpines <= 0 {
		o.MaxResidentSpines = DefaultMaxResidentSpines
	}
	if o.FlushWorkers <= 0 {
		o.FlushWorkers = DefaultFlushWorkers
	}
}

type dirChunk [dirChunkSize]atomic.Pointer[Spine]

// directory is the lazily populated spine table of one nid sign. Chunks and spines are
// installed by CAS, the first writer wins.
type directory struct {
	negative bool
	chunks   []atomic.Pointer[dirChunk]
}

func newDirectory(negative bool, blockSize int) *directory {
	spines := (int64(1)<<31)/int64(blockSize) + 1
	return &directory{
		negative: negative,
		chunks:   make([]atomic.Pointer[dirChunk], (spines+dirChunkSize-1)/dirChunkSize),
	}
}

func (d *directory) get(index int32) *Spine {
	c := d.chunks[index/dirChunkSize].Load()
	if c == nil {
		return nil
	}
	return c[index%dirChunkSize].Load()
}

func (d *directory) getOrCreate(index int32) (s *Spine, created bool) {
	cp := &d.chunks[index/dirChunkSize]
	c := cp.Load()
	if c == nil {
		cp.CompareAndSwap(nil, new(dirChunk))
		c = cp.Load()
	}
	sp := &c[index%dirChunkSize]
	if s = sp.Load(); s != nil {
		return
	}
	fresh := newSpine(Key{Negative: d.negative, Index: index})
	if sp.CompareAndSwap(nil, fresh) {
		return fresh, true
	}
	return sp.Load(), false
}

func (d *directory) each(fn func(s *Spine)) {
	for i := range d.chunks {
		c := d.chunks[i].Load()
		if c == nil {
			continue
		}
		for j := range c {
			if s := c[j].Load(); s != nil {
				fn(s)
			}
		}
	}
}

// Store is the spine store.
type Store struct {
	opts     Options
	backend  Backend
	positive *directory
	negative *directory

	spines   atomic.Int64
	resident atomic.Int64

	lru     *lru.Cache
	evictCh chan *Spine

	poolMu sync.Mutex
	pool   *grpool.Pool

	// lifeMu orders background goroutine starts before Close waits on wg.
	lifeMu   sync.RWMutex
	closed   atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	flushErr atomic.Pointer[error]
}

// NewStore returns a store writing through backend and starts its flusher.
func NewStore(backend Backend, opts Options) (st *Store, err error) {
	opts.normalize()
	st = &Store{
		opts:     opts,
		backend:  backend,
		positive: newDirectory(false, opts.BlockSize),
		negative: newDirectory(true, opts.BlockSize),
		pool:     grpool.NewPool(opts.FlushWorkers, opts.FlushWorkers*2),
		stopCh:   make(chan struct{}),
	}

	if opts.Policy == FlushAndClear {
		st.evictCh = make(chan *Spine, opts.MaxResidentSpines)
		if st.lru, err = lru.NewWithEvict(opts.MaxResidentSpines, st.onEvicted); err != nil {
			st.pool.Release()
			return nil, errors.Wrap(err, "create residency cache failed")
		}
	}

	st.wg.Add(1)
	go st.flusher()

	log.WithFields(log.Fields{
		"block_size": opts.BlockSize,
		"policy":     opts.Policy,
		"interval":   opts.FlushInterval,
	}).Info("spine store started")
	return
}

// BlockSize returns the number of slots per spine.
func (st *Store) BlockSize() int {
	return st.opts.BlockSize
}

func (st *Store) locate(nid int32) (d *directory, index int32, offset int, err error) {
	if nid == 0 {
		err = ErrInvalidNid
		return
	}
	bs := int64(st.opts.BlockSize)
	n := int64(nid)
	d = st.positive
	if nid < 0 {
		d = st.negative
		n = -n - 1
	}
	return d, int32(n / bs), int(n % bs), nil
}

func (st *Store) spine(nid int32) (s *Spine, offset int, err error) {
	var (
		d     *directory
		index int32
	)
	if d, index, offset, err = st.locate(nid); err != nil {
		return
	}
	var created bool
	if s, created = d.getOrCreate(index); created {
		st.spines.Add(1)
	}
	return
}

func (st *Store) open(nid int32) (s *Spine, offset int, err error) {
	if st.closed.Load() {
		err = ErrStoreClosed
		return
	}
	if s, offset, err = st.spine(nid); err != nil {
		return
	}
	var hydrated bool
	if hydrated, err = s.acquire(st.backend, st.opts.BlockSize); err != nil {
		err = errors.WithMessagef(err, "hydrate spine of nid %d failed", nid)
		return
	}
	if hydrated {
		st.resident.Add(1)
	}
	return
}

// touch records an access for the residency policy. It runs after the pin is released,
// eviction callbacks never see a pinned spine of their own goroutine.
func (st *Store) touch(s *Spine) {
	if st.lru != nil && !st.closed.Load() {
		st.lru.Add(s.key, s)
	}
}

// Get returns the record list of nid. The returned slices are shared and must not be
// modified; appends never change them.
func (st *Store) Get(nid int32) (list [][]byte, err error) {
	s, offset, err := st.open(nid)
	if err != nil {
		return
	}
	list = s.get(offset)
	s.release()
	st.touch(s)
	return
}

// Put appends record to the record list of nid.
func (st *Store) Put(nid int32, record []byte) (err error) {
	s, offset, err := st.open(nid)
	if err != nil {
		return
	}
	s.append(offset, record)
	s.release()
	st.touch(s)
	return
}

// Flush writes the dirty spines holding nids.
func (st *Store) Flush(nids ...int32) (err error) {
	seen := make(map[*Spine]bool)
	var spines []*Spine
	for _, nid := range nids {
		d, index, _, err := st.locate(nid)
		if err != nil {
			return err
		}
		if s := d.get(index); s != nil && !seen[s] && s.Dirty() {
			seen[s] = true
			spines = append(spines, s)
		}
	}
	return st.flushSpines(spines)
}

// FlushAll writes every dirty spine.
func (st *Store) FlushAll() (err error) {
	var spines []*Spine
	collect := func(s *Spine) {
		if s.Dirty() {
			spines = append(spines, s)
		}
	}
	st.negative.each(collect)
	st.positive.each(collect)
	return st.flushSpines(spines)
}

func (st *Store) flushSpines(spines []*Spine) (err error) {
	if len(spines) == 0 {
		return
	}
	if len(spines) == 1 {
		_, err = spines[0].flush(st.backend)
		return
	}

	st.poolMu.Lock()
	defer st.poolMu.Unlock()

	var (
		errMu    sync.Mutex
		firstErr error
		written  int32
	)
	st.pool.WaitCount(len(spines))
	for _, s := range spines {
		s := s
		st.pool.JobQueue <- func() {
			defer st.pool.JobDone()
			ok, err := s.flush(st.backend)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			if ok {
				atomic.AddInt32(&written, 1)
			}
		}
	}
	st.pool.WaitAll()

	log.WithFields(log.Fields{"spines": len(spines), "written": written}).Debug("flushed spines")
	return firstErr
}

// Evict writes the spine of nid when dirty and clears it from memory.
func (st *Store) Evict(nid int32) (err error) {
	d, index, _, err := st.locate(nid)
	if err != nil {
		return
	}
	if s := d.get(index); s != nil {
		err = st.evict(s)
	}
	return
}

func (st *Store) evict(s *Spine) (err error) {
	cleared, err := s.evict(st.backend)
	if cleared {
		st.resident.Add(-1)
	}
	return
}

func (st *Store) onEvicted(_, value interface{}) {
	s := value.(*Spine)

	st.lifeMu.RLock()
	if st.closed.Load() {
		st.lifeMu.RUnlock()
		// Close flushes everything left dirty
		if err := st.evict(s); err != nil {
			st.recordFlushError(err)
		}
		return
	}
	select {
	case st.evictCh <- s:
	default:
		// flusher is behind, evict on a side goroutine rather than under the cache lock
		st.wg.Add(1)
		go func() {
			defer st.wg.Done()
			if err := st.evict(s); err != nil {
				st.recordFlushError(err)
			}
		}()
	}
	st.lifeMu.RUnlock()
}

func (st *Store) recordFlushError(err error) {
	st.flushErr.Store(&err)
	log.WithError(err).Error("background spine write failed")
}

// LastFlushError returns the last error of the background flusher, nil when none.
func (st *Store) LastFlushError() error {
	if p := st.flushErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (st *Store) flusher() {
	defer st.wg.Done()

	ticker := time.NewTicker(st.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stopCh:
			return
		case s := <-st.evictCh:
			if err := st.evict(s); err != nil {
				st.recordFlushError(err)
			}
		case <-ticker.C:
			if err := st.FlushAll(); err != nil {
				st.recordFlushError(err)
			}
		}
	}
}

// SizeOnDisk returns the aggregate bytes held by the backend.
func (st *Store) SizeOnDisk() (int64, error) {
	return st.backend.Size()
}

// SpineCount returns the number of spines in the directories.
func (st *Store) SpineCount() int {
	return int(st.spines.Load())
}

// ResidentCount returns the number of spines holding their data in memory.
func (st *Store) ResidentCount() int {
	return int(st.resident.Load())
}

// Close stops the flusher and writes every dirty spine.
func (st *Store) Close() (err error) {
	st.lifeMu.Lock()
	if !st.closed.CompareAndSwap(false, true) {
		st.lifeMu.Unlock()
		return
	}
	st.lifeMu.Unlock()
	close(st.stopCh)
	st.wg.Wait()

	if st.evictCh != nil {
	drain:
		for {
			select {
			case s := <-st.evictCh:
				if err = st.evict(s); err != nil {
					break drain
				}
			default:
				break drain
			}
		}
	}
	if err == nil {
		err = st.FlushAll()
	}
	st.pool.Release()

	if err != nil {
		log.WithError(err).Error("final spine flush failed")
	} else {
		log.WithField("spines", st.SpineCount()).Info("spine store closed")
	}
	return
}
