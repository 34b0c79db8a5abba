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

// Package txn implements transactions over the spine store.
//
// A transaction creates uncommitted stamps and adds versions carrying them. Versions are
// appended to the spine store right away and stay invisible while their stamps are
// uncommitted. Commit gives every stamp of the transaction one commit time, so the
// components committed together are ordered together; cancel marks the stamps cancelled
// and the versions are never visible.
//
// Conflicts are detected per component: a nid holds pending versions of at most one
// open transaction, and a chronology committed after it was read cannot take new
// versions until it is read again.
package txn

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/notify"
	"github.com/logicahealth/komet-sub049/spine"
	"github.com/logicahealth/komet-sub049/stamp"
	"github.com/logicahealth/komet-sub049/txn/wal"
	"github.com/logicahealth/komet-sub049/utils/log"
)

// Clock returns the current time in epoch milliseconds.
type Clock func() int64

// SystemClock is the wall clock.
func SystemClock() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Manager creates and commits transactions.
type Manager struct {
	stamps   *stamp.Interner
	spines   *spine.Store
	log      wal.Log
	notifier *notify.Registry
	clock    Clock

	checkersLock sync.RWMutex
	checkers     []Checker

	mu         sync.Mutex
	open       map[uuid.UUID]*Transaction
	owners     map[int32]*Transaction
	lastCommit map[int32]uint64

	sequence atomic.Uint64
	lastTime atomic.Int64

	meters     metrics.Registry
	commitSucc metrics.Meter
	commitFail metrics.Meter
	cancelled  metrics.Meter
}

// NewManager returns a manager appending to spines and recording commits in log. The
// log is replayed to recover the commit marks and the last commit time.
func NewManager(stamps *stamp.Interner, spines *spine.Store, commitLog wal.Log, notifier *notify.Registry,
	clock Clock) (m *Manager, err error) {
	if clock == nil {
		clock = SystemClock
	}
	m = &Manager{
		stamps:     stamps,
		spines:     spines,
		log:        commitLog,
		notifier:   notifier,
		clock:      clock,
		open:       make(map[uuid.UUID]*Transaction),
		owners:     make(map[int32]*Transaction),
		lastCommit: make(map[int32]uint64),
		meters:     metrics.NewRegistry(),
	}
	m.commitSucc = metrics.GetOrRegisterMeter("txn-commit-succ", m.meters)
	m.commitFail = metrics.GetOrRegisterMeter("txn-commit-fail", m.meters)
	m.cancelled = metrics.GetOrRegisterMeter("txn-cancel", m.meters)
	if err = m.replay(); err != nil {
		return nil, err
	}
	return
}

func (m *Manager) replay() (err error) {
	var (
		r     *wal.Record
		count int
	)
	for {
		if r, err = m.log.Read(); err == io.EOF {
			err = nil
			break
		} else if err != nil {
			return
		}
		count++
		if r.Sequence > m.sequence.Load() {
			m.sequence.Store(r.Sequence)
		}
		if r.Time > m.lastTime.Load() {
			m.lastTime.Store(r.Time)
		}
		for _, nid := range r.Nids {
			if r.Sequence > m.lastCommit[nid] {
				m.lastCommit[nid] = r.Sequence
			}
		}
	}
	log.WithFields(log.Fields{
		"commits":   count,
		"sequence":  m.sequence.Load(),
		"last_time": m.lastTime.Load(),
	}).Info("commit log replayed")
	return
}

// RegisterChecker adds a checker run by every commit of a transaction not yet
// checked through ReadyToCommit.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkersLock.Lock()
	defer m.checkersLock.Unlock()
	m.checkers = append(m.checkers, c)
}

// Checkers returns the registered checkers.
func (m *Manager) Checkers() []Checker {
	m.checkersLock.RLock()
	defer m.checkersLock.RUnlock()
	return append([]Checker(nil), m.checkers...)
}

// NewTransaction opens a transaction.
func (m *Manager) NewTransaction(comment string) (tx *Transaction) {
	tx = &Transaction{
		id:      uuid.Must(uuid.NewV4()),
		comment: comment,
		created: time.Now(),
		manager: m,
		pending: make(map[int32]*pendingComponent),
	}
	m.mu.Lock()
	m.open[tx.id] = tx
	m.mu.Unlock()

	log.WithFields(log.Fields{"transaction": tx.id, "comment": comment}).Debug("transaction opened")
	return
}

// Open returns the open transactions, oldest first.
func (m *Manager) Open() (txs []*Transaction) {
	m.mu.Lock()
	for _, tx := range m.open {
		txs = append(txs, tx)
	}
	m.mu.Unlock()
	sort.Slice(txs, func(i, j int) bool { return txs[i].created.Before(txs[j].created) })
	return
}

// Reap cancels the open transactions created more than olderThan ago and returns how
// many it cancelled.
func (m *Manager) Reap(olderThan time.Duration) (n int) {
	deadline := time.Now().Add(-olderThan)
	for _, tx := range m.Open() {
		if !tx.created.Before(deadline) {
			continue
		}
		if err := tx.Cancel(); err != nil {
			log.WithError(err).WithField("transaction", tx.id).Warning("reap transaction failed")
			continue
		}
		n++
	}
	if n > 0 {
		log.WithField("count", n).Info("reaped abandoned transactions")
	}
	return
}

// CommitMark returns the sequence of the last commit that touched nid, 0 when none.
func (m *Manager) CommitMark(nid int32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCommit[nid]
}

// LastSequence returns the sequence of the last commit.
func (m *Manager) LastSequence() uint64 {
	return m.sequence.Load()
}

// LastCommitTime returns the time of the last commit.
func (m *Manager) LastCommitTime() int64 {
	return m.lastTime.Load()
}

// Meters returns the commit success, commit failure and cancel counts.
func (m *Manager) Meters() (succ, fail, cancelled int64) {
	return m.commitSucc.Count(), m.commitFail.Count(), m.cancelled.Count()
}

// MeterRegistry returns the registry holding the manager meters.
func (m *Manager) MeterRegistry() metrics.Registry {
	return m.meters
}

// nextCommitTime returns a time strictly after every earlier commit time.
func (m *Manager) nextCommitTime() int64 {
	for {
		last := m.lastTime.Load()
		now := m.clock()
		if now <= last {
			now = last + 1
		}
		if m.lastTime.CompareAndSwap(last, now) {
			return now
		}
	}
}

// claim makes tx the owner of nid, failing when another transaction owns it or the
// chronology was committed after readMark.
func (m *Manager) claim(tx *Transaction, nid int32, readMark uint64) (claimed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner := m.owners[nid]; owner != nil {
		if owner == tx {
			return false, nil
		}
		return false, staleVersion(nid, owner.id, "another transaction holds a pending version")
	}
	if mark := m.lastCommit[nid]; mark > readMark {
		return false, staleVersion(nid, tx.id, "committed after it was read")
	}
	m.owners[nid] = tx
	return true, nil
}

func (m *Manager) releaseNid(tx *Transaction, nid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[nid] == tx {
		delete(m.owners, nid)
	}
}

// finish releases every nid of tx and records commit marks when sequence is not zero.
func (m *Manager) finish(tx *Transaction, nids []int32, sequence uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nid := range nids {
		if m.owners[nid] == tx {
			delete(m.owners, nid)
		}
		if sequence != 0 {
			m.lastCommit[nid] = sequence
		}
	}
	delete(m.open, tx.id)
}
