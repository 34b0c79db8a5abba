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

package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/logicahealth/komet-sub049/task"
	"github.com/logicahealth/komet-sub049/txn/wal"
	"github.com/logicahealth/komet-sub049/types"
	"github.com/logicahealth/komet-sub049/utils/log"
	"github.com/logicahealth/komet-sub049/utils/timer"
)

// State is the lifecycle state of a transaction.
type State int

const (
	// Open accepts new stamps and versions.
	Open State = iota
	// ReadyToCommit passed its checks; adding a version returns it to Open.
	ReadyToCommit
	// Committed made every version visible.
	Committed
	// Cancelled made every version permanently invisible.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case ReadyToCommit:
		return "ReadyToCommit"
	case Committed:
		return "Committed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func staleVersion(nid int32, owner uuid.UUID, reason string) error {
	return &types.StaleVersionError{Nid: nid, Transaction: owner, Reason: reason}
}

type pendingComponent struct {
	chron    *types.Chronology
	versions []types.Version
}

// Transaction groups stamps and versions committed or cancelled together.
type Transaction struct {
	id      uuid.UUID
	comment string
	created time.Time
	manager *Manager

	// commitLock serializes commit and cancel.
	commitLock sync.Mutex

	mu         sync.Mutex
	state      State
	committing bool
	stamps     []int32
	pending    map[int32]*pendingComponent
}

// ID returns the transaction id.
func (tx *Transaction) ID() uuid.UUID {
	return tx.id
}

// Comment returns the transaction comment.
func (tx *Transaction) Comment() string {
	return tx.comment
}

// State returns the current state.
func (tx *Transaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Nids returns the nids holding pending versions, ordered.
func (tx *Transaction) Nids() (nids []int32) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.nidsLocked()
}

func (tx *Transaction) nidsLocked() (nids []int32) {
	nids = make([]int32, 0, len(tx.pending))
	for nid := range tx.pending {
		nids = append(nids, nid)
	}
	sort.Slice(nids, func(i, j int) bool { return nids[i] < nids[j] })
	return
}

// Stamps returns the stamps created by the transaction.
func (tx *Transaction) Stamps() []int32 {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]int32(nil), tx.stamps...)
}

func (tx *Transaction) writable() error {
	if tx.state != Open && tx.state != ReadyToCommit {
		return errors.Wrapf(ErrNotOpen, "transaction %s is %s", tx.id, tx.state)
	}
	if tx.committing {
		return errors.Wrapf(ErrNotOpen, "transaction %s is committing", tx.id)
	}
	return nil
}

func (tx *Transaction) ownsStamp(seq int32) bool {
	for _, s := range tx.stamps {
		if s == seq {
			return true
		}
	}
	return false
}

// NewStamp creates an uncommitted stamp owned by the transaction.
func (tx *Transaction) NewStamp(status types.Status, author, module, path int32) (seq int32, err error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err = tx.writable(); err != nil {
		return
	}
	if seq, err = tx.manager.stamps.Intern(status, types.UncommittedTime, author, module, path); err != nil {
		return
	}
	tx.stamps = append(tx.stamps, seq)
	return
}

// AddVersion appends version to chron on behalf of the transaction. The version is
// written to the spine store at once and stays invisible until commit; it is also
// appended to chron.Versions. A nid pending in another open transaction, or committed
// since chron was read, fails with a StaleVersionError.
func (tx *Transaction) AddVersion(chron *types.Chronology, version types.Version) (err error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err = tx.writable(); err != nil {
		return
	}
	if !tx.ownsStamp(version.StampSequence) || !tx.manager.stamps.IsUncommitted(version.StampSequence) {
		return errors.Wrapf(ErrForeignStamp, "stamp %d on nid %d", version.StampSequence, chron.Nid)
	}

	m := tx.manager
	claimed, err := m.claim(tx, chron.Nid, chron.ReadMark)
	if err != nil {
		return
	}
	if err = tx.append(chron, version); err != nil {
		if claimed {
			m.releaseNid(tx, chron.Nid)
		}
		return
	}

	p := tx.pending[chron.Nid]
	if p == nil {
		p = &pendingComponent{chron: chron}
		tx.pending[chron.Nid] = p
	}
	p.versions = append(p.versions, version)
	chron.Versions = append(chron.Versions, version)
	if tx.state == ReadyToCommit {
		tx.state = Open
	}
	return
}

func (tx *Transaction) append(chron *types.Chronology, version types.Version) (err error) {
	spines := tx.manager.spines

	var record []byte
	if record, err = types.EncodeVersion(version); err != nil {
		return
	}

	var existing [][]byte
	if existing, err = spines.Get(chron.Nid); err != nil {
		return
	}
	if len(existing) == 0 {
		var header []byte
		if header, err = chron.EncodeHeader(); err != nil {
			return
		}
		if err = spines.Put(chron.Nid, header); err != nil {
			return
		}
	}

	return spines.Put(chron.Nid, record)
}

// ReadyToCommit runs checkers on every pending chronology. Alerts are collected from
// every checker; when one is fatal the transaction stays as it is and ready is false.
// The check stops early when ctx is done or tracker is cancelled.
func (tx *Transaction) ReadyToCommit(ctx context.Context, checkers []Checker, tracker *task.Tracker) (
	ready bool, alerts []Alert, err error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.check(ctx, checkers, tracker)
}

func (tx *Transaction) check(ctx context.Context, checkers []Checker, tracker *task.Tracker) (
	ready bool, alerts []Alert, err error) {
	if err = tx.writable(); err != nil {
		return
	}

	nids := tx.nidsLocked()
	tracker.AddTotal(int64(len(nids)))

	fatal := false
	for _, nid := range nids {
		if err = ctx.Err(); err != nil {
			return
		}
		if err = tracker.Check(); err != nil {
			return
		}
		p := tx.pending[nid]
		for _, c := range checkers {
			var found []Alert
			if found, err = c.Check(ctx, p.chron, p.versions); err != nil {
				err = errors.Wrapf(err, "checker %s on nid %d failed", c.Name(), nid)
				return
			}
			for _, a := range found {
				if a.Checker == "" {
					a.Checker = c.Name()
				}
				a.Nid = nid
				fatal = fatal || a.Fatal
				alerts = append(alerts, a)
			}
		}
		tracker.Completed(1)
	}

	if fatal {
		return
	}
	tx.state = ReadyToCommit
	return true, alerts, nil
}

// Commit makes every pending version visible. An open transaction first runs the
// checkers registered on the manager. Any failure cancels the transaction, none of its
// versions become visible and the caller has to start over.
func (tx *Transaction) Commit(ctx context.Context) (rec wal.Record, err error) {
	tx.commitLock.Lock()
	defer tx.commitLock.Unlock()

	m := tx.manager
	defer func() {
		if err != nil {
			m.commitFail.Mark(1)
		} else {
			m.commitSucc.Mark(1)
		}
	}()

	tx.mu.Lock()
	if err = tx.writable(); err != nil {
		tx.mu.Unlock()
		return
	}
	if tx.state == Open {
		var (
			ready  bool
			alerts []Alert
		)
		if ready, alerts, err = tx.check(ctx, m.Checkers(), nil); err == nil && !ready {
			err = &CheckError{Alerts: alerts}
		}
		if err != nil {
			tx.mu.Unlock()
			tx.abort(err)
			return
		}
	}
	nids := tx.nidsLocked()
	stamps := append([]int32(nil), tx.stamps...)
	tx.committing = true
	tx.mu.Unlock()

	sw := timer.Start()
	err = m.commit(tx, nids, stamps, &rec, sw)

	tx.mu.Lock()
	tx.committing = false
	if err == nil {
		tx.state = Committed
	}
	tx.mu.Unlock()
	if err != nil {
		tx.abort(err)
		return
	}
	m.finish(tx, nids, rec.Sequence)

	log.WithFields(log.Fields{
		"transaction": tx.id,
		"sequence":    rec.Sequence,
		"time":        rec.Time,
		"components":  len(nids),
	}).Info("transaction committed")
	log.WithFields(sw.Fields()).WithField("transaction", tx.id).Debug("commit stages")

	if m.notifier != nil {
		m.notifier.FireChanged(rec.Sequence, nids)
	}
	return
}

// commit runs the durable part of a commit: flush the spines, log the commit and then
// finalize the stamps, which publishes the versions.
func (m *Manager) commit(tx *Transaction, nids, stamps []int32, rec *wal.Record, sw *timer.Stopwatch) (err error) {
	commitTime := m.nextCommitTime()

	if err = m.spines.Flush(nids...); err != nil {
		return errors.WithMessage(err, "flush pending spines failed")
	}
	sw.Lap("flush")

	*rec = wal.Record{
		Sequence:      m.sequence.Add(1),
		Time:          commitTime,
		TransactionID: tx.id,
		Comment:       tx.comment,
		Nids:          nids,
	}
	if err = m.log.Write(rec); err != nil {
		return errors.WithMessage(err, "write commit record failed")
	}
	sw.Lap("log")

	if err = m.stamps.Finalize(stamps, commitTime); err != nil {
		log.WithError(err).WithField("sequence", rec.Sequence).Error("commit record written but stamps not finalized")
		return errors.WithMessage(err, "finalize stamps failed")
	}
	sw.Lap("finalize")
	return
}

func (tx *Transaction) abort(cause error) {
	if err := tx.cancel(); err != nil {
		log.WithError(err).WithField("transaction", tx.id).Error("cancel failed transaction failed")
	}
	log.WithError(cause).WithField("transaction", tx.id).Warning("commit failed, transaction cancelled")
}

// Cancel marks every stamp of the transaction cancelled and releases its nids. The
// versions stay in their chronologies and are never visible. Cancelling a cancelled
// transaction is a no-op.
func (tx *Transaction) Cancel() (err error) {
	tx.commitLock.Lock()
	defer tx.commitLock.Unlock()

	tx.mu.Lock()
	if tx.state == Cancelled {
		tx.mu.Unlock()
		return nil
	}
	if err = tx.writable(); err != nil {
		tx.mu.Unlock()
		return
	}
	tx.mu.Unlock()
	return tx.cancel()
}

func (tx *Transaction) cancel() (err error) {
	m := tx.manager

	tx.mu.Lock()
	var uncommitted []int32
	for _, seq := range tx.stamps {
		if m.stamps.IsUncommitted(seq) {
			uncommitted = append(uncommitted, seq)
		}
	}
	nids := tx.nidsLocked()
	tx.state = Cancelled
	tx.mu.Unlock()

	if len(uncommitted) > 0 {
		// a stamp left uncommitted by a failed persist stays invisible
		if err = m.stamps.Cancel(uncommitted); err != nil {
			err = errors.WithMessagef(err, "cancel stamps of transaction %s failed", tx.id)
		}
	}
	m.finish(tx, nids, 0)
	m.cancelled.Mark(1)
	return
}

// CommitTask is a commit running in the background.
type CommitTask struct {
	done chan struct{}
	rec  wal.Record
	err  error
}

// CommitAsync starts Commit on a new goroutine.
func (tx *Transaction) CommitAsync(ctx context.Context) (t *CommitTask) {
	t = &CommitTask{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.rec, t.err = tx.Commit(ctx)
	}()
	return
}

// Done is closed when the commit finished.
func (t *CommitTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the commit finished and returns its outcome.
func (t *CommitTask) Wait() (wal.Record, error) {
	<-t.done
	return t.rec, t.err
}
